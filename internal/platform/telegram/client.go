package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.telegram.org"

type Client struct {
	Token      string
	apiURL     string
	httpClient *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		Token:  token,
		apiURL: defaultAPIURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithAPIURL points the client at another Bot API server.
func (c *Client) WithAPIURL(u string) *Client {
	c.apiURL = u
	return c
}

type sendMessageReq struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	jsonBody, err := json.Marshal(sendMessageReq{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.method("sendMessage"), bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "message")
}

// SendDocument uploads a file to the chat as multipart/form-data.
func (c *Client) SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName, caption string) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("document", fileName)
	if err != nil {
		return err
	}
	if _, err := part.Write(fileData); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.method("sendDocument"), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, "document")
}

func (c *Client) method(name string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.Token, name)
}

// APIError is a Bot API response with ok=false.
type APIError struct {
	Status      int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api: %d %s", e.Status, e.Description)
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (c *Client) do(req *http.Request, what string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram %s: %w", what, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body apiResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Description == "" {
		body.Description = strings.TrimSpace(string(raw))
	}
	return &APIError{Status: resp.StatusCode, Description: body.Description}
}
