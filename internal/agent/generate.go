package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

var ErrNoJSON = errors.New("no JSON object in model output")

type FallbackReason string

const (
	ReasonNone           FallbackReason = ""
	ReasonNotConfigured  FallbackReason = "not_configured"
	ReasonTimeout        FallbackReason = "timeout"
	ReasonProviderError  FallbackReason = "provider_error"
	ReasonNoJSON         FallbackReason = "no_json"
	ReasonInvalidJSON    FallbackReason = "invalid_json"
	ReasonInvalidPayload FallbackReason = "invalid_payload"
)

// Result is either a generated value or the fallback substituted for it.
// Fallback is the explicit marker; Value is always usable.
type Result[T any] struct {
	Value    T
	Fallback bool
	Reason   FallbackReason
	Model    string
	Duration time.Duration
}

// ExtractJSON returns the text between the first '{' and the last '}'.
// Code fences and prose around the object are dropped.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// Generate asks the model for a JSON object decoded into T. Any failure
// (provider error, timeout, unparseable output, or a value rejected by
// validate) yields fallback() with Fallback set. It never returns an error.
func Generate[T any](ctx context.Context, c Client, system, prompt string, fallback func() T, validate func(T) error) Result[T] {
	started := time.Now()
	log := zap.S().With("model", c.Model())

	res := Result[T]{Model: c.Model()}
	fail := func(reason FallbackReason, err error) Result[T] {
		log.Warnw("llm generation failed, using fallback", "reason", reason, "error", err)
		res.Value = fallback()
		res.Fallback = true
		res.Reason = reason
		res.Duration = time.Since(started)
		return res
	}

	text, err := c.Complete(ctx, system, prompt)
	switch {
	case errors.Is(err, ErrNotConfigured):
		return fail(ReasonNotConfigured, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fail(ReasonTimeout, err)
	case err != nil:
		return fail(ReasonProviderError, err)
	}

	raw, err := ExtractJSON(text)
	if err != nil {
		log.Debugw("unparseable model output", "output", truncate(text, 500))
		return fail(ReasonNoJSON, err)
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		log.Debugw("unparseable model output", "output", truncate(text, 500))
		return fail(ReasonInvalidJSON, fmt.Errorf("decode model output: %w", err))
	}
	if validate != nil {
		if err := validate(v); err != nil {
			return fail(ReasonInvalidPayload, err)
		}
	}

	res.Value = v
	res.Duration = time.Since(started)
	return res
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
