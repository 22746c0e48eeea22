package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	text string
	err  error
}

func (s stubClient) Complete(context.Context, string, string) (string, error) { return s.text, s.err }
func (s stubClient) Model() string                                            { return "stub" }

type questions struct {
	Questions []string `json:"questions"`
}

func fallbackQuestions() questions {
	return questions{Questions: []string{"When did the symptoms start?"}}
}

func nonEmpty(q questions) error {
	if len(q.Questions) == 0 {
		return errors.New("no questions")
	}
	return nil
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "bare", in: `{"a":1}`, want: `{"a":1}`},
		{name: "code fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose around", in: "Here you go: {\"a\":{\"b\":2}} Hope this helps.", want: `{"a":{"b":2}}`},
		{name: "no object", in: "I'm sorry, I cannot help with that.", wantErr: true},
		{name: "closing before opening", in: "} oops {", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name       string
		client     Client
		wantReason FallbackReason
		want       []string
	}{
		{
			name:   "valid output",
			client: stubClient{text: "```json\n{\"questions\":[\"Any fever?\",\"Any cough?\"]}\n```"},
			want:   []string{"Any fever?", "Any cough?"},
		},
		{
			name:       "refusal text",
			client:     stubClient{text: "I'm sorry, I cannot..."},
			wantReason: ReasonNoJSON,
		},
		{
			name:       "broken json",
			client:     stubClient{text: `{"questions": ["a",}`},
			wantReason: ReasonInvalidJSON,
		},
		{
			name:       "rejected by validation",
			client:     stubClient{text: `{"questions": []}`},
			wantReason: ReasonInvalidPayload,
		},
		{
			name:       "provider error",
			client:     stubClient{err: errors.New("502 bad gateway")},
			wantReason: ReasonProviderError,
		},
		{
			name:       "timeout",
			client:     stubClient{err: fmt.Errorf("post: %w", context.DeadlineExceeded)},
			wantReason: ReasonTimeout,
		},
		{
			name:       "not configured",
			client:     NewClient(Config{}),
			wantReason: ReasonNotConfigured,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Generate(context.Background(), tt.client, "system", "prompt", fallbackQuestions, nonEmpty)
			if tt.wantReason == ReasonNone {
				assert.False(t, res.Fallback)
				assert.Equal(t, tt.want, res.Value.Questions)
				return
			}
			assert.True(t, res.Fallback)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, fallbackQuestions(), res.Value)
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	assert.Equal(t, DefaultModel, NewClient(Config{}).Model())
	assert.Equal(t, "gpt-4o-mini", NewClient(Config{APIKey: "k", Model: "gpt-4o-mini"}).Model())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "fiebre", 10, "fiebre"},
		{"ascii cut", "headache", 4, "head..."},
		{"cut inside rune", "dolor en el tórax", 14, "dolor en el t..."},
		{"cut after rune", "dolor en el tórax", 15, "dolor en el tó..."},
		{"leading multibyte", "ñandú", 1, "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
