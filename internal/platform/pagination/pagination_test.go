package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Limit: DefaultLimit, Offset: 0}},
		{"?limit=5&offset=10", Params{Limit: 5, Offset: 10}},
		{"?limit=1000", Params{Limit: MaxLimit, Offset: 0}},
		{"?limit=-3&offset=-2", Params{Limit: DefaultLimit, Offset: 0}},
		{"?limit=abc", Params{Limit: DefaultLimit, Offset: 0}},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/history"+tt.query, nil)
		assert.Equal(t, tt.want, FromRequest(r), tt.query)
	}
}

func TestParams_Window(t *testing.T) {
	p := Params{Limit: 3, Offset: 2}
	start, end := p.Window(4)
	assert.Equal(t, 2, start)
	assert.Equal(t, 4, end)
	assert.False(t, p.HasNext(4))
	assert.True(t, p.HasNext(6))

	start, end = Params{Limit: 3, Offset: 9}.Window(4)
	assert.Equal(t, 4, start)
	assert.Equal(t, 4, end)
}
