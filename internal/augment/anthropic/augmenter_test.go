package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

func testSchema() crawler.Schema {
	return crawler.Schema{Fields: []crawler.FieldSchema{
		{Name: "name", Type: crawler.FieldString},
		{Name: "title", Type: crawler.FieldStringOpt},
		{Name: "email", Type: crawler.FieldEmailOpt},
		{Name: "office", Type: crawler.FieldStringOpt},
	}}
}

func messageServer(t *testing.T, text string, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if capture != nil {
			require.NoError(t, json.Unmarshal(body, capture))
		}
		reply, err := json.Marshal(text)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"test",`+
			`"content":[{"type":"text","text":`+string(reply)+`}],`+
			`"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":5}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	assert.False(t, New(Config{}, nil).Available())
	assert.False(t, New(Config{APIKey: "  "}, nil).Available())
	assert.True(t, New(Config{APIKey: "key"}, nil).Available())

	var nilAug *Augmenter
	assert.False(t, nilAug.Available())
}

func TestAugmentUnavailableIsNoop(t *testing.T) {
	t.Parallel()

	rec, err := New(Config{}, nil).Augment(context.Background(), "text", "https://x", testSchema(), nil)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAugmentParsesFencedReply(t *testing.T) {
	t.Parallel()

	var req map[string]any
	srv := messageServer(t, "Here you go:\n```json\n{\"name\":\"Ada Lovelace\",\"title\":\"Professor\",\"email\":\"\",\"office\":214,\"extra\":\"x\"}\n```", &req)
	aug := New(Config{APIKey: "key", BaseURL: srv.URL, Model: "test-model", MaxRetries: 0}, nil)

	rec, err := aug.Augment(context.Background(), "Ada Lovelace, Professor. Office 214.", "https://uni.edu/p/ada",
		testSchema(), crawler.Record{"name": "Ada Lovelace"})
	require.NoError(t, err)
	assert.Equal(t, crawler.Record{"name": "Ada Lovelace", "title": "Professor", "office": "214"}, rec)

	assert.Equal(t, "test-model", req["model"])
	assert.EqualValues(t, 0, req["temperature"])
	assert.EqualValues(t, defaultMaxTokens, req["max_tokens"])
}

func TestAugmentMalformedReply(t *testing.T) {
	t.Parallel()

	srv := messageServer(t, "I could not find a person on this page.", nil)
	aug := New(Config{APIKey: "key", BaseURL: srv.URL, MaxRetries: 0}, nil)

	rec, err := aug.Augment(context.Background(), "nothing", "https://uni.edu/p/x", testSchema(), nil)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAugmentAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	defer srv.Close()
	aug := New(Config{APIKey: "key", BaseURL: srv.URL, MaxRetries: 0}, nil)

	rec, err := aug.Augment(context.Background(), "text", "https://uni.edu/p/x", testSchema(), nil)
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.Contains(t, err.Error(), "https://uni.edu/p/x")
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", maxPromptText+100)
	prompt, err := BuildPrompt(long, testSchema(), crawler.Record{"name": "Ada", "title": " "})
	require.NoError(t, err)
	assert.Contains(t, prompt, `"name": "str"`)
	assert.Contains(t, prompt, "ALREADY KNOWN:\nname: Ada\n")
	assert.NotContains(t, prompt, "title: ")
	assert.Equal(t, maxPromptText, strings.Count(prompt, "é"))
}

func TestParseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		want    crawler.Record
		wantErr bool
	}{
		{"plain", `{"name":"Ada"}`, crawler.Record{"name": "Ada"}, false},
		{"bare fence", "```\n{\"name\":\"Ada\"}\n```", crawler.Record{"name": "Ada"}, false},
		{"non-string values", `{"name":"Ada","office":2.5,"title":true}`,
			crawler.Record{"name": "Ada", "office": "2.5", "title": "true"}, false},
		{"null dropped", `{"name":null,"title":"Dean"}`, crawler.Record{"title": "Dean"}, false},
		{"empty", "   ", nil, true},
		{"array", `["Ada"]`, nil, true},
		{"prose", "no json here", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseReply(tt.reply, testSchema())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
