package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MegaGrindStone/maya-chat/internal/models"
	"github.com/MegaGrindStone/maya-chat/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type llm interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

func collect(t *testing.T, l llm, messages []models.Message) ([]string, error) {
	t.Helper()
	var chunks []string
	for chunk, err := range l.Chat(context.Background(), messages) {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

var testConversation = []models.Message{
	{Role: models.RoleAssistant, Text: "Ba'ax ka wa'alik?"},
	{Role: models.RoleSystem, Text: "Could not clear the conversation"},
	{Role: models.RoleUser, Text: "buenos días"},
}

// requestBody captures the JSON body of the last request received by a test server.
type requestBody struct {
	mu   sync.Mutex
	path string
	body map[string]any
}

func (rb *requestBody) capture(t *testing.T, r *http.Request) {
	t.Helper()
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.path = r.URL.Path
	b, err := io.ReadAll(r.Body)
	if !assert.NoError(t, err) {
		return
	}
	assert.NoError(t, json.Unmarshal(b, &rb.body))
}

func (rb *requestBody) field(name string) any {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if name == "path" {
		return rb.path
	}
	return rb.body[name]
}

func (rb *requestBody) roles() []string {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var roles []string
	msgs, _ := rb.body["messages"].([]any)
	for _, m := range msgs {
		mm, _ := m.(map[string]any)
		role, _ := mm["role"].(string)
		roles = append(roles, role)
	}
	return roles
}

func TestAnthropicChat(t *testing.T) {
	var got requestBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.capture(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"Ma'alob\"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\" k'iin\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	temp := float32(0.2)
	a := services.NewAnthropic("key", srv.URL, "claude", "translate", 1024, services.LLMParameters{Temperature: &temp})

	chunks, err := collect(t, a, testConversation)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ma'alob", " k'iin"}, chunks)

	assert.Equal(t, "/messages", got.field("path"))
	assert.Equal(t, "translate", got.field("system"))
	assert.InDelta(t, 0.2, got.field("temperature"), 0.001)
	assert.Equal(t, []string{"assistant", "user"}, got.roles())
}

func TestAnthropicChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer srv.Close()

	a := services.NewAnthropic("key", srv.URL, "claude", "translate", 1024, services.LLMParameters{})

	_, err := collect(t, a, testConversation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
}

func TestOpenRouterChat(t *testing.T) {
	var got requestBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.capture(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"Ma'alob\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" k'iin\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	o := services.NewOpenRouter("key", srv.URL, "model", "translate", services.LLMParameters{}, testLogger())

	chunks, err := collect(t, o, testConversation)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ma'alob", " k'iin"}, chunks)
	assert.Equal(t, "/chat/completions", got.field("path"))
	assert.Equal(t, []string{"system", "assistant", "user"}, got.roles())
}

func TestOpenRouterChatBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no credits", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	o := services.NewOpenRouter("key", srv.URL, "model", "translate", services.LLMParameters{}, testLogger())

	_, err := collect(t, o, testConversation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}

func TestOpenAIChat(t *testing.T) {
	var got requestBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.capture(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Ma'alob\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" k'iin\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	o := services.NewOpenAI("key", srv.URL+"/v1", "gpt", "translate", services.LLMParameters{}, testLogger())

	chunks, err := collect(t, o, testConversation)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ma'alob", " k'iin"}, chunks)
	assert.Equal(t, "/v1/chat/completions", got.field("path"))
	assert.Equal(t, []string{"system", "assistant", "user"}, got.roles())
}

func TestOllamaChat(t *testing.T) {
	var got requestBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.capture(t, r)
		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []string{
			`{"model":"llama","message":{"role":"assistant","content":"Ma'alob"},"done":false}`,
			`{"model":"llama","message":{"role":"assistant","content":" k'iin"},"done":false}`,
			`{"model":"llama","message":{"role":"assistant","content":""},"done":true}`,
		}
		fmt.Fprint(w, strings.Join(lines, "\n")+"\n")
	}))
	defer srv.Close()

	temp := float32(0.2)
	o, err := services.NewOllama(srv.URL, "llama", "translate", services.LLMParameters{Temperature: &temp})
	require.NoError(t, err)

	chunks, err := collect(t, o, testConversation)
	require.NoError(t, err)
	assert.Equal(t, "Ma'alob k'iin", strings.Join(chunks, ""))
	assert.Equal(t, "/api/chat", got.field("path"))
	assert.Equal(t, []string{"system", "assistant", "user"}, got.roles())

	opts, _ := got.field("options").(map[string]any)
	assert.InDelta(t, 0.2, opts["temperature"], 0.001)
}
