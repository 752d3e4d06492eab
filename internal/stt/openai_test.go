package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "clip.ogg", header.Filename)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":     "hello from the other side",
			"duration": 2.4,
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", "whisper-1", server.URL)

	tr, err := p.Transcribe(context.Background(), []byte("fake-ogg-bytes"), "clip.ogg")
	require.NoError(t, err)
	assert.Equal(t, "hello from the other side", tr.Text)
	assert.Equal(t, "openai-whisper", tr.Provider)
	assert.InDelta(t, 2400, tr.DurationMs, 1e-9)
}

func TestOpenAIProviderUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "engine overloaded", "type": "server_error"},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", "whisper-1", server.URL)

	_, err := p.Transcribe(context.Background(), []byte("audio"), "")
	require.Error(t, err)

	var sttErr *Error
	require.ErrorAs(t, err, &sttErr)
	assert.Equal(t, http.StatusServiceUnavailable, sttErr.Status)
	assert.Equal(t, "engine overloaded", sttErr.Message)
}

func TestOpenAIProviderContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", "whisper-1", server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Transcribe(ctx, []byte("audio"), "")
	require.ErrorIs(t, err, context.Canceled)
}
