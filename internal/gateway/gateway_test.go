package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMSClientAvailable(t *testing.T) {
	assert.False(t, NewSMSClient("", "").Available())
	assert.True(t, NewSMSClient("https://sms.example.com/send", "key").Available())
}

func TestSMSClientSend(t *testing.T) {
	var got smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewSMSClient(srv.URL, "key")
	ok := c.Send(context.Background(), "0096551234567", "hello", "en", "BRAND", "survey-invite")

	assert.True(t, ok)
	assert.Equal(t, "0096551234567", got.To)
	assert.Equal(t, "hello", got.Message)
	assert.Equal(t, "BRAND", got.SenderID)
}

func TestSMSClientFailureModes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	assert.False(t, NewSMSClient(srv.URL, "").Send(context.Background(), "00965551", "x", "en", "", ""))
	assert.False(t, NewSMSClient("", "").Send(context.Background(), "00965551", "x", "en", "", ""))

	srv.Close()
	assert.False(t, NewSMSClient(srv.URL, "").Send(context.Background(), "00965551", "x", "en", "", ""))
}

func TestEmailClientSend(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "api-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"results": map[string]string{"id": "t-1"}})
	}))
	defer srv.Close()

	c := NewEmailClient("api-key", srv.URL)
	ok := c.Send(context.Background(), &Message{
		FromEmail: "surveys@example.com",
		To:        "maha@example.com",
		Subject:   "We'd love your feedback",
		HTML:      "<p>hi</p>",
	})

	require.True(t, ok)
	content := body["content"].(map[string]interface{})
	assert.Equal(t, "We'd love your feedback", content["subject"])
}

func TestEmailClientFailures(t *testing.T) {
	assert.False(t, NewEmailClient("", "").Send(context.Background(), &Message{To: "x@example.com"}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()
	assert.False(t, NewEmailClient("k", srv.URL).Send(context.Background(), &Message{To: "x@example.com"}))
}

func TestShortenerShortens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/s/nps?code=abc", req["long_url"])
		json.NewEncoder(w).Encode(map[string]string{"link": "https://bit.ly/xyz"})
	}))
	defer srv.Close()

	s := NewShortener("token", srv.URL)
	assert.Equal(t, "https://bit.ly/xyz", s.Shorten(context.Background(), "https://example.com/s/nps?code=abc"))
}

func TestShortenerFallsBackToOriginal(t *testing.T) {
	orig := "https://example.com/s/nps?code=abc"

	// no token configured
	assert.Equal(t, orig, NewShortener("", "").Shorten(context.Background(), orig))

	// API error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	assert.Equal(t, orig, NewShortener("t", srv.URL).Shorten(context.Background(), orig))

	// unexpected response shape
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"unexpected": true}`))
	}))
	defer srv2.Close()
	assert.Equal(t, orig, NewShortener("t", srv2.URL).Shorten(context.Background(), orig))

	// network failure
	srv.Close()
	assert.Equal(t, orig, NewShortener("t", srv.URL).Shorten(context.Background(), orig))
}
