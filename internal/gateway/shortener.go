package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

// shortenTimeout bounds the shortening call. Shortening is cosmetic and must
// never block a send for long.
const shortenTimeout = 10 * time.Second

// Shortener shortens survey links through the Bitly v4 API. Every failure
// mode returns the input URL unchanged.
type Shortener struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewShortener creates a shortener. An empty token disables shortening.
// baseURL defaults to the Bitly v4 API when empty.
func NewShortener(token, baseURL string) *Shortener {
	if baseURL == "" {
		baseURL = "https://api-ssl.bitly.com/v4"
	}
	return &Shortener{
		token:   token,
		baseURL: baseURL,
		client:  &http.Client{Timeout: shortenTimeout},
	}
}

// Shorten returns a short link for longURL, or longURL itself on missing
// configuration, network error, or an unexpected response shape.
func (s *Shortener) Shorten(ctx context.Context, longURL string) string {
	if s.token == "" || longURL == "" {
		return longURL
	}

	payload, err := json.Marshal(map[string]string{"long_url": longURL})
	if err != nil {
		return longURL
	}

	ctx, cancel := context.WithTimeout(ctx, shortenTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/shorten", bytes.NewBuffer(payload))
	if err != nil {
		return longURL
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[Shortener] request failed, using original link: %v", err)
		return longURL
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("[Shortener] API error %d, using original link: %s", resp.StatusCode, string(body))
		return longURL
	}

	var result struct {
		Link string `json:"link"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.Link == "" {
		log.Printf("[Shortener] unexpected response shape, using original link")
		return longURL
	}
	return result.Link
}
