package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/LindemannRock/survey-campaigns/internal/pkg/httpretry"
	"github.com/LindemannRock/survey-campaigns/internal/pkg/logger"
)

// Message is one rendered invitation email.
type Message struct {
	FromEmail string
	FromName  string
	To        string
	ReplyTo   string
	Subject   string
	HTML      string
	Text      string
}

// EmailClient delivers invitations through a transmissions-style mail API.
type EmailClient struct {
	apiKey  string
	baseURL string
	client  *httpretry.RetryClient
}

// NewEmailClient creates a mail client. baseURL defaults to the SparkPost
// v1 API when empty.
func NewEmailClient(apiKey, baseURL string) *EmailClient {
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	return &EmailClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 2),
	}
}

// Send delivers one email. Transport and API failures are logged and return
// false; the caller owns all bookkeeping.
func (c *EmailClient) Send(ctx context.Context, msg *Message) bool {
	if c.apiKey == "" {
		log.Printf("[Email] no API key configured, dropping send to %s", logger.RedactEmail(msg.To))
		return false
	}

	transmission := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"address": map[string]string{"email": msg.To}},
		},
		"content": map[string]interface{}{
			"from":     map[string]string{"email": msg.FromEmail, "name": msg.FromName},
			"reply_to": msg.ReplyTo,
			"subject":  msg.Subject,
			"html":     msg.HTML,
			"text":     msg.Text,
		},
	}

	jsonData, err := json.Marshal(transmission)
	if err != nil {
		log.Printf("[Email] marshal failed: %v", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/transmissions", bytes.NewBuffer(jsonData))
	if err != nil {
		log.Printf("[Email] build request failed: %v", err)
		return false
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("[Email] send to %s failed: %v", logger.RedactEmail(msg.To), err)
		return false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		log.Printf("[Email] API error %d sending to %s: %s",
			resp.StatusCode, logger.RedactEmail(msg.To), string(body))
		return false
	}

	var result struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	json.Unmarshal(body, &result)

	log.Printf("[Email] sent to %s (id: %s)", logger.RedactEmail(msg.To), result.Results.ID)
	return true
}
