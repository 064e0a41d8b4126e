package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/LindemannRock/survey-campaigns/internal/pkg/logger"
)

// SMSClient delivers invitation SMS through an HTTP JSON gateway.
type SMSClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewSMSClient creates an SMS client for the given gateway endpoint.
func NewSMSClient(endpoint, apiKey string) *SMSClient {
	return &SMSClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Available reports whether the gateway is configured. Callers probe this
// before attempting a send; an absent gateway means immediate failure, not
// an error.
func (c *SMSClient) Available() bool {
	return c.endpoint != ""
}

type smsRequest struct {
	To       string `json:"to"`
	Message  string `json:"message"`
	Language string `json:"language,omitempty"`
	SenderID string `json:"sender_id,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Send delivers one SMS. Any transport or gateway failure is logged and
// returns false.
func (c *SMSClient) Send(ctx context.Context, to, message, language, senderID, sourceTag string) bool {
	if !c.Available() {
		log.Printf("[SMS] gateway not configured, dropping send to %s", logger.RedactPhone(to))
		return false
	}

	payload, err := json.Marshal(smsRequest{
		To:       to,
		Message:  message,
		Language: language,
		SenderID: senderID,
		Source:   sourceTag,
	})
	if err != nil {
		log.Printf("[SMS] marshal failed: %v", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		log.Printf("[SMS] build request failed: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("[SMS] send to %s failed: %v", logger.RedactPhone(to), err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("[SMS] gateway error %d sending to %s: %s",
			resp.StatusCode, logger.RedactPhone(to), string(body))
		return false
	}

	log.Printf("[SMS] sent to %s", logger.RedactPhone(to))
	return true
}
