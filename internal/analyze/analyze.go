// Package analyze is the narrow client for the AI analysis
// collaborator. The sync engine treats every failure here as non-fatal:
// messages are persisted with neutral tags when analysis is down.
package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
)

// Analyzer tags one message.
type Analyzer interface {
	Analyze(ctx context.Context, msg *domain.EmailMessage) (domain.AnalysisTags, error)
}

// Client calls the analysis service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient points at the analysis service base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type analyzeRequest struct {
	Subject  string `json:"subject"`
	Sender   string `json:"sender"`
	BodyText string `json:"body_text"`
}

type analyzeResponse struct {
	Priority         string `json:"priority"`
	Urgent           bool   `json:"urgent"`
	Category         string `json:"category"`
	Sentiment        string `json:"sentiment"`
	RequiresResponse bool   `json:"requires_response"`
}

// Analyze posts the message content and maps the response onto tags.
func (c *Client) Analyze(ctx context.Context, msg *domain.EmailMessage) (domain.AnalysisTags, error) {
	body, err := json.Marshal(analyzeRequest{
		Subject:  msg.Subject,
		Sender:   msg.Sender,
		BodyText: msg.BodyText,
	})
	if err != nil {
		return domain.NeutralTags(), fmt.Errorf("encoding analyze request: %w", err)
	}

	url := c.baseURL + "/api/analyze/email"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.NeutralTags(), fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NeutralTags(), fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return domain.NeutralTags(), fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var result analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.NeutralTags(), fmt.Errorf("decode response: %w", err)
	}

	tags := domain.AnalysisTags{
		Priority:         domain.Priority(result.Priority),
		Urgent:           result.Urgent,
		Category:         result.Category,
		Sentiment:        result.Sentiment,
		RequiresResponse: result.RequiresResponse,
	}
	if tags.Priority == "" {
		tags.Priority = domain.PriorityNormal
	}
	if tags.Category == "" {
		tags.Category = "uncategorized"
	}
	if tags.Sentiment == "" {
		tags.Sentiment = "neutral"
	}
	return tags, nil
}
