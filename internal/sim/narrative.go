package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type SummaryStats struct {
	Bids       int
	FloorPrice float64
	Ceiling    float64
	Extensions int
	Duration   time.Duration
}

type SummaryRequest struct {
	Model  string
	APIKey string
}

// Summarize asks OpenAI for a short executive recap of a simulation run.
func Summarize(ctx context.Context, stats SummaryStats, req SummaryRequest) (string, error) {
	if req.APIKey == "" {
		return "", errors.New("missing API key")
	}
	if req.Model == "" {
		req.Model = "gpt-4o-mini"
	}
	payload := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a procurement analyst summarizing the outcome of a reverse auction."},
			{"role": "user", "content": fmt.Sprintf("Accepted bids: %d, ceiling price: %.2f, final L1 unit price: %.2f, deadline extensions: %d, window: %s. Provide a concise executive summary (max 3 sentences).", stats.Bids, stats.Ceiling, stats.FloorPrice, stats.Extensions, stats.Duration)},
		},
		"temperature": 0.2,
	}
	buf, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai error: %s", resp.Status)
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return out.Choices[0].Message.Content, nil
}
