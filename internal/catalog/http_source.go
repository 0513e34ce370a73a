package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSource resolves main lessons from the content service's REST API.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource returns a Source backed by the content service at baseURL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type mainLessonResponse struct {
	Data struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		PriceCents int64  `json:"price_cents"`
		Currency   string `json:"currency"`
		Published  bool   `json:"published"`
	} `json:"data"`
}

// MainLesson fetches one lesson. Returns (nil, nil) on 404.
func (s *HTTPSource) MainLesson(ctx context.Context, id string) (*MainLesson, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/main-lessons/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog responded %d", resp.StatusCode)
	}

	var body mainLessonResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	return &MainLesson{
		ID:         body.Data.ID,
		Title:      body.Data.Title,
		PriceCents: body.Data.PriceCents,
		Currency:   body.Data.Currency,
		Published:  body.Data.Published,
	}, nil
}
