package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/curator/internal/domain"
	"github.com/timmy/curator/internal/logger"
	"github.com/timmy/curator/internal/metrics"
	"github.com/timmy/curator/internal/prompts"
)

// Analyzer produces catalog metadata suggestions for a URL.
type Analyzer interface {
	Analyze(ctx context.Context, url string) (*domain.ContentAnalysis, error)
}

// AnalysisService analyzes resources with an OpenAI-compatible chat model.
type AnalysisService struct {
	client   *resty.Client
	fetcher  *PageFetcher
	model    string
	endpoint string
}

// AnalysisConfig holds configuration for the analysis service.
type AnalysisConfig struct {
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

var _ Analyzer = (*AnalysisService)(nil)

// NewAnalysisService creates a new analysis service.
// Parameters:
//   - cfg: model, credentials and endpoint.
//   - fetcher: optional page fetcher; when nil the model only sees the URL.
//
// Returns:
//   - *AnalysisService: initialized client wrapper.
func NewAnalysisService(cfg *AnalysisConfig, fetcher *PageFetcher) *AnalysisService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &AnalysisService{
		client:   client,
		fetcher:  fetcher,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
	}
}

// GetModel returns the model name being used.
func (s *AnalysisService) GetModel() string {
	return s.model
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Analyze fetches the page behind url (best effort) and asks the model for metadata.
func (s *AnalysisService) Analyze(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
	var page PageContent
	if s.fetcher != nil {
		p, err := s.fetcher.Fetch(ctx, url)
		if err != nil {
			logger.CtxWarn(ctx, "Page fetch failed, analyzing from URL only: url=%s, error=%v", url, err)
		} else {
			page = *p
		}
	}

	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompts.AnalysisSystemPrompt},
			{Role: "user", Content: prompts.AnalysisUserPrompt(url, page.Title, page.Excerpt, page.Text)},
		},
		Temperature:    0.2,
		MaxTokens:      600,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	start := time.Now()
	content, err := s.complete(ctx, req)
	metrics.ObserveAnalysis(s.model, time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return nil, err
	}

	analysis, err := parseAnalysis(content)
	if err != nil {
		return nil, err
	}
	if analysis.OGImage == "" {
		analysis.OGImage = page.Image
	}
	return analysis, nil
}

func (s *AnalysisService) complete(ctx context.Context, req chatRequest) (string, error) {
	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to call analysis API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("analysis API returned error: %s", errorMsg)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("analysis API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in analysis response (status: %d)", httpResp.StatusCode())
	}
	return resp.Choices[0].Message.Content, nil
}

// parseAnalysis extracts the first JSON object from content and normalizes it.
func parseAnalysis(content string) (*domain.ContentAnalysis, error) {
	jsonStart := strings.Index(content, "{")
	if jsonStart == -1 {
		return nil, fmt.Errorf("no JSON found in analysis response")
	}

	depth := 0
	inString := false
	escaped := false
	jsonEnd := -1
findJSON:
	for i := jsonStart; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				jsonEnd = i + 1
				break findJSON
			}
		}
	}
	if jsonEnd == -1 {
		return nil, fmt.Errorf("incomplete JSON in analysis response")
	}

	var analysis domain.ContentAnalysis
	if err := json.Unmarshal([]byte(content[jsonStart:jsonEnd]), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse analysis JSON: %w", err)
	}
	return validateAnalysis(&analysis), nil
}

func validateAnalysis(a *domain.ContentAnalysis) *domain.ContentAnalysis {
	a.Cached = false

	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 1 {
		a.Confidence = 1
	}

	a.Difficulty = strings.ToLower(strings.TrimSpace(a.Difficulty))
	if !slices.Contains(prompts.Difficulties, a.Difficulty) {
		a.Difficulty = "intermediate"
	}
	if !slices.Contains(prompts.Categories, a.SuggestedCategory) {
		a.SuggestedCategory = "General"
	}

	tags := make([]string, 0, len(a.SuggestedTags))
	seen := make(map[string]bool, len(a.SuggestedTags))
	for _, tag := range a.SuggestedTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	if len(tags) > 8 {
		tags = tags[:8]
	}
	a.SuggestedTags = tags

	if a.KeyTopics == nil {
		a.KeyTopics = []string{}
	}
	return a
}
