package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/go-shiori/go-readability"
)

const (
	defaultMaxPageBytes = 2 << 20
	maxPromptTextRunes  = 6000
)

// PageContent is the readable part of a fetched page.
type PageContent struct {
	Title   string
	Excerpt string
	Text    string
	Image   string
}

// PageFetcher downloads a page and extracts its readable content.
type PageFetcher struct {
	client   *resty.Client
	maxBytes int64
}

// NewPageFetcher creates a page fetcher.
// maxBytes caps the downloaded body; zero uses 2 MiB.
func NewPageFetcher(timeout time.Duration, maxBytes int64, userAgent string) *PageFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxPageBytes
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &PageFetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads at most maxBytes of rawURL and runs readability extraction on it.
// The rest of the body is never read.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (*PageContent, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	raw := resp.RawBody()
	if raw == nil {
		return nil, fmt.Errorf("page returned no body")
	}
	defer raw.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("page returned HTTP %d", resp.StatusCode())
	}

	body, err := io.ReadAll(io.LimitReader(raw, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("page body is empty")
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	return &PageContent{
		Title:   strings.TrimSpace(article.Title),
		Excerpt: strings.TrimSpace(article.Excerpt),
		Text:    truncateRunes(collapseSpace(article.TextContent), maxPromptTextRunes),
		Image:   article.Image,
	}, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
