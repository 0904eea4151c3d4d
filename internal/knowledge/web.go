package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"mvdan.cc/xurls/v2"
)

const maxPageBytes = 4 << 20

var (
	linkPattern = xurls.Strict()
	errNoText   = errors.New("page has no readable text")
)

// Article is the readable text of a web page.
type Article struct {
	URL         string
	Title       string
	Text        string
	PublishedAt *time.Time
}

// WebFetcher downloads pages and extracts the main article text.
type WebFetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewWebFetcher uses client for requests. A nil client gets a 20s timeout.
func NewWebFetcher(client *http.Client, logger *slog.Logger) *WebFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebFetcher{client: client, logger: logger}
}

// Fetch downloads rawURL and returns its article. Pages without readable
// text are an error.
func (f *WebFetcher) Fetch(ctx context.Context, rawURL string) (*Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
	}

	// Redirects (t.co and the like) resolve relative links against the final page.
	page := resp.Request.URL
	if page == nil {
		if page, err = url.Parse(rawURL); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
	parsed, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), page)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", rawURL, err)
	}
	text := strings.TrimSpace(parsed.TextContent)
	if text == "" {
		return nil, fmt.Errorf("extract %s: %w", rawURL, errNoText)
	}

	f.logger.Debug("article fetched", "url", page.String(), "title", parsed.Title, "length", len(text))
	return &Article{
		URL:         page.String(),
		Title:       strings.TrimSpace(parsed.Title),
		Text:        text,
		PublishedAt: parsed.PublishedTime,
	}, nil
}

// LinkedURLs returns the http(s) links in text, in order and without
// duplicates.
func LinkedURLs(text string) []string {
	var out []string
	for _, u := range linkPattern.FindAllString(text, -1) {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			continue
		}
		if !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}
