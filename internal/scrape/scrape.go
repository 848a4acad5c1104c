// Package scrape turns a source URL into normalized text ready for chunking.
//
// Acquisition has two paths: a managed scraping service that returns clean
// markdown (primary), and a local readability extraction over raw HTML
// (fallback). Both are pure transformations of network content; nothing is
// persisted here.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/stelwijs/stelwijs/internal/log"
	"github.com/stelwijs/stelwijs/internal/retry"
)

const (
	// defaultTimeout bounds a single fetch, service or direct.
	defaultTimeout = 30 * time.Second

	// maxResponseSize caps direct HTML downloads (resource exhaustion guard).
	maxResponseSize = 10 * 1024 * 1024

	// userAgent identifies the crawler to origin servers.
	userAgent = "stelwijs/1.0 (+https://github.com/stelwijs/stelwijs)"
)

// Page is the acquired content for one source URL.
type Page struct {
	Title     string
	Text      string // normalized markdown / plain text
	SourceURL string
}

// AcquisitionError reports a failed acquisition for one URL. Callers treat it
// as retryable-but-skippable: a batch continues past it.
type AcquisitionError struct {
	URL string
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquiring %s: %v", e.URL, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Config configures the Acquirer.
type Config struct {
	// ServiceURL is the base URL of a Firecrawl-compatible scraping service.
	// Empty disables the primary path; acquisition then goes straight to the
	// readability fallback.
	ServiceURL string

	// APIKey authenticates against the scraping service.
	APIKey string

	// Timeout bounds each fetch attempt. Zero means defaultTimeout.
	Timeout time.Duration
}

// Acquirer fetches and normalizes web content.
type Acquirer struct {
	cfg    Config
	client *http.Client
	policy retry.Policy
	logger log.Logger
}

// New creates an Acquirer. logger must not be nil.
func New(cfg Config, logger log.Logger) *Acquirer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Acquirer{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		policy: retry.Policy{MaxRetries: 2, InitialInterval: 300 * time.Millisecond, MaxInterval: 3 * time.Second},
		logger: logger,
	}
}

// Acquire fetches rawURL and returns its normalized content. The scraping
// service is tried first when configured; any failure or empty result falls
// back to direct fetching with readability extraction. When every path comes
// up empty, an *AcquisitionError is returned.
func (a *Acquirer) Acquire(ctx context.Context, rawURL string) (*Page, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, &AcquisitionError{URL: rawURL, Err: fmt.Errorf("invalid url: %w", err)}
	}

	if a.cfg.ServiceURL != "" {
		page, err := a.scrapeWithService(ctx, rawURL)
		if err == nil && page.Text != "" {
			return page, nil
		}
		if err != nil {
			a.logger.Warn("scraping service failed, falling back to direct fetch",
				"url", rawURL, "error", err)
		} else {
			a.logger.Debug("scraping service returned empty content, falling back",
				"url", rawURL)
		}
	}

	page, err := a.scrapeDirect(ctx, rawURL)
	if err != nil {
		return nil, &AcquisitionError{URL: rawURL, Err: err}
	}
	if page.Text == "" {
		return nil, &AcquisitionError{URL: rawURL, Err: fmt.Errorf("no extractable content")}
	}
	return page, nil
}

// serviceRequest is the scrape request for a Firecrawl-compatible service.
type serviceRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

// serviceResponse is the subset of the service response we consume.
type serviceResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title string `json:"title"`
		} `json:"metadata"`
	} `json:"data"`
	Error string `json:"error"`
}

// scrapeWithService asks the managed service for markdown with boilerplate
// stripped. Transient failures are retried; the caller decides what to do
// with a final failure.
func (a *Acquirer) scrapeWithService(ctx context.Context, rawURL string) (*Page, error) {
	body, err := json.Marshal(serviceRequest{
		URL:             rawURL,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling scrape request: %w", err)
	}

	endpoint := strings.TrimSuffix(a.cfg.ServiceURL, "/") + "/v1/scrape"

	resp, err := retry.Do(ctx, a.policy, func(ctx context.Context) (*serviceResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if a.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
		}

		httpResp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("scrape request: %w", err)
		}
		defer func() { _ = httpResp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("reading scrape response: %w", err)
		}
		if httpResp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("scrape service returned %d: %s", httpResp.StatusCode, truncateForError(data))
		}

		var sr serviceResponse
		if err := json.Unmarshal(data, &sr); err != nil {
			return nil, fmt.Errorf("decoding scrape response: %w", err)
		}
		if !sr.Success {
			return nil, fmt.Errorf("scrape service error: %s", sr.Error)
		}
		return &sr, nil
	})
	if err != nil {
		return nil, err
	}

	title := resp.Data.Metadata.Title
	if title == "" {
		title = titleFromURL(rawURL)
	}

	return &Page{
		Title:     title,
		Text:      strings.TrimSpace(resp.Data.Markdown),
		SourceURL: rawURL,
	}, nil
}

// scrapeDirect fetches raw HTML and extracts the main content locally:
// readability first, then a bare <body> text pass when readability finds
// nothing.
func (a *Acquirer) scrapeDirect(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	htmlData, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading page: %w", err)
	}

	parsedURL, _ := url.Parse(rawURL)

	article, err := readability.FromReader(bytes.NewReader(htmlData), parsedURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		title := strings.TrimSpace(article.Title)
		if title == "" {
			title = titleFromURL(rawURL)
		}
		return &Page{
			Title:     title,
			Text:      normalizeWhitespace(article.TextContent),
			SourceURL: rawURL,
		}, nil
	}

	return a.extractBodyText(htmlData, rawURL)
}

// extractBodyText is the last-resort extraction: strip obvious boilerplate
// elements and take the remaining <body> text.
func (a *Acquirer) extractBodyText(htmlData []byte, rawURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlData))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = titleFromURL(rawURL)
	}

	doc.Find("script, style, nav, footer, header, aside, noscript, iframe").Remove()
	text := normalizeWhitespace(doc.Find("body").Text())

	return &Page{
		Title:     title,
		Text:      text,
		SourceURL: rawURL,
	}, nil
}

// titleFromURL humanizes the last path segment of a URL into a title.
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		if err == nil && u.Host != "" {
			return u.Host
		}
		return rawURL
	}

	segment := path.Base(strings.TrimSuffix(u.Path, "/"))
	if ext := path.Ext(segment); ext != "" {
		segment = strings.TrimSuffix(segment, ext)
	}
	segment = strings.NewReplacer("-", " ", "_", " ").Replace(segment)
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return u.Host
	}

	// Capitalize the first rune only; the rest stays as-written.
	runes := []rune(segment)
	if runes[0] >= 'a' && runes[0] <= 'z' {
		runes[0] = runes[0] - 'a' + 'A'
	}
	return string(runes)
}

// normalizeWhitespace collapses runs of blank lines and trims each line, so
// extracted text chunks cleanly.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateForError(data []byte) string {
	const max = 200
	s := string(data)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
