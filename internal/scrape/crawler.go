package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gocolly/colly/v2"

	"github.com/stelwijs/stelwijs/internal/log"
)

// DefaultMaxPages bounds link discovery for a single crawl.
const DefaultMaxPages = 50

// Crawler discovers ingestable URLs on a site. It only collects links; the
// actual content fetching stays with the Acquirer so both paths share the
// same extraction rules.
type Crawler struct {
	maxDepth int
	logger   log.Logger
}

// NewCrawler creates a Crawler that follows links up to maxDepth hops from
// the root. Depth 0 means the root page only.
func NewCrawler(maxDepth int, logger log.Logger) *Crawler {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Crawler{maxDepth: maxDepth, logger: logger}
}

// Discover visits rootURL and returns up to maxPages same-host URLs in visit
// order, the root first. Fragments are stripped and duplicates collapsed;
// cross-host links are never followed.
func (c *Crawler) Discover(ctx context.Context, rootURL string, maxPages int) ([]string, error) {
	root, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("parsing root url: %w", err)
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(root.Hostname()),
		colly.MaxDepth(c.maxDepth+1), // colly counts the root as depth 1
		colly.UserAgent(userAgent),
	)
	collector.Context = ctx

	seen := make(map[string]bool)
	var pages []string

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || len(pages) >= maxPages {
			r.Abort()
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		u := canonicalURL(r.Request.URL)
		if seen[u] || len(pages) >= maxPages {
			return
		}
		seen[u] = true
		pages = append(pages, u)
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		u, err := url.Parse(link)
		if err != nil || u.Hostname() != root.Hostname() || !strings.HasPrefix(u.Scheme, "http") {
			return
		}
		u.Fragment = ""
		_ = e.Request.Visit(u.String())
	})

	if err := collector.Visit(rootURL); err != nil {
		return nil, fmt.Errorf("crawling %s: %w", rootURL, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.logger.Info("crawl finished", "root", rootURL, "pages", len(pages))
	return pages, nil
}

// canonicalURL strips the fragment and trailing slash so the same page is
// never discovered twice under different spellings.
func canonicalURL(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	s := clone.String()
	if strings.HasSuffix(clone.Path, "/") && clone.Path != "/" {
		s = strings.TrimSuffix(s, "/")
	}
	return s
}
