// Package crawler walks a site breadth-first and extracts page text for
// indexing. It stays on the start domain, skips account/checkout style
// pages and bounds the walk by depth and page count.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Page is one crawled document.
type Page struct {
	URL     string
	Title   string
	Content string
}

// skipPatterns mark URLs that never carry documentation content.
var skipPatterns = []string{
	"login", "signin", "sign-in", "signup", "sign-up", "register",
	"cart", "checkout", "payment", "account", "profile",
	"logout", "signout", "auth", "password", "reset",
	"admin", "dashboard", "settings", "preferences",
}

// minContentLength drops navigation-only pages.
const minContentLength = 100

// Crawler fetches same-domain pages starting from a base URL.
type Crawler struct {
	base     *url.URL
	maxDepth int
	maxPages int
	delay    time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// Config configures a crawl.
type Config struct {
	BaseURL  string
	MaxDepth int // default 3
	MaxPages int // default 50
	Delay    time.Duration
	Timeout  time.Duration
}

// New creates a crawler for the given base URL.
func New(cfg Config, logger *slog.Logger) (*Crawler, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Delay == 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		base:     base,
		maxDepth: cfg.MaxDepth,
		maxPages: cfg.MaxPages,
		delay:    cfg.Delay,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}, nil
}

type target struct {
	url   string
	depth int
}

// Crawl walks the site breadth-first and returns every page with usable
// content. Fetch failures are logged and skipped; ctx cancellation
// stops the walk with whatever was collected so far.
func (c *Crawler) Crawl(ctx context.Context) ([]Page, error) {
	visited := map[string]bool{}
	queue := []target{{url: c.base.String(), depth: 0}}
	var pages []Page

	for len(queue) > 0 && len(pages) < c.maxPages {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		t := queue[0]
		queue = queue[1:]
		if visited[t.url] || t.depth > c.maxDepth {
			continue
		}
		visited[t.url] = true

		page, links, err := c.fetch(ctx, t.url)
		if err != nil {
			c.logger.Warn("failed to crawl page", "url", t.url, "error", err)
			continue
		}
		if len(page.Content) >= minContentLength {
			pages = append(pages, page)
			c.logger.Info("crawled page", "url", page.URL, "title", page.Title, "depth", t.depth)
		}

		for _, link := range links {
			if !visited[link] && c.isValidURL(link) {
				queue = append(queue, target{url: link, depth: t.depth + 1})
			}
		}

		if len(queue) > 0 {
			select {
			case <-ctx.Done():
				return pages, ctx.Err()
			case <-time.After(c.delay):
			}
		}
	}
	return pages, nil
}

// isValidURL accepts same-domain http(s) URLs that match no skip
// pattern.
func (c *Crawler) isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host != c.base.Host {
		return false
	}
	lower := strings.ToLower(raw)
	for _, pattern := range skipPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	return true
}

func (c *Crawler) fetch(ctx context.Context, pageURL string) (Page, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Page{}, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Page{}, nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Page{}, nil, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = pageURL
	}

	// Boilerplate elements carry no documentation content.
	doc.Find("script, style, nav, footer, header").Remove()
	content := extractText(doc)

	current, _ := url.Parse(pageURL)
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := current.ResolveReference(ref)
		resolved.Fragment = ""
		links = append(links, resolved.String())
	})

	return Page{URL: pageURL, Title: title, Content: content}, links, nil
}

// extractText flattens the document body to line-separated text.
func extractText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	var lines []string
	seen := map[string]bool{}
	body.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote, title").
		Each(func(_ int, sel *goquery.Selection) {
			text := strings.TrimSpace(sel.Text())
			if text == "" || seen[text] {
				return
			}
			seen[text] = true
			lines = append(lines, text)
		})
	if len(lines) == 0 {
		return strings.TrimSpace(body.Text())
	}
	return strings.Join(lines, "\n")
}
