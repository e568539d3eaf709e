package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// page builds an HTML page with enough body text to pass the content
// threshold.
func page(title, body string, links ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", title)
	fmt.Fprintf(&b, "<p>%s %s</p>", body, strings.Repeat("Documentation filler sentence. ", 5))
	for _, link := range links {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, link)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newSite(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, html := range routes {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(html))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func crawl(t *testing.T, srv *httptest.Server, cfg Config) []Page {
	t.Helper()
	cfg.BaseURL = srv.URL
	cfg.Delay = time.Millisecond
	c, err := New(cfg, testLogger())
	require.NoError(t, err)
	pages, err := c.Crawl(context.Background())
	require.NoError(t, err)
	return pages
}

func titles(pages []Page) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.Title
	}
	return out
}

func TestCrawlFollowsSameDomainLinks(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/":      page("Home", "Welcome to the docs.", "/guide", "/faq"),
		"/guide": page("Guide", "How to use the product."),
		"/faq":   page("FAQ", "Frequently asked questions."),
	})

	pages := crawl(t, srv, Config{})
	assert.ElementsMatch(t, []string{"Home", "Guide", "FAQ"}, titles(pages))
	assert.Equal(t, "Home", pages[0].Title, "breadth-first starts at the root")
}

func TestCrawlSkipsAccountPages(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/":      page("Home", "Welcome.", "/guide", "/login", "/cart/view"),
		"/guide": page("Guide", "Usage guide."),
		"/login": page("Login", "Sign in to your account."),
	})

	pages := crawl(t, srv, Config{})
	assert.ElementsMatch(t, []string{"Home", "Guide"}, titles(pages))
}

func TestCrawlStaysOnDomain(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/":      page("Home", "Welcome.", "https://elsewhere.example.com/docs", "/guide"),
		"/guide": page("Guide", "Usage guide."),
	})

	pages := crawl(t, srv, Config{})
	assert.ElementsMatch(t, []string{"Home", "Guide"}, titles(pages))
}

func TestCrawlHonorsMaxPages(t *testing.T) {
	routes := map[string]string{
		"/": page("Home", "Welcome.", "/p1", "/p2", "/p3", "/p4"),
	}
	for i := 1; i <= 4; i++ {
		routes[fmt.Sprintf("/p%d", i)] = page(fmt.Sprintf("Page %d", i), "Some content.")
	}
	srv := newSite(t, routes)

	pages := crawl(t, srv, Config{MaxPages: 2})
	assert.Len(t, pages, 2)
}

func TestCrawlHonorsMaxDepth(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/":      page("Home", "Welcome.", "/deep1"),
		"/deep1": page("Deep 1", "First level.", "/deep2"),
		"/deep2": page("Deep 2", "Second level, out of reach."),
	})

	pages := crawl(t, srv, Config{MaxDepth: 1})
	assert.ElementsMatch(t, []string{"Home", "Deep 1"}, titles(pages))
}

func TestCrawlDropsThinPagesButFollowsTheirLinks(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/":    page("Home", "Welcome.", "/hub"),
		"/hub": `<html><head><title>Hub</title></head><body><a href="/doc">doc</a></body></html>`,
		"/doc": page("Doc", "Real article text."),
	})

	pages := crawl(t, srv, Config{})
	assert.ElementsMatch(t, []string{"Home", "Doc"}, titles(pages))
}

func TestCrawlSkipsFailedFetches(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page("Home", "Welcome.", "/missing", "/guide")))
	})
	mux.HandleFunc("/guide", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page("Guide", "Usage guide.")))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	pages := crawl(t, srv, Config{})
	assert.ElementsMatch(t, []string{"Home", "Guide"}, titles(pages))
}

func TestCrawlStripsBoilerplate(t *testing.T) {
	html := `<html><head><title>Clean</title></head><body>
		<nav><p>navigation menu entries</p></nav>
		<p>` + strings.Repeat("Actual article content here. ", 5) + `</p>
		<footer><p>copyright footer line</p></footer>
		<script>var tracking = true;</script>
	</body></html>`
	srv := newSite(t, map[string]string{"/": html})

	pages := crawl(t, srv, Config{})
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0].Content, "Actual article content here.")
	assert.NotContains(t, pages[0].Content, "navigation menu entries")
	assert.NotContains(t, pages[0].Content, "copyright footer line")
	assert.NotContains(t, pages[0].Content, "tracking")
}

func TestCrawlCancellation(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/": page("Home", "Welcome.", "/guide"),
	})
	c, err := New(Config{BaseURL: srv.URL, Delay: time.Millisecond}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Crawl(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative/only"} {
		_, err := New(Config{BaseURL: raw}, testLogger())
		assert.Error(t, err, "base %q", raw)
	}
}
