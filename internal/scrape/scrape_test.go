package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html><head>
<meta name="description" content="A page about Go.">
<meta property="og:description" content="The best page about Go.">
<script>var hidden = "should not appear";</script>
<style>.x { color: red }</style>
</head><body>
<nav>Home | About</nav>
<header>Site Header</header>
<main><p>Go is a statically typed language.</p><p>It compiles fast.</p></main>
<footer>Copyright</footer>
</body></html>`

func TestExtractText(t *testing.T) {
	text := ExtractText(samplePage)

	assert.True(t, strings.HasPrefix(text, "The best page about Go."), "og:description wins: %q", text)
	assert.Contains(t, text, "statically typed language")
	assert.NotContains(t, text, "should not appear")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "Home | About")
	assert.NotContains(t, text, "Site Header")
	assert.NotContains(t, text, "Copyright")
}

func TestExtractTextMetaFallback(t *testing.T) {
	page := `<html><head><meta name="description" content="Only meta."></head><body></body></html>`
	assert.Equal(t, "Only meta.", ExtractText(page))
}

func TestGetCleanTextPlainFetch(t *testing.T) {
	long := strings.Repeat("Real content sentence. ", 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", long)
	}))
	defer srv.Close()

	s := NewScraper(2 * time.Second)
	s.fetchRendered = func(ctx context.Context, url string) (string, error) {
		t.Fatal("headless fallback should not run for static pages")
		return "", nil
	}

	text, err := s.GetCleanText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "Real content sentence.")
}

func TestGetCleanTextFallsBackWhenThin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="app"></div></body></html>`)
	}))
	defer srv.Close()

	rendered := fmt.Sprintf("<html><body><p>%s</p></body></html>", strings.Repeat("Rendered text. ", 30))
	s := NewScraper(2 * time.Second)
	s.fetchRendered = func(ctx context.Context, url string) (string, error) {
		return rendered, nil
	}

	text, err := s.GetCleanText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "Rendered text.")
}

func TestGetCleanTextFallsBackOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewScraper(2 * time.Second)
	s.fetchRendered = func(ctx context.Context, url string) (string, error) {
		return "<html><body><p>From browser.</p></body></html>", nil
	}

	text, err := s.GetCleanText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "From browser.", text)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0))
	assert.Equal(t, "abcdef", Truncate("abcdef", 100))
}
