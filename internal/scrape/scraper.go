// Package scrape fetches readable text from web pages. Plain HTTP is
// tried first; pages that render their content client-side fall back to
// a headless browser.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"quarry/internal/logging"
)

// browserUA avoids the trivial bot blocks that reject Go's default
// user agent.
const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// minTextLen is the threshold below which extracted text is considered
// a client-rendered shell and the headless fallback kicks in.
const minTextLen = 200

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Scraper retrieves clean page text.
type Scraper struct {
	timeout time.Duration
	client  *http.Client

	// fetchRendered is the headless fallback; swapped in tests.
	fetchRendered func(ctx context.Context, url string) (string, error)
}

// NewScraper creates a scraper with the given per-request timeout.
func NewScraper(timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Scraper{
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
	s.fetchRendered = s.fetchWithBrowser
	return s
}

// GetCleanText fetches the page and extracts its readable text. Returns
// an empty string with no error when the page yields nothing usable.
func (s *Scraper) GetCleanText(ctx context.Context, url string) (string, error) {
	timer := logging.StartTimer(logging.CategoryScrape, "GetCleanText")
	defer timer.Stop()

	rawHTML, err := s.fetchPlain(ctx, url)
	if err == nil && rawHTML != "" {
		cleaned := ExtractText(rawHTML)
		if len(cleaned) >= minTextLen {
			logging.ScrapeDebug("plain fetch of %s yielded %d chars", url, len(cleaned))
			return cleaned, nil
		}
		logging.ScrapeDebug("plain fetch of %s too thin (%d chars), trying headless", url, len(cleaned))
	} else if err != nil {
		logging.ScrapeDebug("plain fetch of %s failed: %v", url, err)
	}

	rendered, err := s.fetchRendered(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to scrape %s: %w", url, err)
	}
	return ExtractText(rendered), nil
}

func (s *Scraper) fetchPlain(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// fetchWithBrowser loads the page in headless Chromium and returns the
// rendered DOM.
func (s *Scraper) fetchWithBrowser(ctx context.Context, url string) (string, error) {
	browser := rod.New().Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("failed to start headless browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	page = page.Timeout(s.timeout)
	if err := page.WaitLoad(); err != nil {
		logging.ScrapeDebug("wait load on %s: %v", url, err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read rendered page: %w", err)
	}
	return html, nil
}

// UserAgent returns the browser user agent used for plain fetches.
func UserAgent() string {
	return browserUA
}

// Truncate clips text to at most maxChars bytes.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}
