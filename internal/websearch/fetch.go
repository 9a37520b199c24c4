package websearch

import (
	"bytes"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
)

// maxPageContent caps extracted page text so a single page cannot
// dominate the assembled context.
const maxPageContent = 8_000

// FetcherConfig holds page fetching settings.
type FetcherConfig struct {
	// Parallelism is max concurrent requests per domain. Default 2.
	Parallelism int
	// Delay between requests to the same domain. Default 1s.
	Delay time.Duration
	// Timeout bounds each page request. Default 30s.
	Timeout time.Duration
	// UserAgent sent with each request.
	UserAgent string
}

func (c *FetcherConfig) applyDefaults() {
	if c.Parallelism <= 0 {
		c.Parallelism = 2
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "codelake/1.0 (+https://github.com/codelake/codelake)"
	}
}

// Fetcher downloads result pages and extracts their readable text.
type Fetcher struct {
	cfg    FetcherConfig
	logger *slog.Logger
}

// NewFetcher creates a page fetcher.
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Fetcher{cfg: cfg, logger: logger}
}

// Fetch retrieves the given URLs concurrently and returns a map of
// URL to extracted text. URLs that fail to fetch or yield no readable
// text are absent from the map; the caller falls back to snippets.
func (f *Fetcher) Fetch(urls []string) map[string]string {
	if len(urls) == 0 {
		return nil
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(f.cfg.UserAgent),
		colly.MaxDepth(1),
	)
	collector.SetRequestTimeout(f.cfg.Timeout)
	_ = collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: f.cfg.Parallelism,
		Delay:       f.cfg.Delay,
	})

	var mu sync.Mutex
	extracted := make(map[string]string)

	collector.OnResponse(func(r *colly.Response) {
		pageURL := r.Request.URL.String()
		text := extractText(r.Body, r.Request.URL)
		if text == "" {
			f.logger.Debug("no readable text extracted", "url", pageURL)
			return
		}
		mu.Lock()
		extracted[pageURL] = text
		mu.Unlock()
	})

	collector.OnError(func(r *colly.Response, err error) {
		f.logger.Warn("page fetch failed", "url", r.Request.URL.String(), "error", err)
	})

	for _, u := range urls {
		if err := collector.Visit(u); err != nil {
			f.logger.Warn("visit rejected", "url", u, "error", err)
		}
	}
	collector.Wait()

	return extracted
}

// extractText reduces an HTML page to readable text. Readability
// handles article-shaped pages; goquery paragraph extraction covers
// the rest.
func extractText(body []byte, pageURL *url.URL) string {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		if text := normalize(article.TextContent); text != "" {
			return truncate(text, maxPageContent)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, footer, header").Remove()

	var sb strings.Builder
	doc.Find("p, pre, code, li").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			sb.WriteString(t)
			sb.WriteString("\n")
		}
	})
	return truncate(normalize(sb.String()), maxPageContent)
}

// normalize collapses runs of blank lines and trims surrounding space.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Cut at a line boundary where possible.
	cut := s[:limit]
	if idx := strings.LastIndexByte(cut, '\n'); idx > limit/2 {
		cut = cut[:idx]
	}
	return cut
}
