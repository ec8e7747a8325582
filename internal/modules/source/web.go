package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	appcfg "github.com/mx-space/distill/internal/config"
	"golang.org/x/net/html/charset"
)

// minArticleChars is the amount of paragraph text below which the whole body
// is used instead of the block-level extraction.
const minArticleChars = 200

// WebPage is the readable part of a fetched HTML document.
type WebPage struct {
	Title string
	Text  string
}

// WebFetcher downloads pages and extracts their readable text.
type WebFetcher struct {
	userAgent string
	maxBody   int64
	client    *http.Client
}

func NewWebFetcher(cfg appcfg.SourceConfig, client *http.Client) *WebFetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	return &WebFetcher{userAgent: cfg.UserAgent, maxBody: cfg.MaxBodyBytes, client: client}
}

func (w *WebFetcher) Fetch(ctx context.Context, target string) (*WebPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	body := io.LimitReader(resp.Body, w.maxBody)
	if strings.HasPrefix(contentType, "text/plain") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return &WebPage{Text: strings.TrimSpace(string(raw))}, nil
	}

	utf8Body, err := charset.NewReader(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(utf8Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return extractPage(doc), nil
}

func extractPage(doc *goquery.Document) *WebPage {
	title := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	doc.Find("script, style, nav, header, footer, noscript, iframe, aside, form, svg").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var blocks []string
	size := 0
	root.Find("h1, h2, h3, h4, p, li, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		// Nested blocks (p inside li) are covered by their parent.
		if s.ParentsFiltered("li, blockquote").Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		blocks = append(blocks, text)
		size += len(text)
	})

	text := strings.Join(blocks, "\n\n")
	if size < minArticleChars {
		text = strings.Join(strings.Fields(root.Text()), " ")
	}
	return &WebPage{Title: title, Text: text}
}
