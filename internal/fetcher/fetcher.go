// Package fetcher turns a public post permalink into a RawPost.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/pbaille/govpulse/internal/domain"
)

const (
	maxBody   = 5 << 20
	maxText   = 10 << 10
	userAgent = "govpulse/1.0 (post-ingest)"
)

// Fetcher downloads post pages
type Fetcher struct {
	client *http.Client
}

// New creates a fetcher. A nil client gets a 30s timeout default.
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client}
}

// FetchPost retrieves rawURL and extracts the post text, author and
// publication time from its Open Graph and Twitter card metadata, falling
// back to the readable body text.
func (f *Fetcher) FetchPost(ctx context.Context, rawURL string) (domain.RawPost, error) {
	u, err := normalizeURL(rawURL)
	if err != nil {
		return domain.RawPost{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.RawPost{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.RawPost{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.RawPost{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return domain.RawPost{}, fmt.Errorf("parse html: %w", err)
	}

	page := scan(doc)
	post := domain.RawPost{
		ID:           u,
		Text:         page.postText(),
		AuthorHandle: page.author(),
		CreatedAt:    page.published(),
	}
	if post.Text == "" {
		return domain.RawPost{}, fmt.Errorf("no text content found")
	}
	return post, nil
}

// IsURL checks if a string looks like a URL
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "www.")
}

func normalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL: missing host")
	}
	u.Fragment = ""
	return u.String(), nil
}

// page is what scan collects from one document
type page struct {
	meta map[string]string
	body string
}

var skipTags = map[string]bool{
	"script": true, "style": true, "nav": true,
	"header": true, "footer": true, "aside": true,
	"noscript": true, "iframe": true,
}

func scan(doc *html.Node) page {
	p := page{meta: map[string]string{}}
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipTags[n.Data] {
				return
			}
			if n.Data == "meta" {
				p.addMeta(n)
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	p.body = strings.Join(strings.Fields(sb.String()), " ")
	return p
}

func (p page) addMeta(n *html.Node) {
	var key, content string
	for _, a := range n.Attr {
		switch a.Key {
		case "property", "name":
			key = strings.ToLower(a.Val)
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	if key != "" && content != "" {
		if _, seen := p.meta[key]; !seen {
			p.meta[key] = content
		}
	}
}

func (p page) first(keys ...string) string {
	for _, k := range keys {
		if v := p.meta[k]; v != "" {
			return v
		}
	}
	return ""
}

func (p page) postText() string {
	text := p.first("og:description", "twitter:description", "description")
	if text == "" {
		text = p.body
	}
	return truncate(strings.TrimSpace(text), maxText)
}

func (p page) author() string {
	return strings.TrimPrefix(p.first("twitter:creator", "author", "article:author"), "@")
}

func (p page) published() time.Time {
	v := p.first("article:published_time", "og:published_time", "date")
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
