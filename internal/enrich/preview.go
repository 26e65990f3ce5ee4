package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// LinkPreview is the page metadata extracted for a link note. Stored under
// the linkPreview metadata key.
type LinkPreview struct {
	Title    string `json:"title,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// FetchPreview fetches a page and extracts title/excerpt/image from its
// metadata. The timeout is a hard bound on the whole fetch. Non-HTML
// responses yield a nil preview without error.
func FetchPreview(ctx context.Context, pageURL string, timeout time.Duration, maxBytes int64) (*LinkPreview, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("preview fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview fetch: status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		return nil, nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("preview parse: %w", err)
	}
	return ExtractPreview(doc), nil
}

// ExtractPreview walks a parsed HTML document for the usual metadata:
// OpenGraph tags first, then the description meta and the title element.
func ExtractPreview(doc *html.Node) *LinkPreview {
	preview := &LinkPreview{}
	var titleText string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					titleText = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				name, content := metaAttrs(n)
				switch name {
				case "og:title":
					preview.Title = content
				case "og:description":
					preview.Excerpt = content
				case "description":
					if preview.Excerpt == "" {
						preview.Excerpt = content
					}
				case "og:image":
					preview.ImageURL = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if preview.Title == "" {
		preview.Title = titleText
	}
	if preview.Title == "" && preview.Excerpt == "" && preview.ImageURL == "" {
		return nil
	}
	return preview
}

func metaAttrs(n *html.Node) (name, content string) {
	for _, attr := range n.Attr {
		switch attr.Key {
		case "property", "name":
			if name == "" {
				name = attr.Val
			}
		case "content":
			content = strings.TrimSpace(attr.Val)
		}
	}
	return name, content
}
