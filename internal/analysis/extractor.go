package analysis

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const untitledPage = "Untitled Page"

var blankLines = regexp.MustCompile(`\n{3,}`)

// HTMLExtractor fetches pages over HTTP and extracts their readable structure with goquery.
type HTMLExtractor struct {
	client    *http.Client
	userAgent string
}

// NewHTMLExtractor wires an HTTP client; a nil client gets a 20s timeout.
func NewHTMLExtractor(client *http.Client, userAgent string) *HTMLExtractor {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if userAgent == "" {
		userAgent = "freshcheck/1.0"
	}
	return &HTMLExtractor{client: client, userAgent: userAgent}
}

// Extract downloads url and returns its title, description, h1-h4 headings and text content.
func (x *HTMLExtractor) Extract(ctx context.Context, url string) (Page, error) {
	doc, err := x.fetchDocument(ctx, url)
	if err != nil {
		return Page{}, err
	}
	return ParseDocument(url, doc), nil
}

func (x *HTMLExtractor) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", x.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to access: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unable to access: %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// ParseDocument builds a Page from an already parsed document.
func ParseDocument(url string, doc *goquery.Document) Page {
	doc.Find("script, style, noscript, nav, footer, header, iframe").Remove()

	page := Page{URL: url}
	page.MetaDescription = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	if page.MetaDescription == "" {
		page.MetaDescription = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}

	headings := map[string]*[]string{
		"h1": &page.Headings.H1,
		"h2": &page.Headings.H2,
		"h3": &page.Headings.H3,
		"h4": &page.Headings.H4,
	}
	var blocks []string
	doc.Find("body").Find("h1, h2, h3, h4, h5, h6, p, li, th, td, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := collapse(s.Text())
		if text == "" {
			return
		}
		tag := goquery.NodeName(s)
		switch tag {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			if dst, ok := headings[tag]; ok {
				*dst = append(*dst, text)
			}
			blocks = append(blocks, strings.Repeat("#", int(tag[1]-'0'))+" "+text)
		case "li":
			blocks = append(blocks, "- "+text)
		case "p", "blockquote":
			// Paragraphs nested in list items or cells are already covered by their container.
			if s.ParentsFiltered("li, td, th").Length() > 0 {
				return
			}
			blocks = append(blocks, text)
		default:
			blocks = append(blocks, text)
		}
	})
	page.Content = blankLines.ReplaceAllString(strings.Join(blocks, "\n\n"), "\n\n")

	page.Title = collapse(doc.Find("title").First().Text())
	if page.Title == "" {
		page.Title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	}
	if page.Title == "" && len(page.Headings.H1) > 0 {
		page.Title = page.Headings.H1[0]
	}
	if page.Title == "" {
		page.Title = untitledPage
	}
	return page
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
