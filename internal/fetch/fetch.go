// Package fetch is the scrape-intake adapter: it turns a fetched HTML
// page into the plain-text model.Article the Enricher consumes, the
// narrow seam between "raw HTML arrived over HTTP" and "clean article
// body ready for Store insertion".
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/httpx"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
)

var newlineRegex = regexp.MustCompile(`(\n\s*){2,}`)

var mainContentSelectors = []string{
	"article", "main", ".main-content", ".entry-content", ".post-content",
	".post-body", ".article-body", "[role='main']", ".content", "#content",
}

var boilerplateSelector = "script, style, nav, footer, header, aside, form, " +
	"iframe, noscript, .sidebar, #sidebar, .ad, .advertisement, .popup, " +
	".modal, .cookie-banner"

// Fetcher retrieves a page and extracts a clean model.Article from it.
type Fetcher struct {
	client *httpx.Client
}

// New builds a Fetcher using the given HTTP client.
func New(client *httpx.Client) *Fetcher {
	return &Fetcher{client: client}
}

// FetchArticle downloads pageURL and extracts title + cleaned body
// text. source is the domain tag stored on the resulting article,
// defaulting to the page's own hostname when left empty.
func (f *Fetcher) FetchArticle(ctx context.Context, pageURL, source string) (model.Article, error) {
	body, _, err := f.client.Get(ctx, pageURL)
	if err != nil {
		return model.Article{}, fmt.Errorf("fetching %s: %w", pageURL, err)
	}

	html := string(body)
	title, cleaned, err := parseArticleContent(html)
	if err != nil {
		return model.Article{}, fmt.Errorf("parsing %s: %w", pageURL, err)
	}

	if source == "" {
		source = domainOf(pageURL)
	}

	return model.Article{
		URL:       pageURL,
		Title:     title,
		Body:      cleaned,
		Published: time.Now().UTC(),
		Source:    source,
	}, nil
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// extractTitle tries common title locations in descending preference.
func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		return title
	}
	if ogTitle, _ := doc.Find("meta[property='og:title']").Attr("content"); strings.TrimSpace(ogTitle) != "" {
		return strings.TrimSpace(ogTitle)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return ""
}

// parseArticleContent extracts the main textual content from HTML,
// stripping boilerplate via a descending-preference selector chain.
func parseArticleContent(html string) (title, cleanedText string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parsing html: %w", err)
	}

	doc.Find(boilerplateSelector).Remove()

	var textBuilder strings.Builder
	foundMainContent := false
	for _, selector := range mainContentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			s.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
				textBuilder.WriteString(strings.TrimSpace(item.Text()))
				textBuilder.WriteString("\n\n")
			})
		})
		if textBuilder.Len() > 0 {
			foundMainContent = true
			break
		}
	}

	if !foundMainContent {
		doc.Find("body").Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
			textBuilder.WriteString(strings.TrimSpace(item.Text()))
			textBuilder.WriteString("\n\n")
		})
	}

	cleanedText = strings.TrimSpace(newlineRegex.ReplaceAllString(textBuilder.String(), "\n"))

	title = extractTitle(doc)
	if title == "" && cleanedText != "" {
		words := strings.Fields(cleanedText)
		if len(words) > 10 {
			title = strings.Join(words[:10], " ") + "..."
		} else {
			title = strings.Join(words, " ")
		}
	}

	return title, cleanedText, nil
}
