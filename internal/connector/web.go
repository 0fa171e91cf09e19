package connector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/opalhq/opal/internal/domain"
)

const webFetchTimeout = 30 * time.Second

// WebConnector ingests a fixed list of page URLs. It is not a crawler: only
// the configured URLs are fetched, in order.
type WebConnector struct {
	gate   CreditGate
	client *http.Client
}

func NewWebConnector(gate CreditGate) *WebConnector {
	return &WebConnector{
		gate:   gate,
		client: &http.Client{Timeout: webFetchTimeout},
	}
}

func (c *WebConnector) Type() domain.SourceType {
	return domain.SourceTypeWeb
}

func (c *WebConnector) Process(ctx context.Context, group *domain.KnowledgeGroup, sink Sink) error {
	if !c.gate.HasBudget(ctx, group.ScrapeID) {
		return domain.ErrBudgetExhausted
	}

	run, err := newRunner(group.Config, sink)
	if err != nil {
		return err
	}

	urls := run.filter(group.Config.Identifiers)
	run.begin(len(urls))

	for _, url := range urls {
		title, text, err := c.fetchPage(ctx, url)
		if err != nil {
			run.fail(url, err)
			continue
		}
		if err := run.emit(ctx, domain.ContentItem{Locator: url, Title: title, Text: text}); err != nil {
			return err
		}
	}

	return nil
}

func (c *WebConnector) fetchPage(ctx context.Context, url string) (title, text string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse html: %w", err)
	}

	title = pageTitle(doc)
	body := extractReadableText(doc)

	var b strings.Builder
	if title != "" {
		b.WriteString("# " + title + "\n\n")
	}
	b.WriteString(body)

	return title, b.String(), nil
}

func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// extractReadableText strips chrome elements and collapses the remaining
// visible text block by block.
func extractReadableText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, iframe").Remove()

	root := doc.Find("main")
	if root.Length() == 0 {
		root = doc.Find("article")
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var blocks []string
	root.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Skip container nodes whose text is covered by nested blocks.
		if s.Children().Filter("p, li, h1, h2, h3, h4, h5, h6").Length() > 0 {
			return
		}
		line := strings.Join(strings.Fields(s.Text()), " ")
		if line != "" {
			blocks = append(blocks, line)
		}
	})

	if len(blocks) == 0 {
		return strings.Join(strings.Fields(root.Text()), " ")
	}
	return strings.Join(blocks, "\n")
}
