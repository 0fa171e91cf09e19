package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/opalhq/opal/internal/domain"
)

const wikiFetchTimeout = 30 * time.Second

// SecretResolver supplies runtime credential values for a named reference.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// WikiConnector ingests every page of a wiki space. The space API paginates
// with an opaque cursor; enumeration stops when no cursor remains.
type WikiConnector struct {
	gate    CreditGate
	secrets SecretResolver
	client  *http.Client
}

func NewWikiConnector(gate CreditGate, secrets SecretResolver) *WikiConnector {
	return &WikiConnector{
		gate:    gate,
		secrets: secrets,
		client:  &http.Client{Timeout: wikiFetchTimeout},
	}
}

func (c *WikiConnector) Type() domain.SourceType {
	return domain.SourceTypeWiki
}

type wikiPageRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type wikiPageList struct {
	Results    []wikiPageRef `json:"results"`
	NextCursor string        `json:"next_cursor"`
}

type wikiPage struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	URL        string            `json:"url"`
	Properties map[string]string `json:"properties"`
	Body       string            `json:"body"`
}

func (c *WikiConnector) Process(ctx context.Context, group *domain.KnowledgeGroup, sink Sink) error {
	if !c.gate.HasBudget(ctx, group.ScrapeID) {
		return domain.ErrBudgetExhausted
	}

	run, err := newRunner(group.Config, sink)
	if err != nil {
		return err
	}

	token, err := c.credential(ctx, group.Config.CredentialRef)
	if err != nil {
		return err
	}

	space := group.Config.Identifiers[0]

	var refs []wikiPageRef
	cursor := ""
	for {
		page, err := c.listPages(ctx, group.Config.BaseURL, token, space, cursor)
		if err != nil {
			return fmt.Errorf("failed to list wiki pages: %w", err)
		}
		for _, ref := range page.Results {
			if run.allowed(ref.ID, ref.URL) {
				refs = append(refs, ref)
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	run.begin(len(refs))

	for _, ref := range refs {
		page, err := c.fetchPage(ctx, group.Config.BaseURL, token, ref.ID)
		if err != nil {
			run.fail(ref.URL, err)
			continue
		}
		item := domain.ContentItem{
			Locator: page.URL,
			Title:   page.Title,
			Text:    wikiPageText(page),
		}
		if err := run.emit(ctx, item); err != nil {
			return err
		}
	}

	return nil
}

func (c *WikiConnector) credential(ctx context.Context, ref string) (string, error) {
	if ref == "" || c.secrets == nil {
		return "", nil
	}
	token, err := c.secrets.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve wiki credential %q: %w", ref, err)
	}
	return token, nil
}

func (c *WikiConnector) listPages(ctx context.Context, baseURL, token, space, cursor string) (*wikiPageList, error) {
	endpoint := fmt.Sprintf("%s/spaces/%s/pages", strings.TrimRight(baseURL, "/"), url.PathEscape(space))
	if cursor != "" {
		endpoint += "?cursor=" + url.QueryEscape(cursor)
	}

	var out wikiPageList
	if err := c.getJSON(ctx, endpoint, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WikiConnector) fetchPage(ctx context.Context, baseURL, token, pageID string) (*wikiPage, error) {
	endpoint := fmt.Sprintf("%s/pages/%s", strings.TrimRight(baseURL, "/"), url.PathEscape(pageID))

	var out wikiPage
	if err := c.getJSON(ctx, endpoint, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WikiConnector) getJSON(ctx context.Context, endpoint, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// wikiPageText assembles the content blob: title heading, property table,
// then the body. Consumers rely on this ordering for citation display.
func wikiPageText(page *wikiPage) string {
	var b strings.Builder
	if page.Title != "" {
		b.WriteString("# " + page.Title + "\n\n")
	}
	if len(page.Properties) > 0 {
		keys := make([]string, 0, len(page.Properties))
		for k := range page.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("- %s: %s\n", k, page.Properties[k]))
		}
		b.WriteString("\n")
	}
	b.WriteString(page.Body)
	return b.String()
}
