package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opalhq/opal/internal/domain"
)

const issuesFetchTimeout = 30 * time.Second

// IssuesConnector ingests every issue of a tracker project. The search API
// paginates with startAt offsets; enumeration stops once startAt plus the
// page size reaches the reported total.
type IssuesConnector struct {
	gate    CreditGate
	secrets SecretResolver
	client  *http.Client
}

func NewIssuesConnector(gate CreditGate, secrets SecretResolver) *IssuesConnector {
	return &IssuesConnector{
		gate:    gate,
		secrets: secrets,
		client:  &http.Client{Timeout: issuesFetchTimeout},
	}
}

func (c *IssuesConnector) Type() domain.SourceType {
	return domain.SourceTypeIssues
}

type issueRef struct {
	Key    string `json:"key"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

type issueSearchPage struct {
	Issues  []issueRef `json:"issues"`
	StartAt int        `json:"start_at"`
	Total   int        `json:"total"`
}

type issueComment struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

type issue struct {
	Key         string         `json:"key"`
	URL         string         `json:"url"`
	Summary     string         `json:"summary"`
	Status      string         `json:"status"`
	Assignee    string         `json:"assignee"`
	Labels      []string       `json:"labels"`
	Comments    []issueComment `json:"comments"`
	Description string         `json:"description"`
}

func (c *IssuesConnector) Process(ctx context.Context, group *domain.KnowledgeGroup, sink Sink) error {
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

	project := group.Config.Identifiers[0]
	excluded := statusSet(group.Config.ExcludeStatuses)

	var refs []issueRef
	startAt := 0
	for {
		page, err := c.searchIssues(ctx, group.Config.BaseURL, token, project, startAt)
		if err != nil {
			return fmt.Errorf("failed to search issues: %w", err)
		}
		for _, ref := range page.Issues {
			if _, skip := excluded[strings.ToLower(ref.Status)]; skip {
				continue
			}
			if run.allowed(ref.Key, ref.URL) {
				refs = append(refs, ref)
			}
		}
		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			break
		}
	}

	run.begin(len(refs))

	for _, ref := range refs {
		detail, err := c.fetchIssue(ctx, group.Config.BaseURL, token, ref.Key)
		if err != nil {
			run.fail(ref.URL, err)
			continue
		}
		item := domain.ContentItem{
			Locator: detail.URL,
			Title:   fmt.Sprintf("%s: %s", detail.Key, detail.Summary),
			Text:    issueText(detail),
		}
		if err := run.emit(ctx, item); err != nil {
			return err
		}
	}

	return nil
}

func (c *IssuesConnector) credential(ctx context.Context, ref string) (string, error) {
	if ref == "" || c.secrets == nil {
		return "", nil
	}
	token, err := c.secrets.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve tracker credential %q: %w", ref, err)
	}
	return token, nil
}

func (c *IssuesConnector) searchIssues(ctx context.Context, baseURL, token, project string, startAt int) (*issueSearchPage, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/issues?start_at=%d",
		strings.TrimRight(baseURL, "/"), url.PathEscape(project), startAt)

	var out issueSearchPage
	if err := c.getJSON(ctx, endpoint, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *IssuesConnector) fetchIssue(ctx context.Context, baseURL, token, key string) (*issue, error) {
	endpoint := fmt.Sprintf("%s/issues/%s", strings.TrimRight(baseURL, "/"), url.PathEscape(key))

	var out issue
	if err := c.getJSON(ctx, endpoint, token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *IssuesConnector) getJSON(ctx context.Context, endpoint, token string, out any) error {
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

func statusSet(statuses []string) map[string]struct{} {
	set := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		set[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return set
}

// issueText assembles the content blob: title heading, structured fields,
// comments with their authors, then the description.
func issueText(i *issue) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# %s: %s\n\n", i.Key, i.Summary))
	b.WriteString(fmt.Sprintf("- status: %s\n", i.Status))
	if i.Assignee != "" {
		b.WriteString(fmt.Sprintf("- assignee: %s\n", i.Assignee))
	}
	if len(i.Labels) > 0 {
		b.WriteString(fmt.Sprintf("- labels: %s\n", strings.Join(i.Labels, ", ")))
	}
	b.WriteString("\n")
	for _, comment := range i.Comments {
		b.WriteString(fmt.Sprintf("%s: %s\n", comment.Author, comment.Body))
	}
	if len(i.Comments) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(i.Description)
	return b.String()
}
