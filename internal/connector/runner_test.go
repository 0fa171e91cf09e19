package connector

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/opalhq/opal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures everything a connector hands over.
type recordingSink struct {
	items    []domain.ContentItem
	progress []domain.ProgressEvent
	failed   []string
	errs     []error
}

func (s *recordingSink) Emit(_ context.Context, item domain.ContentItem) error {
	s.items = append(s.items, item)
	return nil
}

func (s *recordingSink) Progress(ev domain.ProgressEvent) {
	s.progress = append(s.progress, ev)
}

func (s *recordingSink) Error(locator string, err error) {
	s.failed = append(s.failed, locator)
	s.errs = append(s.errs, err)
}

// allowAllGate is a credit gate that always has budget.
type allowAllGate struct{}

func (allowAllGate) HasBudget(context.Context, string) bool { return true }

// deniedGate is a credit gate that is always exhausted.
type deniedGate struct{}

func (deniedGate) HasBudget(context.Context, string) bool { return false }

func TestRunner_MiddleItemFailure(t *testing.T) {
	sink := &recordingSink{}
	run, err := newRunner(domain.SourceConfig{}, sink)
	require.NoError(t, err)

	run.begin(3)

	ctx := context.Background()
	require.NoError(t, run.emit(ctx, domain.ContentItem{Locator: "a", Text: "one"}))
	run.fail("b", errors.New("fetch failed"))
	require.NoError(t, run.emit(ctx, domain.ContentItem{Locator: "c", Text: "three"}))

	require.Len(t, sink.items, 2)
	assert.Equal(t, "a", sink.items[0].Locator)
	assert.Equal(t, "c", sink.items[1].Locator)

	require.Len(t, sink.failed, 1)
	assert.Equal(t, "b", sink.failed[0])

	expected := []domain.ProgressEvent{
		{Completed: 0, Remaining: 3},
		{Completed: 1, Remaining: 2},
		{Completed: 2, Remaining: 1},
	}
	assert.Equal(t, expected, sink.progress)
}

func TestRunner_ProgressSumConstant(t *testing.T) {
	sink := &recordingSink{}
	run, err := newRunner(domain.SourceConfig{}, sink)
	require.NoError(t, err)

	run.begin(5)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, run.emit(ctx, domain.ContentItem{Locator: "x", Text: "t"}))
	}

	require.Len(t, sink.progress, 5)
	for _, ev := range sink.progress {
		assert.Equal(t, 5, ev.Completed+ev.Remaining)
	}
}

func TestRunner_ProgressMonotonic(t *testing.T) {
	sink := &recordingSink{}
	run, err := newRunner(domain.SourceConfig{}, sink)
	require.NoError(t, err)

	run.begin(4)
	ctx := context.Background()
	run.fail("a", errors.New("boom"))
	require.NoError(t, run.emit(ctx, domain.ContentItem{Locator: "b"}))
	run.fail("c", errors.New("boom"))
	require.NoError(t, run.emit(ctx, domain.ContentItem{Locator: "d"}))

	last := -1
	for _, ev := range sink.progress {
		assert.Greater(t, ev.Completed, last)
		last = ev.Completed
	}
}

func TestRunner_ExcludePatterns(t *testing.T) {
	sink := &recordingSink{}
	cfg := domain.SourceConfig{
		ExcludePatterns: []string{`^https://example\.com/private/`, `draft$`},
	}
	run, err := newRunner(cfg, sink)
	require.NoError(t, err)

	urls := []string{
		"https://example.com/docs/intro",
		"https://example.com/private/page",
		"https://example.com/docs/guide-draft",
		"https://example.com/docs/faq",
	}
	filtered := run.filter(urls)

	assert.Equal(t, []string{
		"https://example.com/docs/intro",
		"https://example.com/docs/faq",
	}, filtered)

	excludes := []*regexp.Regexp{
		regexp.MustCompile(`^https://example\.com/private/`),
		regexp.MustCompile(`draft$`),
	}
	for _, u := range filtered {
		for _, re := range excludes {
			assert.False(t, re.MatchString(u), "filtered set must not match exclude pattern %q", re)
		}
	}
}

func TestRunner_URLFilter(t *testing.T) {
	sink := &recordingSink{}
	cfg := domain.SourceConfig{URLFilter: "https://example.com/only-this"}
	run, err := newRunner(cfg, sink)
	require.NoError(t, err)

	assert.True(t, run.allowed("page-1", "https://example.com/only-this"))
	assert.False(t, run.allowed("page-2", "https://example.com/other"))
}

func TestRunner_ExcludeAndURLFilterIndependent(t *testing.T) {
	sink := &recordingSink{}
	cfg := domain.SourceConfig{
		URLFilter:       "https://example.com/page",
		ExcludePatterns: []string{`^blocked-`},
	}
	run, err := newRunner(cfg, sink)
	require.NoError(t, err)

	// URL matches the include filter, but the id matches an exclude pattern.
	assert.False(t, run.allowed("blocked-1", "https://example.com/page"))
	assert.True(t, run.allowed("open-1", "https://example.com/page"))
}

func TestNewRunner_InvalidExcludePattern(t *testing.T) {
	sink := &recordingSink{}
	cfg := domain.SourceConfig{ExcludePatterns: []string{"["}}

	_, err := newRunner(cfg, sink)
	require.Error(t, err)

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeValidation, domainErr.Code)
}

func TestRegistry_For(t *testing.T) {
	web := NewWebConnector(allowAllGate{})
	reg := NewRegistry(web)

	c, err := reg.For(domain.SourceTypeWeb)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypeWeb, c.Type())

	_, err = reg.For(domain.SourceTypeWiki)
	assert.ErrorIs(t, err, domain.ErrInvalidSourceType)
}
