package connector

import (
	"context"
	"regexp"

	"github.com/opalhq/opal/internal/domain"
)

// runner carries the base connector behavior: exclude-regex and URL
// filtering, monotonic progress over the filtered set, and per-item error
// isolation. Connectors enumerate their source, filter candidate
// identifiers through allowed, call begin with the filtered count, then
// emit or fail once per item.
type runner struct {
	sink      Sink
	excludes  []*regexp.Regexp
	urlFilter string
	total     int
	attempted int
}

func newRunner(cfg domain.SourceConfig, sink Sink) (*runner, error) {
	excludes := make([]*regexp.Regexp, 0, len(cfg.ExcludePatterns))
	for _, pattern := range cfg.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid exclude pattern", err)
		}
		excludes = append(excludes, re)
	}
	return &runner{
		sink:      sink,
		excludes:  excludes,
		urlFilter: cfg.URLFilter,
	}, nil
}

// allowed applies both filters: the exclude-regex list against the
// connector-specific identifier (path, issue key, page id) and the optional
// include-filter against the item's exact URL.
func (r *runner) allowed(id, url string) bool {
	for _, re := range r.excludes {
		if re.MatchString(id) {
			return false
		}
	}
	if r.urlFilter != "" && url != r.urlFilter {
		return false
	}
	return true
}

// filter returns only the URLs that pass allowed, preserving order. Used by
// connectors whose identifier is the URL itself.
func (r *runner) filter(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if r.allowed(u, u) {
			out = append(out, u)
		}
	}
	return out
}

// begin fixes the filtered set size the progress math runs against.
func (r *runner) begin(total int) {
	r.total = total
	r.attempted = 0
}

// advance reports progress for the next attempted item. Completed+Remaining
// equals the filtered count for every event of a run.
func (r *runner) advance() {
	r.sink.Progress(domain.ProgressEvent{
		Completed: r.attempted,
		Remaining: r.total - r.attempted,
	})
	r.attempted++
}

// emit reports progress and hands one item to the sink.
func (r *runner) emit(ctx context.Context, item domain.ContentItem) error {
	r.advance()
	return r.sink.Emit(ctx, item)
}

// fail reports progress and isolates one item's failure. The run continues.
func (r *runner) fail(locator string, err error) {
	r.advance()
	r.sink.Error(locator, domain.NewDomainErrorWithCause(domain.ErrCodeSourceFetch, "failed to fetch source item", err))
}
