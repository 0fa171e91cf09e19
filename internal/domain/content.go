package domain

// ContentItem is a connector's unit of output: one page, issue, or
// transcript normalized to a markdown-ish text blob. Items are ephemeral;
// the persistence collaborator decides what survives the run.
type ContentItem struct {
	Locator string
	Title   string
	Text    string
}

// ProgressEvent reports ingestion progress against the filtered item set.
// Completed+Remaining stays constant for the duration of a run.
type ProgressEvent struct {
	Completed int
	Remaining int
}
