package domain

import (
	"strings"
	"time"
)

// SourceType identifies which connector ingests a knowledge group.
type SourceType string

const (
	SourceTypeWeb    SourceType = "web"
	SourceTypeWiki   SourceType = "wiki"
	SourceTypeIssues SourceType = "issues"
	SourceTypeVideo  SourceType = "video"
)

// IsValid checks if the source type is one of the known connectors
func (t SourceType) IsValid() bool {
	switch t {
	case SourceTypeWeb, SourceTypeWiki, SourceTypeIssues, SourceTypeVideo:
		return true
	}
	return false
}

// GroupStatus represents the lifecycle state of an ingestion run
type GroupStatus string

const (
	GroupStatusIdle       GroupStatus = "idle"
	GroupStatusProcessing GroupStatus = "processing"
	GroupStatusCompleted  GroupStatus = "completed"
	GroupStatusFailed     GroupStatus = "failed"
)

// SourceConfig holds the connector-specific portion of a knowledge group.
// Identifiers carries source-native ids: page URLs for web, a space key for
// wiki, a project key for issue trackers, a playlist id for video.
type SourceConfig struct {
	Identifiers     []string `json:"identifiers"`
	BaseURL         string   `json:"base_url,omitempty"`
	CredentialRef   string   `json:"credential_ref,omitempty"`
	URLFilter       string   `json:"url_filter,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	ExcludeStatuses []string `json:"exclude_statuses,omitempty"`
}

// KnowledgeGroup is the configuration for one ingestion run. It is created
// by an operator and read-only while a run is in flight.
type KnowledgeGroup struct {
	ID        string
	ScrapeID  string
	Source    SourceType
	Config    SourceConfig
	Status    GroupStatus
	Error     string
	Completed int
	Remaining int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the group configuration before it is accepted for a run
func (g *KnowledgeGroup) Validate() error {
	if strings.TrimSpace(g.ScrapeID) == "" {
		return ErrMissingScrapeID
	}
	if !g.Source.IsValid() {
		return ErrInvalidSourceType
	}
	if len(g.Config.Identifiers) == 0 {
		return ErrMissingIdentifiers
	}
	return nil
}
