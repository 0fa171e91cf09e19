package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opalhq/opal/internal/domain"
)

const videoFetchTimeout = 30 * time.Second

// ErrNoTranscript marks a video without captions; the item is skipped and
// the run continues.
var ErrNoTranscript = errors.New("video has no transcript")

// VideoConnector ingests the transcripts of a playlist's videos. Playlist
// enumeration paginates with page tokens; enumeration stops when no token
// remains.
type VideoConnector struct {
	gate    CreditGate
	secrets SecretResolver
	client  *http.Client
}

func NewVideoConnector(gate CreditGate, secrets SecretResolver) *VideoConnector {
	return &VideoConnector{
		gate:    gate,
		secrets: secrets,
		client:  &http.Client{Timeout: videoFetchTimeout},
	}
}

func (c *VideoConnector) Type() domain.SourceType {
	return domain.SourceTypeVideo
}

type videoRef struct {
	VideoID     string `json:"video_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Channel     string `json:"channel"`
	PublishedAt string `json:"published_at"`
}

type playlistPage struct {
	Items         []videoRef `json:"items"`
	NextPageToken string     `json:"next_page_token"`
}

type transcript struct {
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

func (c *VideoConnector) Process(ctx context.Context, group *domain.KnowledgeGroup, sink Sink) error {
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

	playlist := group.Config.Identifiers[0]

	var refs []videoRef
	pageToken := ""
	for {
		page, err := c.listPlaylist(ctx, group.Config.BaseURL, token, playlist, pageToken)
		if err != nil {
			return fmt.Errorf("failed to list playlist: %w", err)
		}
		for _, ref := range page.Items {
			if run.allowed(ref.VideoID, ref.URL) {
				refs = append(refs, ref)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	run.begin(len(refs))

	for _, ref := range refs {
		text, err := c.fetchTranscript(ctx, group.Config.BaseURL, token, ref.VideoID)
		if err != nil {
			run.fail(ref.URL, err)
			continue
		}
		item := domain.ContentItem{
			Locator: ref.URL,
			Title:   ref.Title,
			Text:    videoText(ref, text),
		}
		if err := run.emit(ctx, item); err != nil {
			return err
		}
	}

	return nil
}

func (c *VideoConnector) credential(ctx context.Context, ref string) (string, error) {
	if ref == "" || c.secrets == nil {
		return "", nil
	}
	token, err := c.secrets.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve video credential %q: %w", ref, err)
	}
	return token, nil
}

func (c *VideoConnector) listPlaylist(ctx context.Context, baseURL, token, playlist, pageToken string) (*playlistPage, error) {
	endpoint := fmt.Sprintf("%s/playlists/%s/items", strings.TrimRight(baseURL, "/"), url.PathEscape(playlist))
	if pageToken != "" {
		endpoint += "?page_token=" + url.QueryEscape(pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out playlistPage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *VideoConnector) fetchTranscript(ctx context.Context, baseURL, token, videoID string) (string, error) {
	endpoint := fmt.Sprintf("%s/videos/%s/transcript", strings.TrimRight(baseURL, "/"), url.PathEscape(videoID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNoTranscript
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out transcript
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(out.Segments))
	for _, seg := range out.Segments {
		if line := strings.TrimSpace(seg.Text); line != "" {
			parts = append(parts, line)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoTranscript
	}
	return strings.Join(parts, " "), nil
}

// videoText assembles the content blob: title heading, video metadata, then
// the transcript.
func videoText(ref videoRef, transcript string) string {
	var b strings.Builder
	if ref.Title != "" {
		b.WriteString("# " + ref.Title + "\n\n")
	}
	if ref.Channel != "" {
		b.WriteString("- channel: " + ref.Channel + "\n")
	}
	if ref.PublishedAt != "" {
		b.WriteString("- published: " + ref.PublishedAt + "\n")
	}
	if ref.Channel != "" || ref.PublishedAt != "" {
		b.WriteString("\n")
	}
	b.WriteString(transcript)
	return b.String()
}
