//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opalhq/opal/internal/testutil"
)

func TestArchiveIntegration_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()

	s3Container := testutil.NewRustFSContainer(ctx, t)
	defer s3Container.Terminate(ctx)

	archive, err := NewArchive(ctx, ArchiveConfig{
		Endpoint:        s3Container.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-snapshots",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, archive.EnsureBucket(ctx))

	// EnsureBucket tolerates the bucket already existing.
	require.NoError(t, archive.EnsureBucket(ctx))

	const (
		scrapeID = "tenant-a"
		locator  = "https://docs.example.com/getting-started"
		text     = "Raw page text as fetched from the source."
	)

	require.NoError(t, archive.PutSnapshot(ctx, scrapeID, locator, text))

	got, err := archive.GetSnapshot(ctx, scrapeID, locator)
	require.NoError(t, err)
	assert.Equal(t, text, got)

	// Re-ingesting the same locator overwrites in place.
	require.NoError(t, archive.PutSnapshot(ctx, scrapeID, locator, "updated text"))
	got, err = archive.GetSnapshot(ctx, scrapeID, locator)
	require.NoError(t, err)
	assert.Equal(t, "updated text", got)

	// Snapshots are keyed per tenant.
	_, err = archive.GetSnapshot(ctx, "tenant-b", locator)
	assert.Error(t, err)

	require.NoError(t, archive.DeleteSnapshot(ctx, scrapeID, locator))
	_, err = archive.GetSnapshot(ctx, scrapeID, locator)
	assert.Error(t, err)
}
