package mirror

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/ligustah/objstream/internal/platformtest"
	"github.com/ligustah/objstream/pkg/remote"
	"github.com/ligustah/objstream/pkg/transport"
)

func testData(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func newBucket(t *testing.T) *blob.Bucket {
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	platform := platformtest.New(t)
	bucket := newBucket(t)

	data := testData(3<<20 + 17)
	id := platform.AddClosedNamed("reads.bam", "application/x-bam", data)

	n, err := Export(ctx, platform.APIClient(), id, bucket, "backup/reads.bam", Options{
		Remote: []remote.Option{remote.WithReadChunkSize(256 << 10), remote.WithReadConcurrency(4)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	got, err := bucket.ReadAll(ctx, "backup/reads.bam")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "blob content differs")

	attrs, err := bucket.Attributes(ctx, "backup/reads.bam")
	require.NoError(t, err)
	assert.Equal(t, "application/x-bam", attrs.ContentType)
	assert.Equal(t, id, attrs.Metadata[MetaObjectID])
	assert.Equal(t, "reads.bam", attrs.Metadata[MetaName])
	assert.Equal(t, 1, platform.Calls(platformtest.RouteDescribe))
}

func TestExportRejectsOpenObject(t *testing.T) {
	ctx := context.Background()
	platform := platformtest.New(t)
	bucket := newBucket(t)

	id := platform.AddOpen()
	_, err := Export(ctx, platform.APIClient(), id, bucket, "open", Options{})
	var usage *remote.UsageError
	require.ErrorAs(t, err, &usage)

	exists, err := bucket.Exists(ctx, "open")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExportFailureDiscardsBlob(t *testing.T) {
	ctx := context.Background()
	platform := platformtest.New(t)
	bucket := newBucket(t)

	id := platform.AddClosed(testData(64 << 10))
	platform.Fail(platformtest.RouteDownloadData, 100, 500, "", "storage unavailable")

	_, err := Export(ctx, platform.APIClient(), id, bucket, "partial", Options{})
	require.Error(t, err)

	exists, err := bucket.Exists(ctx, "partial")
	require.NoError(t, err)
	assert.False(t, exists, "failed export must not leave a blob behind")
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	platform := platformtest.New(t)
	bucket := newBucket(t)

	data := testData(11 << 20)
	require.NoError(t, bucket.WriteAll(ctx, "incoming/sample.txt", data, &blob.WriterOptions{
		ContentType: "text/plain",
	}))

	obj, err := Import(ctx, platform.APIClient(), bucket, "incoming/sample.txt", Options{
		PartSize: remote.MinPartSize,
		Block:    true,
		Remote: []remote.Option{
			remote.WithUploadConcurrency(2),
			remote.WithPollInterval(time.Millisecond),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, remote.StateClosed, obj.State())

	state, parts, got, ok := platform.Object(obj.ID())
	require.True(t, ok)
	assert.Equal(t, "closed", state)
	assert.Len(t, parts, 3)
	assert.True(t, bytes.Equal(data, got), "object content differs")

	desc, err := obj.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "incoming/sample.txt", desc.Name)
	assert.Equal(t, "text/plain", desc.Media)
}

func TestImportNameOverride(t *testing.T) {
	ctx := context.Background()
	platform := platformtest.New(t)
	bucket := newBucket(t)

	require.NoError(t, bucket.WriteAll(ctx, "k", []byte("hello"), nil))

	obj, err := Import(ctx, platform.APIClient(), bucket, "k", Options{
		Remote: []remote.Option{remote.WithName("greeting")},
	})
	require.NoError(t, err)
	assert.Equal(t, remote.StateClosing, obj.State())

	desc, err := obj.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "greeting", desc.Name)
}

func TestImportEmptyBlob(t *testing.T) {
	ctx := context.Background()
	platform := platformtest.New(t)
	bucket := newBucket(t)

	require.NoError(t, bucket.WriteAll(ctx, "empty", nil, nil))

	obj, err := Import(ctx, platform.APIClient(), bucket, "empty", Options{
		Block:  true,
		Remote: []remote.Option{remote.WithPollInterval(time.Millisecond)},
	})
	require.NoError(t, err)

	state, _, got, ok := platform.Object(obj.ID())
	require.True(t, ok)
	assert.Equal(t, "closed", state)
	assert.Empty(t, got)
}

func TestImportMissingKey(t *testing.T) {
	platform := platformtest.New(t)
	bucket := newBucket(t)

	_, err := Import(context.Background(), platform.APIClient(), bucket, "missing", Options{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, platform.Objects())
}

func TestImportCreateFailure(t *testing.T) {
	ctx := context.Background()
	platform := platformtest.New(t)
	bucket := newBucket(t)
	require.NoError(t, bucket.WriteAll(ctx, "k", []byte("x"), nil))

	platform.Fail(platformtest.RouteNew, 100, 403, transport.ErrNamePermissionDenied, "no access to project")

	_, err := Import(ctx, platform.APIClient(), bucket, "k", Options{})
	assert.True(t, transport.IsAPIError(err, transport.ErrNamePermissionDenied), "got %v", err)
	assert.Zero(t, platform.Objects())
}
