package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	kind, err := KindOf("file-B1234567890abcdef")
	require.NoError(t, err)
	assert.Equal(t, KindFile, kind)
	assert.Equal(t, "file", kind.String())

	for _, id := range []string{"record-123", "nodash", ""} {
		_, err := KindOf(id)
		var usage *UsageError
		assert.ErrorAs(t, err, &usage, "id %q", id)
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []State{StateOpen, StateClosing, StateClosed} {
		got, err := parseState(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := parseState("deleted")
	assert.Error(t, err)
}

func TestPartSizeFor(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		requested int64
		want      int64
	}{
		{"unknown size", 0, DefaultPartSize, DefaultPartSize},
		{"below minimum", 1 << 20, 1 << 10, MinPartSize},
		{"fits", 100 << 20, DefaultPartSize, DefaultPartSize},
		{"grows to fit", 1 << 40, DefaultPartSize, (1<<40 + MaxParts - 1) / MaxParts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PartSizeFor(tt.total, tt.requested)
			assert.Equal(t, tt.want, got)
			if tt.total > 0 {
				assert.LessOrEqual(t, (tt.total+got-1)/got, int64(MaxParts))
			}
		})
	}
}

func TestBuildOptionsDefaults(t *testing.T) {
	o := buildOptions(nil)
	assert.Equal(t, int64(DefaultPartSize), o.PartSize)
	assert.Equal(t, DefaultUploadConcurrency, o.UploadConcurrency)
	assert.Equal(t, int64(DefaultReadChunkSize), o.ReadChunkSize)
	assert.Equal(t, DefaultReadConcurrency, o.ReadConcurrency)
	assert.Equal(t, DefaultPollInterval, o.PollInterval)
	assert.Equal(t, DefaultCloseTimeout, o.CloseTimeout)
	assert.Equal(t, DefaultDownloadDuration, o.DownloadDuration)

	o = buildOptions([]Option{WithPartSize(MinPartSize), WithReadConcurrency(2)})
	assert.Equal(t, int64(MinPartSize), o.PartSize)
	assert.Equal(t, 2, o.ReadConcurrency)
}

func TestRangeHeader(t *testing.T) {
	assert.Equal(t, "bytes=0-9", byteRange{start: 0, end: 10}.header())

	var got []byteRange
	for r := range ranges(5, 27, 10) {
		got = append(got, r)
	}
	assert.Equal(t, []byteRange{{5, 15}, {15, 25}, {25, 27}}, got)
}
