package media

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marselk/tgbridge/internal/models"
)

func writePNG(t *testing.T, width, height int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	path := filepath.Join(t.TempDir(), "sample.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractMetadata_ImageDimensions(t *testing.T) {
	path := writePNG(t, 640, 480)

	meta := ExtractMetadata(context.Background(), path, models.MediaTypePhoto)
	assert.Empty(t, meta.Err)
	assert.Equal(t, 640, meta.Width)
	assert.Equal(t, 480, meta.Height)
	assert.Equal(t, "image/png", meta.MimeType)
}

func TestExtractMetadata_CorruptImageIsNonFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	meta := ExtractMetadata(context.Background(), path, models.MediaTypePhoto)
	assert.NotEmpty(t, meta.Err)
	assert.Zero(t, meta.Width)
}

func TestExtractMetadata_ExpiredDeadlineIsNonFatal(t *testing.T) {
	path := writePNG(t, 32, 32)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// extraction past its deadline records a timeout instead of dimensions;
	// the file remains archivable
	meta := ExtractMetadata(ctx, path, models.MediaTypePhoto)
	assert.Contains(t, meta.Err, "timed out")
	assert.Zero(t, meta.Width)
	assert.Equal(t, "image/png", meta.MimeType)
}

func TestExtractMetadata_VideoSkipsContainerParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	meta := ExtractMetadata(context.Background(), path, models.MediaTypeVideo)
	assert.Zero(t, meta.Duration)
	assert.NotEmpty(t, meta.Err)
}

func TestExtractMetadata_DocumentIsMimeOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	meta := ExtractMetadata(context.Background(), path, models.MediaTypeDocument)
	assert.Empty(t, meta.Err)
	assert.Equal(t, "application/pdf", meta.MimeType)
}
