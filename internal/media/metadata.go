package media

import (
	"context"
	"fmt"
	"image"
	"mime"
	"os"
	"path/filepath"
	"strings"

	// register the decoders used for dimension probing
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/marselk/tgbridge/internal/models"
)

// Metadata is the best-effort extraction result for a downloaded file.
type Metadata struct {
	MimeType string
	Width    int
	Height   int
	Duration int
	Err      string
}

// ExtractMetadata inspects a downloaded file under the deadline carried by
// ctx. Images get dimensions from their headers; audio and video are
// identified by extension only, since container parsing is out of scope for
// the bridge. Failures and timeouts are recorded, never fatal: a file with no
// metadata is still archivable.
func ExtractMetadata(ctx context.Context, path string, mediaType models.MediaType) Metadata {
	meta := Metadata{
		MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
	}

	switch mediaType {
	case models.MediaTypePhoto, models.MediaTypeSticker:
		w, h, err := imageDimensions(ctx, path)
		if err != nil {
			meta.Err = err.Error()
			return meta
		}
		meta.Width, meta.Height = w, h
	case models.MediaTypeVideo, models.MediaTypeAnimation, models.MediaTypeAudio, models.MediaTypeVoice:
		meta.Err = "duration not extracted, container parsing unsupported"
	}

	return meta
}

type dimensions struct {
	width, height int
	err           error
}

// imageDimensions decodes just the image header. The decode runs on its own
// goroutine so a pathological file cannot hold a download worker past the
// caller's deadline.
func imageDimensions(ctx context.Context, path string) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, fmt.Errorf("metadata extraction timed out: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open for inspection: %w", err)
	}

	result := make(chan dimensions, 1)
	go func() {
		defer f.Close()
		cfg, _, err := image.DecodeConfig(f)
		if err != nil {
			result <- dimensions{err: fmt.Errorf("decode image header: %w", err)}
			return
		}
		result <- dimensions{width: cfg.Width, height: cfg.Height}
	}()

	select {
	case d := <-result:
		return d.width, d.height, d.err
	case <-ctx.Done():
		return 0, 0, fmt.Errorf("metadata extraction timed out: %w", ctx.Err())
	}
}
