package telegram

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/marselk/tgbridge/internal/models"
)

// ClassifyMedia maps raw message media to the bridge's media taxonomy.
// Voice, sticker and animation are document sub-cases distinguished by their
// attributes; webpage previews carry no downloadable bytes.
func ClassifyMedia(media tg.MessageMediaClass) (models.MediaType, string, int64) {
	switch m := media.(type) {
	case nil:
		return models.MediaTypeText, "", 0
	case *tg.MessageMediaWebPage:
		return models.MediaTypeWebpage, "", 0
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return models.MediaTypeText, "", 0
		}
		return models.MediaTypePhoto, fmt.Sprintf("photo_%d.jpg", photo.ID), photoSize(photo)
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return models.MediaTypeText, "", 0
		}
		return classifyDocument(doc)
	default:
		return models.MediaTypeText, "", 0
	}
}

func classifyDocument(doc *tg.Document) (models.MediaType, string, int64) {
	mediaType := models.MediaTypeDocument
	fileName := fmt.Sprintf("doc_%d", doc.ID)
	isVideo := false

	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			fileName = a.FileName
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				mediaType = models.MediaTypeVoice
			} else {
				mediaType = models.MediaTypeAudio
			}
		case *tg.DocumentAttributeSticker:
			mediaType = models.MediaTypeSticker
		case *tg.DocumentAttributeAnimated:
			mediaType = models.MediaTypeAnimation
		case *tg.DocumentAttributeVideo:
			isVideo = true
		}
	}

	// GIF-style media carries both video and animated attributes; animated wins
	if isVideo && mediaType == models.MediaTypeDocument {
		mediaType = models.MediaTypeVideo
	}

	return mediaType, fileName, doc.Size
}

func photoSize(photo *tg.Photo) int64 {
	var best int64
	for _, s := range photo.Sizes {
		if sz, ok := s.(*tg.PhotoSize); ok && int64(sz.Size) > best {
			best = int64(sz.Size)
		}
	}
	return best
}

// inputLocation builds the download location for a message's media.
func inputLocation(media tg.MessageMediaClass) (tg.InputFileLocationClass, error) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, fmt.Errorf("photo media without photo")
		}
		thumb := largestThumb(photo)
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumb,
		}, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, fmt.Errorf("document media without document")
		}
		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, nil
	default:
		return nil, fmt.Errorf("media type %T has no downloadable location", media)
	}
}

func largestThumb(photo *tg.Photo) string {
	thumb := ""
	var best int
	for _, s := range photo.Sizes {
		if sz, ok := s.(*tg.PhotoSize); ok && sz.Size > best {
			best = sz.Size
			thumb = sz.Type
		}
	}
	return thumb
}

// ProgressFunc receives byte progress during a transfer.
type ProgressFunc func(done, total int64)

// progressWriter counts transferred bytes and reports them.
type progressWriter struct {
	w        io.Writer
	done     atomic.Int64
	total    int64
	progress ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 && p.progress != nil {
		p.progress(p.done.Add(int64(n)), p.total)
	}
	return n, err
}

// DownloadMedia streams a message's attachment bytes into w, reporting
// progress along the way. The transfer is a whole-file stream; there is no
// byte-range resume, partial output must be discarded by the caller on error.
func DownloadMedia(ctx context.Context, api *tg.Client, media tg.MessageMediaClass, total int64, w io.Writer, progress ProgressFunc) (int64, error) {
	loc, err := inputLocation(media)
	if err != nil {
		return 0, err
	}

	pw := &progressWriter{w: w, total: total, progress: progress}
	if _, err := downloader.NewDownloader().Download(api, loc).Stream(ctx, pw); err != nil {
		return pw.done.Load(), fmt.Errorf("stream media: %w", err)
	}
	return pw.done.Load(), nil
}
