package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/storage"
)

// DefaultPathTemplate organizes archives by day and media type.
const DefaultPathTemplate = "{date}/{type}/{filename}"

// Archiver moves finished downloads into their final home, locally or through
// a remote backend, according to the rule's path template.
type Archiver struct {
	archiveDir string
	backends   map[string]storage.Backend
	log        *logger.Logger
}

// NewArchiver creates an archiver rooted at archiveDir. backends maps rule
// backend names to storage implementations.
func NewArchiver(archiveDir string, backends map[string]storage.Backend, log *logger.Logger) *Archiver {
	if backends == nil {
		backends = map[string]storage.Backend{}
	}
	return &Archiver{
		archiveDir: archiveDir,
		backends:   backends,
		log:        log.Component("archive"),
	}
}

// Archive places the temp file per the rule. It returns the final local and
// remote paths; exactly one is set depending on the archive target.
func (a *Archiver) Archive(ctx context.Context, rule *models.MonitorRule, task *models.DownloadTask, tempPath string) (string, string, error) {
	rel := expandTemplate(templateOf(rule), task)

	if rule.ArchiveTarget == models.ArchiveRemote {
		backend, ok := a.backends[rule.RemoteBackend]
		if !ok {
			return "", "", fmt.Errorf("unknown remote backend %q", rule.RemoteBackend)
		}
		remotePath := filepath.Join(rule.RemoteDir, rel)
		if err := backend.Upload(ctx, tempPath, remotePath); err != nil {
			return "", "", fmt.Errorf("upload to %s: %w", rule.RemoteBackend, err)
		}
		if err := os.Remove(tempPath); err != nil {
			a.log.Warn().Err(err).Str("path", tempPath).Msg("archive: temp cleanup failed after upload")
		}
		return "", remotePath, nil
	}

	dst := uniquePath(filepath.Join(a.archiveDir, rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", "", fmt.Errorf("create archive dir: %w", err)
	}
	if err := moveFile(tempPath, dst); err != nil {
		return "", "", fmt.Errorf("move to archive: %w", err)
	}
	return dst, "", nil
}

func templateOf(rule *models.MonitorRule) string {
	if rule.PathTemplate != "" {
		return rule.PathTemplate
	}
	return DefaultPathTemplate
}

// expandTemplate substitutes the path tokens. Unknown tokens pass through
// untouched so a typo is visible in the resulting path instead of silently
// eaten.
func expandTemplate(tpl string, task *models.DownloadTask) string {
	now := task.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	replacer := strings.NewReplacer(
		"{date}", now.Format("2006-01-02"),
		"{year}", now.Format("2006"),
		"{month}", now.Format("01"),
		"{day}", now.Format("02"),
		"{type}", string(task.MediaType),
		"{chat}", strconv.FormatInt(task.ChatID, 10),
		"{sender}", strconv.FormatInt(task.SenderID, 10),
		"{filename}", sanitizeFilename(task.FileName),
	)
	rel := replacer.Replace(tpl)

	if !strings.Contains(tpl, "{filename}") {
		rel = filepath.Join(rel, sanitizeFilename(task.FileName))
	}
	return rel
}

// sanitizeFilename strips path separators and traversal from a remote-supplied
// name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == ".." {
		return "unnamed"
	}
	return name
}

// uniquePath appends a numeric suffix when the destination already exists.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// moveFile renames, falling back to copy and delete across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
