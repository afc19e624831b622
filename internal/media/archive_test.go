package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/storage"
)

func testTask() *models.DownloadTask {
	return &models.DownloadTask{
		ChatID:    -100555,
		SenderID:  42,
		FileName:  "report.pdf",
		MediaType: models.MediaTypeDocument,
		CreatedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestExpandTemplate(t *testing.T) {
	task := testTask()

	tests := []struct {
		name string
		tpl  string
		want string
	}{
		{"date and type", "{date}/{type}/{filename}", "2026-03-14/document/report.pdf"},
		{"split date parts", "{year}/{month}/{day}/{filename}", "2026/03/14/report.pdf"},
		{"chat and sender", "{chat}/{sender}/{filename}", "-100555/42/report.pdf"},
		{"filename appended when token absent", "{date}/{type}", "2026-03-14/document/report.pdf"},
		{"unknown token passes through", "{bogus}/{filename}", "{bogus}/report.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandTemplate(tt.tpl, task))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`..\..\windows\system32`, "system32"},
		{"", "unnamed"},
		{"..", "unnamed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), "input %q", tt.in)
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")

	assert.Equal(t, path, uniquePath(path), "free path is used as is")

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	next := uniquePath(path)
	assert.Equal(t, filepath.Join(dir, "file_1.txt"), next)

	require.NoError(t, os.WriteFile(next, []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(dir, "file_2.txt"), uniquePath(path))
}

func TestArchiver_Local(t *testing.T) {
	archiveDir := t.TempDir()
	tempDir := t.TempDir()

	src := filepath.Join(tempDir, "dl.part")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	a := NewArchiver(archiveDir, nil, logger.Nop())
	rule := &models.MonitorRule{PathTemplate: "{type}/{filename}", ArchiveTarget: models.ArchiveLocal}

	archived, remote, err := a.Archive(context.Background(), rule, testTask(), src)
	require.NoError(t, err)
	assert.Empty(t, remote)
	assert.Equal(t, filepath.Join(archiveDir, "document", "report.pdf"), archived)

	data, err := os.ReadFile(archived)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "temp file moved away")
}

func TestArchiver_Remote(t *testing.T) {
	remoteRoot := t.TempDir()
	tempDir := t.TempDir()

	src := filepath.Join(tempDir, "dl.part")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	backend, err := storage.NewDirBackend(remoteRoot)
	require.NoError(t, err)

	a := NewArchiver(t.TempDir(), map[string]storage.Backend{"mount": backend}, logger.Nop())
	rule := &models.MonitorRule{
		ArchiveTarget: models.ArchiveRemote,
		RemoteBackend: "mount",
		RemoteDir:     "captures",
		PathTemplate:  "{filename}",
	}

	archived, remote, err := a.Archive(context.Background(), rule, testTask(), src)
	require.NoError(t, err)
	assert.Empty(t, archived)
	assert.Equal(t, filepath.Join("captures", "report.pdf"), remote)

	data, err := os.ReadFile(filepath.Join(remoteRoot, "captures", "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "temp file removed after upload")
}

func TestArchiver_UnknownBackend(t *testing.T) {
	a := NewArchiver(t.TempDir(), nil, logger.Nop())
	rule := &models.MonitorRule{ArchiveTarget: models.ArchiveRemote, RemoteBackend: "missing"}

	_, _, err := a.Archive(context.Background(), rule, testTask(), "whatever")
	assert.Error(t, err)
}

func TestArchiver_CollisionGetsSuffix(t *testing.T) {
	archiveDir := t.TempDir()
	tempDir := t.TempDir()
	a := NewArchiver(archiveDir, nil, logger.Nop())
	rule := &models.MonitorRule{PathTemplate: "{filename}", ArchiveTarget: models.ArchiveLocal}

	for i := 0; i < 2; i++ {
		src := filepath.Join(tempDir, "dl.part")
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
		_, _, err := a.Archive(context.Background(), rule, testTask(), src)
		require.NoError(t, err)
	}

	_, err := os.Stat(filepath.Join(archiveDir, "report.pdf"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archiveDir, "report_1.pdf"))
	require.NoError(t, err, "second identical name gets a suffix")
}
