package media

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/telegram"
)

func docEvent(name string, sizeBytes int64) *telegram.Event {
	return &telegram.Event{
		ChatID:    -100,
		MessageID: 1,
		SenderID:  7,
		Sender:    "alice",
		MediaType: models.MediaTypeDocument,
		FileName:  name,
		FileSize:  sizeBytes,
	}
}

func activeRule() *models.MonitorRule {
	return &models.MonitorRule{
		Name:        "capture",
		SourceChats: []int64{-100},
		Active:      true,
	}
}

func TestAccepts_SizeWindow(t *testing.T) {
	rule := activeRule()
	rule.MinSizeMB = 10
	rule.MaxSizeMB = 100

	tests := []struct {
		name   string
		sizeMB int64
		want   bool
	}{
		{"below minimum", 5, false},
		{"inside window", 50, true},
		{"above maximum", 150, false},
		{"exactly at minimum", 10, true},
		{"exactly at maximum", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := Accepts(rule, docEvent("a.bin", tt.sizeMB*bytesPerMB))
			assert.Equal(t, tt.want, ok, reason)
		})
	}
}

func TestAccepts_UnboundedMaxSize(t *testing.T) {
	rule := activeRule()
	rule.MinSizeMB = 1

	ok, _ := Accepts(rule, docEvent("huge.iso", 5000*bytesPerMB))
	assert.True(t, ok, "zero max means no upper bound")
}

func TestAccepts_InactiveRule(t *testing.T) {
	rule := activeRule()
	rule.Active = false

	ok, reason := Accepts(rule, docEvent("a.bin", bytesPerMB))
	assert.False(t, ok)
	assert.Equal(t, "rule inactive", reason)
}

func TestAccepts_NoAttachment(t *testing.T) {
	ev := docEvent("", 0)
	ev.MediaType = models.MediaTypeText

	ok, _ := Accepts(activeRule(), ev)
	assert.False(t, ok)

	ev.MediaType = models.MediaTypeWebpage
	ok, _ = Accepts(activeRule(), ev)
	assert.False(t, ok, "webpage previews carry no downloadable bytes")
}

func TestAccepts_MediaTypeList(t *testing.T) {
	rule := activeRule()
	rule.MediaTypes = []string{"video", "document"}

	ok, _ := Accepts(rule, docEvent("a.bin", bytesPerMB))
	assert.True(t, ok)

	ev := docEvent("a.ogg", bytesPerMB)
	ev.MediaType = models.MediaTypeVoice
	ok, _ = Accepts(rule, ev)
	assert.False(t, ok)
}

func TestAccepts_FilenamePatterns(t *testing.T) {
	rule := activeRule()
	rule.FilenameInclude = []string{"backup"}
	rule.FilenameExclude = []string{"partial"}

	ok, _ := Accepts(rule, docEvent("db-BACKUP-2024.tar", bytesPerMB))
	assert.True(t, ok, "include match is case insensitive")

	ok, _ = Accepts(rule, docEvent("backup-partial.tar", bytesPerMB))
	assert.False(t, ok, "exclude wins over include")

	ok, _ = Accepts(rule, docEvent("notes.txt", bytesPerMB))
	assert.False(t, ok, "no include pattern matched")
}

func TestAccepts_ExtensionAllowList(t *testing.T) {
	rule := activeRule()
	rule.Extensions = []string{"pdf", "epub"}

	ok, _ := Accepts(rule, docEvent("book.PDF", bytesPerMB))
	assert.True(t, ok)

	ok, _ = Accepts(rule, docEvent("archive.zip", bytesPerMB))
	assert.False(t, ok)
}

func TestAccepts_SenderGate(t *testing.T) {
	rule := activeRule()
	rule.SenderFilterMode = models.SenderFilterDeny
	rule.SenderList = []string{"alice"}

	ok, _ := Accepts(rule, docEvent("a.bin", bytesPerMB))
	assert.False(t, ok)

	rule.SenderList = []string{"bob"}
	ok, _ = Accepts(rule, docEvent("a.bin", bytesPerMB))
	assert.True(t, ok)
}
