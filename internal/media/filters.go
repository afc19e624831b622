// Package media runs the capture pipeline: matched attachments become
// download tasks, workers fetch and deduplicate the bytes, and finished files
// are archived by rule.
package media

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/telegram"
)

const bytesPerMB = 1024 * 1024

// Accepts reports whether a monitor rule claims the event's attachment, and
// the refusal reason when it does not. Gates run cheapest first.
func Accepts(rule *models.MonitorRule, ev *telegram.Event) (bool, string) {
	if !rule.Active {
		return false, "rule inactive"
	}
	if !ev.HasAttachment() {
		return false, "no attachment"
	}

	if len(rule.MediaTypes) > 0 && !containsFold(rule.MediaTypes, string(ev.MediaType)) {
		return false, fmt.Sprintf("type %s not captured", ev.MediaType)
	}

	sizeMB := float64(ev.FileSize) / bytesPerMB
	if rule.MinSizeMB > 0 && sizeMB < rule.MinSizeMB {
		return false, fmt.Sprintf("%.1fMB below minimum %.1fMB", sizeMB, rule.MinSizeMB)
	}
	if rule.MaxSizeMB > 0 && sizeMB > rule.MaxSizeMB {
		return false, fmt.Sprintf("%.1fMB above maximum %.1fMB", sizeMB, rule.MaxSizeMB)
	}

	name := strings.ToLower(ev.FileName)
	for _, pattern := range rule.FilenameExclude {
		if pattern != "" && strings.Contains(name, strings.ToLower(pattern)) {
			return false, fmt.Sprintf("filename matches exclude %q", pattern)
		}
	}
	if len(rule.FilenameInclude) > 0 {
		matched := false
		for _, pattern := range rule.FilenameInclude {
			if pattern != "" && strings.Contains(name, strings.ToLower(pattern)) {
				matched = true
				break
			}
		}
		if !matched {
			return false, "filename matches no include pattern"
		}
	}

	if len(rule.Extensions) > 0 {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(ev.FileName)), ".")
		if !containsFold(rule.Extensions, ext) {
			return false, fmt.Sprintf("extension %q not allowed", ext)
		}
	}

	if !senderAllowed(rule, ev) {
		return false, "sender filtered"
	}

	return true, ""
}

func senderAllowed(rule *models.MonitorRule, ev *telegram.Event) bool {
	if rule.SenderFilterMode == models.SenderFilterOff || rule.SenderFilterMode == "" {
		return true
	}

	listed := false
	for _, entry := range rule.SenderList {
		if entry == ev.Sender || entry == strconv.FormatInt(ev.SenderID, 10) {
			listed = true
			break
		}
	}

	switch rule.SenderFilterMode {
	case models.SenderFilterAllow:
		return listed
	case models.SenderFilterDeny:
		return !listed
	default:
		return true
	}
}

func containsFold(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), value) {
			return true
		}
	}
	return false
}
