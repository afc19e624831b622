package media

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/retryq"
)

// TaskOrganize is the retry queue task type for deferred archival. A mount
// coming back or disk space being freed makes a later attempt succeed without
// re-downloading anything.
const TaskOrganize retryq.TaskType = "media.organize"

const (
	organizeBaseDelay  = 30 * time.Second
	organizeMaxRetries = 5
)

type organizePayload struct {
	MediaFileID uuid.UUID        `json:"media_file_id"`
	RuleID      uuid.UUID        `json:"rule_id"`
	TempPath    string           `json:"temp_path"`
	FileName    string           `json:"file_name"`
	MediaType   models.MediaType `json:"media_type"`
	ChatID      int64            `json:"chat_id"`
	SenderID    int64            `json:"sender_id"`
	CreatedAt   time.Time        `json:"created_at"`
}

// UseRetryQueue registers the deferred organize handler and enables
// scheduling of failed archivals. Must be called before the queue starts.
func (p *Pipeline) UseRetryQueue(q *retryq.Queue) {
	p.organize = q
	q.Register(TaskOrganize, p.handleOrganize)
}

// scheduleOrganize defers another archival attempt for a file whose first
// organize failed. Without a retry queue the failure stays flagged on the
// record only.
func (p *Pipeline) scheduleOrganize(item queueItem, mediaFileID uuid.UUID, tempPath string) {
	if p.organize == nil {
		return
	}

	payload, err := json.Marshal(organizePayload{
		MediaFileID: mediaFileID,
		RuleID:      item.rule.ID,
		TempPath:    tempPath,
		FileName:    item.task.FileName,
		MediaType:   item.task.MediaType,
		ChatID:      item.task.ChatID,
		SenderID:    item.task.SenderID,
		CreatedAt:   item.task.CreatedAt,
	})
	if err != nil {
		p.log.Error().Err(err).Msg("media: organize payload marshal failed")
		return
	}

	err = p.organize.Schedule(retryq.Task{
		ID:         "organize:" + mediaFileID.String(),
		Type:       TaskOrganize,
		Payload:    payload,
		MaxRetries: organizeMaxRetries,
		Strategy:   retryq.StrategyExponential,
		BaseDelay:  organizeBaseDelay,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("media_file_id", mediaFileID.String()).Msg("media: organize retry not scheduled")
	}
}

// handleOrganize retries the archival of one already-downloaded file.
func (p *Pipeline) handleOrganize(ctx context.Context, raw json.RawMessage) error {
	var payload organizePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode organize payload: %w", err)
	}

	rule, err := p.rules.GetMonitor(ctx, payload.RuleID)
	if err != nil {
		return fmt.Errorf("load rule: %w", err)
	}
	if rule == nil {
		// rule deleted, nothing to organize against; leave the file flagged
		return nil
	}

	task := &models.DownloadTask{
		RuleID:    payload.RuleID,
		ChatID:    payload.ChatID,
		SenderID:  payload.SenderID,
		FileName:  payload.FileName,
		MediaType: payload.MediaType,
		CreatedAt: payload.CreatedAt,
	}

	archivedPath, remotePath, err := p.archiver.Archive(ctx, rule, task, payload.TempPath)
	if err != nil {
		return fmt.Errorf("archive retry: %w", err)
	}
	if err := p.media.SetArchived(ctx, payload.MediaFileID, archivedPath, remotePath); err != nil {
		return fmt.Errorf("persist archived path: %w", err)
	}

	p.log.Info().
		Str("file", payload.FileName).
		Str("archived", archivedPath+remotePath).
		Msg("media: deferred archival succeeded")
	return nil
}
