package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/notify"
	"github.com/marselk/tgbridge/internal/retryq"
	"github.com/marselk/tgbridge/internal/telegram"
)

// Queue and worker defaults.
const (
	DefaultWorkers       = 5
	DefaultQueueCapacity = 256

	transferRetries = 3

	// ceiling on per-file metadata extraction
	metadataTimeout = 10 * time.Second

	// progress reporting thresholds
	progressLogStepPct    = 5
	progressPersistMinGap = 2 * time.Second
)

var (
	transferRetryDelay = 5 * time.Second

	// recovered tasks wait before re-entering the queue so the sessions have
	// time to come up
	recoveryDelay = 5 * time.Second
)

// ErrQueueFull is returned when the intake queue is at capacity. The caller
// drops the event; the message can be re-captured later by re-delivery.
var ErrQueueFull = errors.New("download queue is full")

// Downloader is the pipeline's only path to the network. Satisfied by the
// session manager.
type Downloader interface {
	Download(ctx context.Context, accountID uuid.UUID, ev *telegram.Event, w io.Writer, progress telegram.ProgressFunc) (int64, error)
	Fetch(ctx context.Context, accountID uuid.UUID, chatID int64, messageID int) (*telegram.Event, error)
}

// TaskStore is the slice of the tasks repository the pipeline needs.
type TaskStore interface {
	CreateIfAbsent(ctx context.Context, t *models.DownloadTask) (*models.DownloadTask, bool, error)
	MarkDownloading(ctx context.Context, id uuid.UUID) error
	MarkPending(ctx context.Context, id uuid.UUID) error
	MarkSuccess(ctx context.Context, id uuid.UUID, mediaFileID uuid.UUID, duplicate bool) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkExhausted(ctx context.Context, id uuid.UUID, reason string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, bytesDone int64) error
	ListInterrupted(ctx context.Context) ([]models.DownloadTask, error)
}

// MediaStore is the slice of the media repository the pipeline needs.
type MediaStore interface {
	GetByHash(ctx context.Context, hash string) (*models.MediaFile, error)
	Create(ctx context.Context, m *models.MediaFile) error
	IncrementRef(ctx context.Context, id uuid.UUID) error
	SetArchived(ctx context.Context, id uuid.UUID, archivedPath, remotePath string) error
	FlagOrganizeFailed(ctx context.Context, id uuid.UUID, reason string) error
	SetMetadata(ctx context.Context, id uuid.UUID, width, height, duration int, mime, metaErr string) error
}

// RuleStore resolves and updates monitor rules for recovered tasks.
type RuleStore interface {
	GetMonitor(ctx context.Context, id uuid.UUID) (*models.MonitorRule, error)
	IncrementMonitorFailures(ctx context.Context, id uuid.UUID) error
}

type queueItem struct {
	task models.DownloadTask
	rule models.MonitorRule

	// nil for recovered tasks; re-fetched before downloading
	ev *telegram.Event
}

// Pipeline turns matched attachments into archived, deduplicated files. A
// bounded queue feeds a fixed worker pool; every state change is persisted so
// a crash mid-transfer resumes as a fresh attempt after restart.
type Pipeline struct {
	tasks      TaskStore
	media      MediaStore
	rules      RuleStore
	downloader Downloader
	archiver   *Archiver
	notifier   notify.Notifier
	log        *logger.Logger

	downloadDir string
	workers     int

	// deferred archival retries, optional
	organize *retryq.Queue

	queue chan queueItem
	wg    sync.WaitGroup
}

// NewPipeline wires a media pipeline. Zero workers or capacity select the
// defaults.
func NewPipeline(tasks TaskStore, media MediaStore, rules RuleStore, downloader Downloader, archiver *Archiver, notifier notify.Notifier, downloadDir string, workers, capacity int, log *logger.Logger) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Pipeline{
		tasks:       tasks,
		media:       media,
		rules:       rules,
		downloader:  downloader,
		archiver:    archiver,
		notifier:    notifier,
		log:         log.Component("media"),
		downloadDir: downloadDir,
		workers:     workers,
		queue:       make(chan queueItem, capacity),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := os.MkdirAll(p.downloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return nil
}

// Wait blocks until all workers have exited after context cancellation.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// QueueLen returns the current intake backlog.
func (p *Pipeline) QueueLen() int {
	return len(p.queue)
}

// Process evaluates one event against one rule and, on match, creates and
// enqueues its download task. Re-delivery of an already-completed task is a
// no-op; a full queue refuses with ErrQueueFull.
func (p *Pipeline) Process(ctx context.Context, accountID uuid.UUID, rule *models.MonitorRule, ev *telegram.Event) error {
	ok, reason := Accepts(rule, ev)
	if !ok {
		p.log.Debug().
			Str("rule", rule.Name).
			Int64("chat_id", ev.ChatID).
			Int("message_id", ev.MessageID).
			Str("reason", reason).
			Msg("media: event not captured")
		return nil
	}

	task := &models.DownloadTask{
		RuleID:     rule.ID,
		AccountID:  accountID,
		ChatID:     ev.ChatID,
		MessageID:  ev.MessageID,
		SenderID:   ev.SenderID,
		FileName:   ev.FileName,
		MediaType:  ev.MediaType,
		TotalBytes: ev.FileSize,
		MaxRetries: rule.MaxRetries,
	}

	stored, created, err := p.tasks.CreateIfAbsent(ctx, task)
	if err != nil {
		return fmt.Errorf("register download task: %w", err)
	}
	if !created && stored.Terminal() {
		return nil
	}

	return p.enqueue(queueItem{task: *stored, rule: *rule, ev: ev})
}

// Recover re-enqueues tasks a previous run left unfinished. Tasks with spent
// retry budgets are terminally failed instead. Stale temp files are discarded
// because transfers never resume mid-file.
func (p *Pipeline) Recover(ctx context.Context) error {
	interrupted, err := p.tasks.ListInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("list interrupted tasks: %w", err)
	}
	if len(interrupted) == 0 {
		return nil
	}
	p.log.Info().Int("count", len(interrupted)).Msg("media: recovering interrupted tasks")

	requeued := 0
	for i := range interrupted {
		task := interrupted[i]
		p.discardTemp(task.ID)

		if task.RetriesExhausted() {
			if err := p.tasks.MarkExhausted(ctx, task.ID, "retry budget spent before restart"); err != nil {
				p.log.Warn().Err(err).Str("task_id", task.ID.String()).Msg("media: mark exhausted failed")
			}
			continue
		}

		rule, err := p.rules.GetMonitor(ctx, task.RuleID)
		if err != nil || rule == nil {
			if err := p.tasks.MarkExhausted(ctx, task.ID, "rule no longer exists"); err != nil {
				p.log.Warn().Err(err).Str("task_id", task.ID.String()).Msg("media: mark exhausted failed")
			}
			continue
		}

		if err := p.tasks.IncrementRetry(ctx, task.ID); err != nil {
			p.log.Warn().Err(err).Str("task_id", task.ID.String()).Msg("media: retry increment failed")
		}
		if err := p.tasks.MarkPending(ctx, task.ID); err != nil {
			p.log.Warn().Err(err).Str("task_id", task.ID.String()).Msg("media: reset to pending failed")
		}
		task.RetryCount++
		task.Status = models.TaskPending

		item := queueItem{task: task, rule: *rule}
		time.AfterFunc(recoveryDelay, func() {
			if err := p.enqueue(item); err != nil {
				p.log.Warn().Err(err).Str("task_id", item.task.ID.String()).Msg("media: recovery enqueue refused")
			}
		})
		requeued++
	}

	p.log.Info().Int("requeued", requeued).Msg("media: recovery scheduled")
	return nil
}

func (p *Pipeline) enqueue(item queueItem) error {
	select {
	case p.queue <- item:
		return nil
	default:
		return fmt.Errorf("%w: task %s", ErrQueueFull, item.task.ID)
	}
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.queue:
			if err := p.handle(ctx, item); err != nil {
				log.Error().Err(err).
					Str("task_id", item.task.ID.String()).
					Str("file", item.task.FileName).
					Msg("media: task attempt failed")
				p.fail(ctx, item, err)
			}
		}
	}
}

// handle runs one full download attempt: fetch bytes, hash, dedup, metadata,
// archive.
func (p *Pipeline) handle(ctx context.Context, item queueItem) error {
	task := item.task

	ev := item.ev
	if ev == nil {
		fetched, err := p.downloader.Fetch(ctx, task.AccountID, task.ChatID, task.MessageID)
		if err != nil {
			return fmt.Errorf("refetch source message: %w", err)
		}
		ev = fetched
	}

	if err := p.tasks.MarkDownloading(ctx, task.ID); err != nil {
		return fmt.Errorf("mark downloading: %w", err)
	}

	p.discardTemp(task.ID)
	tempPath := p.tempPath(task.ID)

	hash, size, err := p.transfer(ctx, &task, ev, tempPath)
	if err != nil {
		os.Remove(tempPath)
		return err
	}

	return p.finalize(ctx, item, tempPath, hash, size)
}

// transfer streams the attachment into the temp file with a bounded retry
// budget, hashing as it writes. A failed attempt truncates and restarts; no
// byte ranges are resumed.
func (p *Pipeline) transfer(ctx context.Context, task *models.DownloadTask, ev *telegram.Event, tempPath string) (string, int64, error) {
	var (
		hash string
		size int64
	)

	attempt := func() error {
		f, err := os.Create(tempPath)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create temp file: %w", err))
		}

		hasher := sha256.New()
		progress := p.progressFunc(ctx, task)
		n, err := p.downloader.Download(ctx, task.AccountID, ev, io.MultiWriter(f, hasher), progress)
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}

		hash = hex.EncodeToString(hasher.Sum(nil))
		size = n
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(transferRetryDelay), transferRetries-1),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		return "", 0, err
	}
	return hash, size, nil
}

// progressFunc builds a throttled progress reporter: a log line every few
// percent, a persisted byte count at most every couple of seconds.
func (p *Pipeline) progressFunc(ctx context.Context, task *models.DownloadTask) telegram.ProgressFunc {
	var mu sync.Mutex
	lastPct := -progressLogStepPct
	var lastPersist time.Time

	return func(done, total int64) {
		mu.Lock()
		defer mu.Unlock()

		if total > 0 {
			pct := int(done * 100 / total)
			if pct >= lastPct+progressLogStepPct {
				lastPct = pct
				p.log.Debug().
					Str("file", task.FileName).
					Int("pct", pct).
					Int64("bytes", done).
					Msg("media: transfer progress")
			}
		}

		if now := time.Now(); now.Sub(lastPersist) >= progressPersistMinGap {
			lastPersist = now
			if err := p.tasks.UpdateProgress(ctx, task.ID, done); err != nil {
				p.log.Warn().Err(err).Str("task_id", task.ID.String()).Msg("media: progress persist failed")
			}
		}
	}
}

// finalize deduplicates by content hash, extracts metadata and archives the
// file. Archival failure flags the record but never fails the task.
func (p *Pipeline) finalize(ctx context.Context, item queueItem, tempPath, hash string, size int64) error {
	task := item.task

	existing, err := p.media.GetByHash(ctx, hash)
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil {
		os.Remove(tempPath)
		if err := p.media.IncrementRef(ctx, existing.ID); err != nil {
			p.log.Warn().Err(err).Str("hash", hash).Msg("media: ref increment failed")
		}
		if err := p.tasks.MarkSuccess(ctx, task.ID, existing.ID, true); err != nil {
			return fmt.Errorf("mark duplicate success: %w", err)
		}
		p.log.Info().
			Str("file", task.FileName).
			Str("hash", hash).
			Msg("media: duplicate content, linked existing file")
		return nil
	}

	mf := &models.MediaFile{
		ContentHash: hash,
		FileName:    task.FileName,
		MediaType:   task.MediaType,
		SizeBytes:   size,
		TempPath:    tempPath,
	}
	if err := p.media.Create(ctx, mf); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("create media record: %w", err)
	}

	mctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	meta := ExtractMetadata(mctx, tempPath, task.MediaType)
	cancel()
	if err := p.media.SetMetadata(ctx, mf.ID, meta.Width, meta.Height, meta.Duration, meta.MimeType, meta.Err); err != nil {
		p.log.Warn().Err(err).Str("file", task.FileName).Msg("media: metadata persist failed")
	}

	archivedPath, remotePath, err := p.archiver.Archive(ctx, &item.rule, &task, tempPath)
	if err != nil {
		p.log.Error().Err(err).Str("file", task.FileName).Msg("media: archival failed, file stays in download dir")
		if ferr := p.media.FlagOrganizeFailed(ctx, mf.ID, err.Error()); ferr != nil {
			p.log.Warn().Err(ferr).Msg("media: organize flag persist failed")
		}
		p.scheduleOrganize(item, mf.ID, tempPath)
	} else if err := p.media.SetArchived(ctx, mf.ID, archivedPath, remotePath); err != nil {
		p.log.Warn().Err(err).Msg("media: archived path persist failed")
	}

	if err := p.tasks.MarkSuccess(ctx, task.ID, mf.ID, false); err != nil {
		return fmt.Errorf("mark success: %w", err)
	}

	p.notifier.Notify(ctx, notify.SubjectMediaArchived, map[string]any{
		"media_file_id": mf.ID,
		"rule_id":       item.rule.ID,
		"file_name":     task.FileName,
		"size_bytes":    size,
		"content_hash":  hash,
		"archived_path": archivedPath,
		"remote_path":   remotePath,
	})

	p.log.Info().
		Str("file", task.FileName).
		Int64("bytes", size).
		Str("archived", archivedPath+remotePath).
		Msg("media: capture complete")
	return nil
}

// fail records one failed attempt and re-enqueues while budget remains.
func (p *Pipeline) fail(ctx context.Context, item queueItem, cause error) {
	task := item.task

	if err := p.tasks.MarkFailed(ctx, task.ID, cause.Error()); err != nil {
		p.log.Warn().Err(err).Str("task_id", task.ID.String()).Msg("media: mark failed failed")
	}
	task.RetryCount++

	if task.RetriesExhausted() {
		if err := p.tasks.MarkExhausted(ctx, task.ID, cause.Error()); err != nil {
			p.log.Warn().Err(err).Str("task_id", task.ID.String()).Msg("media: mark exhausted failed")
		}
		if err := p.rules.IncrementMonitorFailures(ctx, task.RuleID); err != nil {
			p.log.Warn().Err(err).Str("rule_id", task.RuleID.String()).Msg("media: rule failure counter update failed")
		}
		p.log.Error().
			Str("task_id", task.ID.String()).
			Str("file", task.FileName).
			Int("retries", task.RetryCount).
			Msg("media: retry budget spent, task abandoned")
		return
	}

	retry := queueItem{task: task, rule: item.rule, ev: item.ev}
	time.AfterFunc(transferRetryDelay, func() {
		if err := p.enqueue(retry); err != nil {
			p.log.Warn().Err(err).Str("task_id", task.ID.String()).Msg("media: retry enqueue refused")
		}
	})
}

func (p *Pipeline) tempPath(taskID uuid.UUID) string {
	return filepath.Join(p.downloadDir, taskID.String()+".part")
}

func (p *Pipeline) discardTemp(taskID uuid.UUID) {
	path := p.tempPath(taskID)
	if err := os.Remove(path); err == nil {
		p.log.Debug().Str("path", path).Msg("media: discarded stale temp file")
	}
}
