// Command bridge runs the chat bridge: persistent Telegram sessions, forward
// rules, and the media capture pipeline.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/marselk/tgbridge/internal/batch"
	"github.com/marselk/tgbridge/internal/config"
	"github.com/marselk/tgbridge/internal/database"
	"github.com/marselk/tgbridge/internal/filter"
	"github.com/marselk/tgbridge/internal/forward"
	"github.com/marselk/tgbridge/internal/logger"
	"github.com/marselk/tgbridge/internal/media"
	"github.com/marselk/tgbridge/internal/models"
	"github.com/marselk/tgbridge/internal/notify"
	"github.com/marselk/tgbridge/internal/repository"
	"github.com/marselk/tgbridge/internal/retryq"
	"github.com/marselk/tgbridge/internal/session"
	"github.com/marselk/tgbridge/internal/storage"
	"github.com/marselk/tgbridge/internal/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Info().Msg("bridge: starting")

	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		return fmt.Errorf("TG_API_ID and TG_API_HASH are required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NatsURL != "" {
		nc, err := notify.Connect(cfg.NatsURL, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		notifier = nc
	} else {
		log.Warn().Msg("bridge: NATS_URL not set, event notifications disabled")
	}

	accounts := repository.NewAccountsRepository(db.GORM)
	rules := repository.NewRulesRepository(db.GORM)
	tasks := repository.NewTasksRepository(db.GORM)
	mediaRepo := repository.NewMediaRepository(db.GORM)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.SeedFile != "" {
		if err := importSeed(ctx, cfg.SeedFile, cfg.MaxRetries, accounts, rules, log); err != nil {
			return fmt.Errorf("import seed: %w", err)
		}
	}

	// forward log writes are batched; records that fail even the per-record
	// fallback go to the replayer
	writer := batch.NewWriter(db.GORM, 0, 0, log)
	replayer := forward.NewReplayer(db.GORM, log)
	writer.SetDropHandler(func(_ string, record any) { replayer.Offer(record) })
	writer.Start()
	defer writer.Stop()
	go replayer.Run(ctx)

	engine, err := filter.NewEngine(0)
	if err != nil {
		return err
	}
	msgCache, err := filter.NewMessageCache(4096)
	if err != nil {
		return err
	}
	go msgCache.SweepLoop(ctx, 0)

	retries := retryq.New(retryq.Options{
		Workers:          cfg.RetryWorkers,
		SnapshotPath:     cfg.RetrySnapshotPath,
		SnapshotInterval: cfg.RetrySnapshotInterval,
	}, log)

	backends := map[string]storage.Backend{}
	if cfg.RemoteDir != "" {
		remote, err := storage.NewDirBackend(cfg.RemoteDir)
		if err != nil {
			return err
		}
		backends["remote"] = remote
	}
	archiver := media.NewArchiver(cfg.ArchiveDir, backends, log)

	forwarder := forward.NewPipeline(engine, msgCache, writer, rules, cfg.Location(), log)
	links := notify.NewLinkPublisher(notifier)

	// the pipeline downloads through the session manager, and the manager's
	// router feeds the pipeline; the indirection breaks the construction cycle
	dl := &lazyDownloader{}
	pipeline := media.NewPipeline(tasks, mediaRepo, rules, dl, archiver, notifier,
		cfg.DownloadDir, cfg.DownloadWorkers, cfg.QueueCapacity, log)
	pipeline.UseRetryQueue(retries)

	router := session.NewRouter(rules, forwarder, pipeline, links, log)
	manager := session.NewManager(cfg.TGApiID, cfg.TGApiHash, cfg.DataDir, accounts, telegram.NewPersistentClient, router, log)
	dl.manager = manager

	retries.Start(ctx)
	defer retries.Stop()

	if cfg.StorageMaxGB > 0 {
		guard := media.NewUsageGuard(int64(cfg.StorageMaxGB)<<30,
			[]string{cfg.DownloadDir, cfg.ArchiveDir}, notifier, log)
		go guard.Run(ctx)
	}

	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	if err := pipeline.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("bridge: download recovery failed")
	}

	if err := manager.StartAll(ctx); err != nil {
		return err
	}

	log.Info().Msg("bridge: running")
	<-ctx.Done()

	log.Info().Msg("bridge: shutting down")
	manager.StopAll()
	pipeline.Wait()
	return nil
}

// lazyDownloader defers session manager calls until after wiring, so the
// pipeline can be built before the manager that feeds it.
type lazyDownloader struct {
	manager *session.Manager
}

func (d *lazyDownloader) Download(ctx context.Context, accountID uuid.UUID, ev *telegram.Event, w io.Writer, progress telegram.ProgressFunc) (int64, error) {
	return d.manager.Download(ctx, accountID, ev, w, progress)
}

func (d *lazyDownloader) Fetch(ctx context.Context, accountID uuid.UUID, chatID int64, messageID int) (*telegram.Event, error) {
	return d.manager.Fetch(ctx, accountID, chatID, messageID)
}

// importSeed upserts the declarative seed into the database. Existing rows
// win; the seed never overwrites admin changes.
func importSeed(ctx context.Context, path string, maxRetries int, accounts *repository.AccountsRepository, rules *repository.RulesRepository, log *logger.Logger) error {
	seed, err := config.LoadSeed(path)
	if err != nil {
		return err
	}

	byName := make(map[string]*models.Account, len(seed.Accounts))
	changed := make(map[uuid.UUID]bool)
	for _, sa := range seed.Accounts {
		existing, err := accounts.GetByName(ctx, sa.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			byName[sa.Name] = existing
			continue
		}

		acc := &models.Account{
			Name:     sa.Name,
			Kind:     models.AccountKind(sa.Kind),
			Phone:    sa.Phone,
			BotToken: sa.BotToken,
			Enabled:  true,
		}
		if err := accounts.Create(ctx, acc); err != nil {
			return err
		}
		byName[sa.Name] = acc
		log.Info().Str("account", sa.Name).Msg("seed: account created")
	}

	for _, sr := range seed.ForwardRules {
		acc, ok := byName[sr.Account]
		if !ok {
			continue
		}
		existing, err := rules.EnabledForwardRules(ctx, acc.ID, sr.SourceChat)
		if err != nil {
			return err
		}
		if hasRuleNamed(existing, sr.Name) {
			continue
		}
		rule := &models.ForwardRule{
			AccountID:  acc.ID,
			Name:       sr.Name,
			SourceChat: sr.SourceChat,
			TargetChat: sr.TargetChat,
			Enabled:    true,
		}
		if err := rules.CreateForward(ctx, rule); err != nil {
			return err
		}
		changed[acc.ID] = ensureMonitored(acc, sr.SourceChat) || changed[acc.ID]
		log.Info().Str("rule", sr.Name).Msg("seed: forward rule created")
	}

	for _, sm := range seed.MonitorRules {
		acc, ok := byName[sm.Account]
		if !ok {
			continue
		}
		existing, err := rules.ActiveMonitorRules(ctx, acc.ID)
		if err != nil {
			return err
		}
		if hasMonitorNamed(existing, sm.Name) {
			continue
		}
		rule := &models.MonitorRule{
			AccountID:   acc.ID,
			Name:        sm.Name,
			SourceChats: sm.SourceChats,
			MediaTypes:  sm.MediaTypes,
			MinSizeMB:   sm.MinSizeMB,
			MaxSizeMB:   sm.MaxSizeMB,
			Active:      true,
			MaxRetries:  maxRetries,
		}
		if err := rules.CreateMonitor(ctx, rule); err != nil {
			return err
		}
		for _, chat := range sm.SourceChats {
			changed[acc.ID] = ensureMonitored(acc, chat) || changed[acc.ID]
		}
		log.Info().Str("rule", sm.Name).Msg("seed: monitor rule created")
	}

	for _, acc := range byName {
		if !changed[acc.ID] {
			continue
		}
		if err := accounts.SetMonitoredChats(ctx, acc.ID, acc.MonitoredChats); err != nil {
			return err
		}
	}

	return nil
}

func ensureMonitored(acc *models.Account, chat int64) bool {
	for _, c := range acc.MonitoredChats {
		if c == chat {
			return false
		}
	}
	acc.MonitoredChats = append(acc.MonitoredChats, chat)
	return true
}

func hasRuleNamed(rules []models.ForwardRule, name string) bool {
	for _, r := range rules {
		if r.Name == name {
			return true
		}
	}
	return false
}

func hasMonitorNamed(rules []models.MonitorRule, name string) bool {
	for _, r := range rules {
		if r.Name == name {
			return true
		}
	}
	return false
}
