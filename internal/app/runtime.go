package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/fundihub/fundichat/internal/bus"
	"github.com/fundihub/fundichat/internal/chat"
	"github.com/fundihub/fundichat/internal/config"
	"github.com/fundihub/fundichat/internal/connectors"
	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/logging"
	"github.com/fundihub/fundichat/internal/media"
	"github.com/fundihub/fundichat/internal/messaging"
	"github.com/fundihub/fundichat/internal/metrics"
	"github.com/fundihub/fundichat/internal/notifications"
	"github.com/fundihub/fundichat/internal/persistence"
	"github.com/fundihub/fundichat/internal/platform"
	"github.com/fundihub/fundichat/internal/restapi"
	"github.com/fundihub/fundichat/internal/transport"
	"github.com/fundihub/fundichat/internal/upload"
	"github.com/fundihub/fundichat/internal/wire"
)

const writerShutdownTimeout = 3 * time.Second

// Options customizes Initialize. The zero value resolves everything from
// the user's environment.
type Options struct {
	// Paths overrides the per-user directories.
	Paths *Paths
	// Lookup reads environment overrides; nil means os.LookupEnv.
	Lookup func(string) (string, bool)
	// Sender replaces desktop notifications.
	Sender notifications.Sender
	// Capture replaces the external recorder used for voice notes.
	Capture media.AudioCapture
	// Foreground reports whether the user is looking at the chat.
	Foreground func() bool
	// Quiet drops console logs; the log file still follows config.
	Quiet bool
	// CheckUpdates polls the release feed in the background.
	CheckUpdates bool
	// Exclusive holds the session lock on the data dir until Close, so two
	// long-running sessions never share one cache.
	Exclusive bool
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths       Paths
	Config      config.AppConfig
	Credentials config.Credentials

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB
	Metrics    *metrics.Metrics

	ConversationRepo *persistence.ConversationRepo
	MessageRepo      *persistence.MessageRepo
	WriterQueue      *persistence.WriterQueue
	Store            *domain.ConversationStore

	REST          *restapi.Client
	Uploader      *upload.Client
	Messaging     *messaging.Client
	Chat          *chat.Controller
	Notifications *NotificationService
	Updates       *UpdateChecker

	connStatusMu sync.RWMutex
	connStatus   connectors.ConnStatus

	sessionLock platform.SessionLock
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := resolveRuntimePaths(opts)
	if err != nil {
		return nil, err
	}
	lookup := opts.Lookup
	if lookup == nil {
		if err := config.LoadDotEnv(paths.EnvFile, EnvFilename); err != nil {
			return nil, err
		}
		lookup = os.LookupEnv
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var lock platform.SessionLock
	if opts.Exclusive {
		lock, err = platform.AcquireSessionLock(paths.RootDir)
		if errors.Is(err, platform.ErrSessionActive) {
			return nil, fmt.Errorf("%w (pid %d)", err, platform.SessionOwner(paths.RootDir))
		}
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:         ctx,
		cancel:      cancel,
		Paths:       paths,
		Config:      cfg,
		Credentials: config.CredentialsFromEnv(lookup),
		connStatus:  ConnectionStatusFromConfig(cfg.Backend),
		sessionLock: lock,
	}

	logMgr := logging.NewManager()
	if opts.Quiet {
		logMgr = logging.NewDiscard()
	}
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		_ = rt.Close()

		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting fundichat runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		_ = rt.Close()

		return nil, err
	}
	rt.DB = db
	rt.ConversationRepo = persistence.NewConversationRepo(db)
	rt.MessageRepo = persistence.NewMessageRepo(db)

	store := domain.NewConversationStore()
	if err := domain.LoadStoreFromRepositories(ctx, store, rt.ConversationRepo, rt.MessageRepo); err != nil {
		_ = rt.Close()

		return nil, err
	}
	rt.Store = store

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	bus.Listen(ctx, b, connectors.TopicConnStatus, rt.setConnStatus)

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), WriterQueueCapacity)
	writerQueue.Start(ctx)
	rt.WriterQueue = writerQueue
	domain.StartPersistenceProjection(ctx, b, writerQueue, rt.ConversationRepo, rt.MessageRepo)

	rt.Metrics = metrics.New()
	rt.buildSession(opts)

	beeep.AppName = Name
	sender := opts.Sender
	if sender == nil {
		sender = notifications.NewDesktopSender(logMgr.Logger("notifications"), "")
	}
	rt.Notifications = NewNotificationService(b, store, rt.CurrentConfig, opts.Foreground, sender, logMgr.Logger("app.notifications"))
	rt.Notifications.Start(ctx)

	rt.Updates = NewUpdateChecker(UpdateCheckerConfig{
		CurrentVersion: BuildVersion(),
		Logger:         logMgr.Logger("app.updates"),
		Bus:            b,
	})
	if opts.CheckUpdates {
		rt.Updates.Start(ctx)
	}

	return rt, nil
}

// buildSession wires the REST client, uploader, socket client and
// controller for one signed-in user.
func (r *Runtime) buildSession(opts Options) {
	cfg := r.Config
	logMgr := r.LogManager

	r.REST = restapi.NewClient(logMgr.Logger("restapi"), cfg.Backend.APIBaseURL, time.Duration(cfg.Backend.RequestTimeoutMS)*time.Millisecond)
	r.REST.SetToken(r.Credentials.Token)

	uploadOpts := upload.OptionsFromConfig(cfg.Upload, r.Paths.UploadDir)
	uploadOpts.Metrics = r.Metrics
	r.Uploader = upload.NewClient(logMgr.Logger("upload"), uploadOpts)

	msgOpts := messaging.OptionsFromConfig(cfg.Transport)
	msgOpts.Fallback = r.REST
	msgOpts.Bus = r.Bus
	msgOpts.Metrics = r.Metrics
	r.Messaging = messaging.NewClient(
		logMgr.Logger("messaging"),
		transport.NewWebSocketTransport(cfg.Backend.SocketURL),
		wire.NewJSONCodec(),
		msgOpts,
	)

	capture := opts.Capture
	if capture == nil {
		capture = media.NewCommandCapture(logMgr.Logger("media"))
	}
	chatOpts := chat.OptionsFromConfig(cfg.Chat)
	chatOpts.Bus = r.Bus
	chatOpts.Capture = capture
	r.Chat = chat.NewController(logMgr.Logger("chat"), r.Messaging, r.REST, r.Uploader, r.Store, chatOpts)
}

// StartSession signs the user in: the REST token is set and the controller
// connects and loads conversations. Empty credentials fall back to the
// ones from the environment.
func (r *Runtime) StartSession(ctx context.Context, creds config.Credentials) error {
	if strings.TrimSpace(creds.UserID) == "" {
		creds = r.Credentials
	}
	if strings.TrimSpace(creds.Token) != "" {
		r.REST.SetToken(creds.Token)
	}

	return r.Chat.Initialize(ctx, domain.User{ID: creds.UserID, Token: creds.Token})
}

func (r *Runtime) setConnStatus(status connectors.ConnStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() connectors.ConnStatus {
	r.connStatusMu.RLock()
	defer r.connStatusMu.RUnlock()

	return r.connStatus
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// SaveAndApplyConfig persists cfg and applies what can change live:
// logging and notification preferences. Backend and transport settings take
// effect on the next start.
func (r *Runtime) SaveAndApplyConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()

		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	if r.LogManager != nil {
		if err := r.LogManager.Configure(cfg.Logging, r.Paths.LogFile); err != nil {
			return err
		}
	}

	return nil
}

// ClearDatabase wipes the local message cache and the in-memory store.
func (r *Runtime) ClearDatabase() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := persistence.ClearDatabase(ctx, r.DB); err != nil {
		return err
	}
	if r.Store != nil {
		r.Store.Reset()
	}
	slog.Info("database cleared")

	return nil
}

// ClearCache removes spooled uploads and anything else under the app cache
// dir. It refuses to touch directories outside the user's cache for this app.
func (r *Runtime) ClearCache() error {
	cacheDir := strings.TrimSpace(r.Paths.CacheDir)
	if cacheDir == "" {
		return fmt.Errorf("cache dir is not configured")
	}
	cacheDir = filepath.Clean(cacheDir)

	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return fmt.Errorf("resolve cache dir: %w", err)
	}
	if expected := filepath.Join(cacheRoot, Name); cacheDir != expected {
		return fmt.Errorf("cache dir %q is outside app cache dir %q", cacheDir, expected)
	}

	uploadDir := strings.TrimSpace(r.Paths.UploadDir)
	if uploadDir != "" && !isWithin(cacheDir, filepath.Clean(uploadDir)) {
		return fmt.Errorf("upload dir %q is outside cache dir %q", uploadDir, cacheDir)
	}

	if err := os.RemoveAll(cacheDir); err != nil {
		return fmt.Errorf("remove cache dir: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return fmt.Errorf("recreate cache dir: %w", err)
	}
	if uploadDir != "" {
		if err := os.MkdirAll(uploadDir, 0o750); err != nil {
			return fmt.Errorf("recreate upload spool dir: %w", err)
		}
	}
	slog.Info("cache cleared", "dir", cacheDir)

	return nil
}

func (r *Runtime) Close() error {
	if r.Chat != nil {
		if err := r.Chat.Close(); err != nil {
			slog.Warn("close chat session", "error", err)
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.WriterQueue != nil {
		select {
		case <-r.WriterQueue.Done():
		case <-time.After(writerShutdownTimeout):
			slog.Warn("writer queue did not drain in time")
		}
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	if r.sessionLock != nil {
		if err := r.sessionLock.Release(); err != nil {
			return err
		}
		r.sessionLock = nil
	}

	return nil
}

func resolveRuntimePaths(opts Options) (Paths, error) {
	if opts.Paths != nil {
		return PathsUnder(opts.Paths.RootDir, opts.Paths.CacheDir)
	}

	return ResolvePaths()
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
