package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mcq_bot/internal/config"
	"mcq_bot/internal/controller"
	"mcq_bot/internal/model"
	"mcq_bot/internal/repository"
	"mcq_bot/internal/service"
	"mcq_bot/internal/util"
	"mcq_bot/pkg/configwatcher"
	"mcq_bot/pkg/database"
	"mcq_bot/pkg/logger"
	"mcq_bot/pkg/monitoring"
	"mcq_bot/pkg/security"
	"mcq_bot/pkg/tracing"
	"mcq_bot/pkg/whatsapp"

	"github.com/gin-gonic/gin"
	"go.mau.fi/whatsmeow/store/sqlstore"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	Config *config.Config
	Router *gin.Engine

	container       *sqlstore.Container
	tracer          *sdktrace.TracerProvider
	repos           *repositories
	services        *services
	configCallbacks []func(*config.Config)
}

type repositories struct {
	question   *repository.QuestionRepository
	ledger     *repository.LedgerRepository
	credential *repository.CredentialRepository
}

type services struct {
	session   *service.SessionService
	rotation  *service.RotationService
	dispatch  *service.DispatchService
	pairing   *service.PairingService
	storage   service.ArtifactStore
	hub       *service.EventHub
	scheduler *service.SchedulerService
	batch     *service.BatchJob
}

type controllers struct {
	health  *controller.HealthController
	session *controller.SessionController
	pairing *controller.PairingController
	run     *controller.RunController
	events  *controller.EventsController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(cfg *config.Config) *repositories {
	return &repositories{
		question:   repository.NewQuestionRepository(cfg.Data.QuestionsFile),
		ledger:     repository.NewLedgerRepository(cfg.Data.LedgerFile),
		credential: repository.NewCredentialRepository(cfg.Data.CredentialsFile),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, backend service.Backend, out io.Writer) (*services, error) {
	pool, err := repos.question.FindAll()
	if err != nil {
		return nil, fmt.Errorf("load question pool: %w", err)
	}
	if len(pool) == 0 {
		logger.Log.Warn("Question pool is empty", zap.String("file", cfg.Data.QuestionsFile))
	}

	s := &services{}
	s.session = service.NewSessionService(backend, repos.credential, service.SessionOptions{
		MaxRetries:     cfg.Session.MaxRetries,
		ReconnectDelay: cfg.Session.ReconnectDelay,
		ConnectTimeout: cfg.Session.ConnectTimeout,
	})
	s.rotation = service.NewRotationService(pool, repos.ledger, nil)
	s.dispatch = service.NewDispatchService(s.session, s.rotation, service.NewMessageFormatter(), dispatchOptions(cfg))

	if cfg.Pairing.Upload {
		s.storage = service.NewArtifactStore(&cfg.Storage)
	}
	s.pairing = service.NewPairingService(service.PairingOptions{
		OutputDir: cfg.Pairing.OutputDir,
		ImageSize: cfg.Pairing.ImageSize,
		Terminal:  cfg.Pairing.Terminal,
		Upload:    cfg.Pairing.Upload,
	}, s.storage, out)
	s.session.Subscribe(s.pairing)

	logger.Log.Info("Question pool loaded",
		zap.Int("questions", len(pool)), zap.Int("delivered", len(s.rotation.Delivered())))
	return s, nil
}

func (a *App) initControllers(s *services) *controllers {
	return &controllers{
		health:  controller.NewHealthController(s.session),
		session: controller.NewSessionController(s.session, s.rotation),
		pairing: controller.NewPairingController(s.pairing),
		run:     controller.NewRunController(s.batch),
		events:  controller.NewEventsController(s.hub),
	}
}

func dispatchOptions(cfg *config.Config) service.DispatchOptions {
	return service.DispatchOptions{
		QuestionsChannel:  cfg.Bot.QuestionsChannel,
		AnswersChannel:    cfg.Bot.AnswersChannel,
		DailyQuestions:    cfg.Bot.DailyQuestions,
		RevealDelay:       cfg.Bot.RevealDelay,
		SlotDelay:         cfg.Bot.SlotDelay,
		SendRatePerMinute: cfg.Bot.SendRatePerMinute,
	}
}

// NewApp wires the bot. The config must already be validated and the logger
// initialised. out receives the terminal pairing code.
func NewApp(ctx context.Context, cfg *config.Config, out io.Writer) (*App, error) {
	monitoring.Init()

	app := &App{Config: cfg}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(cfg.Bot.Name, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		app.tracer = tp
	}

	waLogger := whatsapp.NewLogger(logger.Log, cfg.WhatsApp.LogLevel)
	container, err := database.InitDeviceStore(ctx, &cfg.WhatsApp, waLogger.Sub("Database"))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.container = container

	backend := whatsapp.NewClient(container, waLogger, whatsapp.Options{DeviceName: cfg.WhatsApp.DeviceName})

	app.repos = app.initRepositories(cfg)
	app.services, err = app.initServices(app.repos, cfg, backend, out)
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// Connect opens the session within the configured bound.
func (a *App) Connect(ctx context.Context) (model.ConnectOutcome, error) {
	return a.services.session.Connect(ctx)
}

func (a *App) State() model.SessionState {
	return a.services.session.State()
}

func (a *App) Delivered() []int {
	return a.services.rotation.Delivered()
}

// RunOnce connects, sends one batch and disconnects. A session that is not
// open in time is not an error: the report is nil and the outcome says why.
func (a *App) RunOnce(ctx context.Context) (*model.BatchReport, model.ConnectOutcome, error) {
	defer a.services.session.Disconnect()

	outcome, err := a.services.session.Connect(ctx)
	if err != nil {
		return nil, outcome, err
	}
	if outcome != model.OutcomeOpen {
		logger.Log.Warn("WhatsApp 尚未连接，请扫描二维码后重新运行", zap.String("dir", a.Config.Pairing.OutputDir))
		return nil, outcome, nil
	}

	report, err := a.services.dispatch.RunBatch(ctx)
	return report, outcome, err
}

// Logout unlinks the device if a session can be opened with the stored
// credentials. Without credentials there is nothing to unlink.
func (a *App) Logout(ctx context.Context) error {
	creds, err := a.repos.credential.Load()
	if err != nil {
		return err
	}
	if creds == nil {
		logger.Log.Info("No stored credentials, nothing to log out")
		return nil
	}

	outcome, err := a.services.session.Connect(ctx)
	if err != nil {
		return err
	}
	if outcome != model.OutcomeOpen {
		a.services.session.Disconnect()
		return util.ErrNotConnected
	}
	return a.services.session.Logout(ctx)
}

// Serve runs the daemon until ctx is done: session, scheduler, config
// reload and the status API.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	s := a.services

	s.hub = service.NewEventHub()
	s.session.Subscribe(s.hub)
	s.batch = service.NewBatchJob(ctx, s.session, s.dispatch, s.hub)

	scheduler, err := service.NewSchedulerService(cfg.Bot.ScheduleTimes, func(ctx context.Context) {
		if _, err := s.batch.Run(ctx); err != nil {
			logger.Log.Error("Scheduled batch failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.scheduler = scheduler

	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.dispatch.UpdateOptions(dispatchOptions(newCfg))
	})
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		if err := s.scheduler.SetTimes(newCfg.Bot.ScheduleTimes); err != nil {
			logger.Log.Error("Ignoring invalid schedule", zap.Error(err))
		}
	})

	controllers := a.initControllers(s)

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	a.Router = router
	a.setupMiddlewares(ctx, router, cfg)
	a.registerRoutes(router, controllers, cfg)

	go s.hub.Run(ctx)
	go s.scheduler.Run(ctx)
	if cfg.ConfigFile != "" {
		go func() {
			err := configwatcher.WatchConfig(ctx, cfg.ConfigFile, func(newCfg *config.Config) {
				for _, cb := range a.configCallbacks {
					cb(newCfg)
				}
			})
			if err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	// 启动时先连上，配对码会通过 API 和终端展示
	go func() {
		outcome, err := s.session.Connect(ctx)
		logger.Log.Info("Initial connect finished", zap.String("outcome", outcome.String()), zap.Error(err))
	}()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Server running", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	return nil
}

func (a *App) setupMiddlewares(ctx context.Context, router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.Server.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(ctx, cfg.Server.RateLimit, time.Minute))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// Close releases the session, the device store and the tracer.
func (a *App) Close() {
	if a.services != nil {
		a.services.session.Disconnect()
	}
	if a.container != nil {
		if err := a.container.Close(); err != nil {
			logger.Log.Warn("Close device store failed", zap.Error(err))
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
}
