package app

import (
	"context"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/bot"
	"github.com/talkincode/wabot/internal/credentials"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
	"github.com/talkincode/wabot/internal/transport"
	"github.com/talkincode/wabot/internal/whatsapp"
	"github.com/talkincode/wabot/pkg/metrics"
)

type Application struct {
	appConfig     *config.AppConfig
	gormDB        *gorm.DB
	sched         *cron.Cron
	configManager *ConfigManager
	repo          *store.GormRepository
	registry      *bot.Registry
	dispatcher    *bot.Dispatcher
	manager       *bot.Manager
	started       time.Time
}

// Ensure Application implements all interfaces
var (
	_ DBProvider            = (*Application)(nil)
	_ ConfigProvider        = (*Application)(nil)
	_ SchedulerProvider     = (*Application)(nil)
	_ ConfigManagerProvider = (*Application)(nil)
	_ BotProvider           = (*Application)(nil)
	_ AppContext            = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig, started: time.Now()}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Init(cfg *config.AppConfig) error {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	initLogger(cfg)

	// Initialize metrics with workdir convention
	err = metrics.InitMetrics(cfg.System.Workdir)
	if err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	// Initialize database connection
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	a.gormDB, err = getDatabase(cfg.Database, cfg.System.Workdir)
	if err != nil {
		return err
	}
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	waLogger := whatsapp.NewLogger("Bot", cfg.WhatsApp.LogLevel)
	vault := credentials.NewSQLVault(cfg.GetSessionDir(), waLogger.Sub("Store"))
	factory := whatsapp.NewFactory(waLogger, cfg.Bot.PairingClientName)
	if err := a.Setup(context.Background(), vault, factory); err != nil {
		return err
	}

	a.initJob()
	return nil
}

func initLogger(cfg *config.AppConfig) {
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Configure output paths
	zapConfig.OutputPaths = []string{"stdout"}

	// Build logger with file rotation if enabled
	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)
}

// Setup migrates the schema and wires the bot over the current database.
// Init calls it with the whatsmeow transport; tests pass fakes.
func (a *Application) Setup(ctx context.Context, vault credentials.Vault, factory transport.Factory) error {
	// Ensure database schema is migrated before loading configs
	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
		return err
	}
	a.repo = store.NewGormRepository(a.gormDB)
	a.checkDefaultCommands()

	// No client survives a restart, so no row may claim a connection.
	if n, err := a.repo.ResetConnections(ctx); err != nil {
		zap.S().Warnf("reset session connections: %v", err)
	} else if n > 0 {
		zap.S().Infof("reset %d stale session connections", n)
	}

	// Initialize the configuration manager
	a.configManager = NewConfigManager(a.repo, a.appConfig.Bot)
	if err := a.configManager.Reload(ctx); err != nil {
		zap.S().Warnf("load bot config overrides: %v", err)
	}

	a.registry = bot.NewRegistry()
	if err := a.registry.Load(ctx, a.repo); err != nil {
		zap.S().Warnf("load custom commands: %v", err)
	}
	a.dispatcher = bot.NewDispatcher(a.repo, a.registry, a.configManager)
	a.dispatcher.SetStarted(a.started)
	a.manager = bot.NewManager(a.repo, vault, factory, a.dispatcher, a.configManager)
	return nil
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	db := a.gormDB
	if track {
		db = db.Debug()
	}
	return db.Migrator().AutoMigrate(domain.Tables...)
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
	}
}

// ConfigMgr returns the configuration manager
func (a *Application) ConfigMgr() *ConfigManager {
	return a.configManager
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) BotManager() *bot.Manager {
	return a.manager
}

func (a *Application) Dispatcher() *bot.Dispatcher {
	return a.dispatcher
}

func (a *Application) Repository() store.Repository {
	return a.repo
}

func (a *Application) Registry() *bot.Registry {
	return a.registry
}

// ReloadCommands refreshes the custom command table from the store.
func (a *Application) ReloadCommands(ctx context.Context) error {
	return a.registry.Load(ctx, a.repo)
}

// Uptime since the application object was created.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.started)
}

// Start background job runner
func (a *Application) StartBackgroundJobs(ctx context.Context) {
	a.StartSchedulerService(ctx)
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.manager != nil {
		// Drop the socket but keep the credentials, so the next start can reconnect.
		a.manager.Shutdown(context.Background())
	}
	if a.gormDB != nil {
		if sqlDB, err := a.gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	_ = metrics.Close()
	_ = zap.L().Sync()
}
