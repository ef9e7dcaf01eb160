package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/bot"
	"github.com/talkincode/wabot/internal/store"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// ConfigManagerProvider provides configuration manager access
type ConfigManagerProvider interface {
	ConfigMgr() *ConfigManager
}

// BotProvider provides the bot lifecycle manager and its store
type BotProvider interface {
	BotManager() *bot.Manager
	Dispatcher() *bot.Dispatcher
	Repository() store.Repository
	Registry() *bot.Registry
}

// AppContext combines all provider interfaces for full application context
// Services should depend on specific providers or this combined interface
type AppContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider
	ConfigManagerProvider
	BotProvider

	// Application lifecycle methods
	MigrateDB(track bool) error
	InitDb()
	DropAll()
	// ReloadCommands refreshes custom commands after they were changed in the store
	ReloadCommands(ctx context.Context) error
	// ResetSession deletes a disconnected session row
	ResetSession(ctx context.Context, phoneNumber string) (bool, error)
	Uptime() time.Duration
}
