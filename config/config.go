package config

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SysConfig system config
type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

// WebConfig admin api config
type WebConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// DBConfig database config, type is sqlite or postgres
type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

// LogConfig log config
type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// BotConfig bot defaults, overridable at runtime through the bot_config table
type BotConfig struct {
	Prefix               string `yaml:"prefix" json:"prefix"`
	OwnerName            string `yaml:"owner_name" json:"owner_name"`
	OwnerNumber          string `yaml:"owner_number" json:"owner_number"`
	AllowedNumber        string `yaml:"allowed_number" json:"allowed_number"`
	SessionRetentionDays int    `yaml:"session_retention_days" json:"session_retention_days"`
	MessageRetentionDays int    `yaml:"message_retention_days" json:"message_retention_days"`
	PairingClientName    string `yaml:"pairing_client_name" json:"pairing_client_name"`
}

// WhatsAppConfig transport config
type WhatsAppConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system" json:"system"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Database DBConfig       `yaml:"database" json:"database"`
	Logger   LogConfig      `yaml:"logger" json:"logger"`
	Bot      BotConfig      `yaml:"bot" json:"bot"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp" json:"whatsapp"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

// GetSessionDir is the root of the per-session credential bundles.
func (c *AppConfig) GetSessionDir() string {
	return path.Join(c.System.Workdir, "sessions")
}

func (c *AppConfig) GetMetricsDir() string {
	return path.Join(c.System.Workdir, "data", "metrics")
}

func (c *AppConfig) initDirs() {
	_ = os.MkdirAll(c.GetLogDir(), 0o755)
	_ = os.MkdirAll(c.GetDataDir(), 0o755)
	_ = os.MkdirAll(c.GetSessionDir(), 0o700)
	_ = os.MkdirAll(c.GetMetricsDir(), 0o755)
}

func setEnvValue(name string, val *string) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		*val = evalue
	}
}

func setEnvBoolValue(name string, val *bool) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		*val = evalue == "true" || evalue == "1" || evalue == "on"
	}
}

func setEnvIntValue(name string, val *int) {
	var evalue = os.Getenv(name)
	if evalue == "" {
		return
	}
	p, err := strconv.Atoi(evalue)
	if err == nil {
		*val = p
	}
}

func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "WaBot",
			Location: "Asia/Shanghai",
			Workdir:  "/var/wabot",
			Debug:    true,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 1817,
		},
		Database: DBConfig{
			Type:     "sqlite",
			Host:     "127.0.0.1",
			Port:     5432,
			Name:     "wabot.db",
			User:     "postgres",
			Passwd:   "myroot",
			MaxConn:  100,
			IdleConn: 10,
			Debug:    false,
		},
		Logger: LogConfig{
			Mode:       "development",
			FileEnable: true,
			Filename:   "/var/wabot/logs/wabot.log",
		},
		Bot: BotConfig{
			Prefix:               "!",
			OwnerName:            "Bot Owner",
			OwnerNumber:          "1234567890",
			SessionRetentionDays: 7,
			MessageRetentionDays: 30,
			PairingClientName:    "Chrome (Linux)",
		},
		WhatsApp: WhatsAppConfig{
			LogLevel: "warn",
		},
	}
}

// LoadConfig reads cfile (default wabot.yml, then /etc/wabot.yml), then
// applies .env files and WABOT_* environment overrides.
func LoadConfig(cfile string) (*AppConfig, error) {
	if cfile == "" {
		cfile = "wabot.yml"
		if !fileExists(cfile) {
			cfile = "/etc/wabot.yml"
		}
	}
	cfg := DefaultAppConfig()
	if fileExists(cfile) {
		data, err := os.ReadFile(cfile)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	applyEnv(cfg)
	cfg.initDirs()
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	setEnvValue("WABOT_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvValue("WABOT_SYSTEM_LOCATION", &cfg.System.Location)
	setEnvBoolValue("WABOT_SYSTEM_DEBUG", &cfg.System.Debug)

	setEnvValue("WABOT_WEB_HOST", &cfg.Web.Host)
	setEnvIntValue("WABOT_WEB_PORT", &cfg.Web.Port)

	setEnvValue("WABOT_DB_TYPE", &cfg.Database.Type)
	setEnvValue("WABOT_DB_HOST", &cfg.Database.Host)
	setEnvIntValue("WABOT_DB_PORT", &cfg.Database.Port)
	setEnvValue("WABOT_DB_NAME", &cfg.Database.Name)
	setEnvValue("WABOT_DB_USER", &cfg.Database.User)
	setEnvValue("WABOT_DB_PWD", &cfg.Database.Passwd)
	setEnvBoolValue("WABOT_DB_DEBUG", &cfg.Database.Debug)

	setEnvValue("WABOT_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvBoolValue("WABOT_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)
	setEnvValue("WABOT_LOGGER_FILENAME", &cfg.Logger.Filename)

	setEnvValue("WABOT_BOT_PREFIX", &cfg.Bot.Prefix)
	setEnvValue("WABOT_BOT_OWNER_NAME", &cfg.Bot.OwnerName)
	setEnvValue("WABOT_BOT_OWNER_NUMBER", &cfg.Bot.OwnerNumber)
	setEnvValue("WABOT_BOT_ALLOWED_NUMBER", &cfg.Bot.AllowedNumber)
	setEnvIntValue("WABOT_BOT_SESSION_RETENTION_DAYS", &cfg.Bot.SessionRetentionDays)
	setEnvIntValue("WABOT_BOT_MESSAGE_RETENTION_DAYS", &cfg.Bot.MessageRetentionDays)
	setEnvValue("WABOT_BOT_PAIRING_CLIENT_NAME", &cfg.Bot.PairingClientName)

	setEnvValue("WABOT_WHATSAPP_LOG_LEVEL", &cfg.WhatsApp.LogLevel)

	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
}

func fileExists(file string) bool {
	info, err := os.Stat(file)
	return err == nil && !info.IsDir()
}
