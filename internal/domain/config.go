package domain

import (
	"time"
)

// BotConfig is an opaque runtime override keyed by name (prefix, owner_number, ...).
type BotConfig struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"uniqueIndex;size:64"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (BotConfig) TableName() string {
	return "bot_config"
}

// Config keys understood by the bot.
const (
	ConfigPrefix               = "prefix"
	ConfigOwnerName            = "owner_name"
	ConfigOwnerNumber          = "owner_number"
	ConfigAllowedNumber        = "allowed_number"
	ConfigSessionRetentionDays = "session_retention_days"
	ConfigMessageRetentionDays = "message_retention_days"
)
