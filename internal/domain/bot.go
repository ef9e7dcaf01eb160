package domain

import "time"

// BotSession links a phone number to the credential bundle currently used for it.
type BotSession struct {
	ID           int64     `json:"id,string" gorm:"primaryKey"`
	PhoneNumber  string    `json:"phone_number" gorm:"uniqueIndex;size:20"`
	SessionId    string    `json:"session_id" gorm:"uniqueIndex;size:64"`
	IsConnected  bool      `json:"is_connected" gorm:"index"`
	PairingCode  *string   `json:"pairing_code"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"index"`
}

func (BotSession) TableName() string {
	return "bot_session"
}

// BotMessage is one row of the append-only message audit log.
type BotMessage struct {
	ID        int64     `json:"id,string" gorm:"primaryKey" csv:"id"`
	MessageId string    `json:"message_id" gorm:"index" csv:"message_id"`
	ChatId    string    `json:"chat_id" gorm:"index" csv:"chat_id"`
	SenderId  string    `json:"sender_id" csv:"sender_id"`
	Content   string    `json:"content" csv:"content"`
	Command   *string   `json:"command" gorm:"index" csv:"command"`
	Response  *string   `json:"response" csv:"response"`
	Timestamp time.Time `json:"timestamp" gorm:"index" csv:"timestamp"`
}

func (BotMessage) TableName() string {
	return "bot_message"
}

// BotCommand is a dynamically registered custom command. HandlerRef names the
// handler implementation resolved from the command registry catalog.
type BotCommand struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	Command     string    `json:"command" gorm:"uniqueIndex;size:64"`
	Description string    `json:"description"`
	HandlerRef  string    `json:"handler_ref"`
	IsOwnerOnly bool      `json:"is_owner_only"`
	IsPremium   bool      `json:"is_premium"`
	IsActive    bool      `json:"is_active" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (BotCommand) TableName() string {
	return "bot_command"
}

// MessageStats holds the aggregate audit counters.
type MessageStats struct {
	TotalMessages int64 `json:"total_messages"`
	TotalCommands int64 `json:"total_commands"`
	TodayMessages int64 `json:"today_messages"`
	TodayCommands int64 `json:"today_commands"`
}
