package bot

import (
	"regexp"
	"strings"
)

const (
	DefaultPrefix    = "!"
	DefaultOwnerName = "Bot Owner"
)

// Settings are the runtime values the pipeline reads on every message.
type Settings struct {
	Prefix    string
	OwnerName string
	// OwnerNumber marks messages from this number as owner messages.
	OwnerNumber string
	// AllowedNumber, when set, is the only identity the bot may connect as.
	AllowedNumber string
}

// SettingsProvider returns the current settings; implementations may reload them.
type SettingsProvider interface {
	BotSettings() Settings
}

// StaticSettings is a fixed SettingsProvider.
type StaticSettings Settings

func (s StaticSettings) BotSettings() Settings {
	return Settings(s).withDefaults()
}

func (s Settings) withDefaults() Settings {
	if strings.TrimSpace(s.Prefix) == "" {
		s.Prefix = DefaultPrefix
	}
	if s.OwnerName == "" {
		s.OwnerName = DefaultOwnerName
	}
	return s
}

func currentSettings(p SettingsProvider) Settings {
	if p == nil {
		return Settings{}.withDefaults()
	}
	return p.BotSettings().withDefaults()
}

var phoneNumberPattern = regexp.MustCompile(`^[1-9]\d{6,14}$`)

// ValidPhoneNumber reports whether phoneNumber is 7-15 digits without a leading zero.
func ValidPhoneNumber(phoneNumber string) bool {
	return phoneNumberPattern.MatchString(phoneNumber)
}
