package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Welcome   WelcomeConfig   `json:"welcome"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Stats     StatsConfig     `json:"stats,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// BotUsername is used to build the add-to-group/channel deep links.
	BotUsername string `json:"bot_username,omitempty"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// RatePerSec throttles outbound API calls inside the adapter.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// OwnerIDs may use admin-only commands (/users, /grp, /broadcasts).
	OwnerIDs []int64 `json:"owner_ids"`

	// AdminChat receives delivery reports and the stats digest.
	AdminChat int64 `json:"admin_chat"`

	// BroadcastChat is the source channel whose posts are fanned out to
	// every tracked recipient.
	BroadcastChat int64 `json:"broadcast_chat"`

	// ArchiveChat receives copies of private messages (0 disables).
	ArchiveChat int64 `json:"archive_chat,omitempty"`
}

type WelcomeConfig struct {
	// VideoPath is where the welcome video lives on disk. If VideoURL is
	// set and the file is missing, it is downloaded once at startup.
	VideoPath string `json:"video_path"`
	VideoURL  string `json:"video_url,omitempty"`

	// PromoHandle is appended to welcome captions (e.g. "@MyChannel").
	PromoHandle string `json:"promo_handle,omitempty"`

	// PromoURL is the inline-button link offered in private-chat replies.
	PromoURL string `json:"promo_url,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./joinbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type BroadcastConfig struct {
	HistoryMax int    `json:"history_max,omitempty"`
	HistoryTTL string `json:"history_ttl,omitempty"` // Go duration string
}

// StatsConfig controls the scheduled stats digest sent to the admin chat.
type StatsConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron expression, default "0 9 * * *"
	Timezone string `json:"timezone,omitempty"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.AdminChat == 0 {
		return errors.New("telegram.admin_chat is required")
	}
	if c.Telegram.BroadcastChat == 0 {
		return errors.New("telegram.broadcast_chat is required")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"broadcast.history_ttl", c.Broadcast.HistoryTTL},
	} {
		if _, err := ParseDuration(field.name, field.value, 0); err != nil {
			return err
		}
	}
	return nil
}

// ParseDuration parses a Go duration string config field, returning def
// when the field is empty.
func ParseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
	}
	return d, nil
}
