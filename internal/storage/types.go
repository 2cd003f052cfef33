package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"joinbot/pkg/logx"
)

// InviteMode distinguishes the two invite handles kept per chat.
type InviteMode string

const (
	// ModeApproval links create a join request that the bot approves.
	ModeApproval InviteMode = "approval"
	// ModeDirect links let members join without approval.
	ModeDirect InviteMode = "direct"
)

// InviteHandle is an invite link minted once per (chat, mode) pair.
// Immutable after creation.
type InviteHandle struct {
	ChatID    int64
	Mode      InviteMode
	InviteURL string
	ChatTitle string
	CreatedAt time.Time
}

// Store is the persistence API used by the directory and the invite cache.
//
// RecordRecipient and PutInviteLink have insert-if-absent semantics: a
// second insert for the same key is a no-op, not an error.
type Store interface {
	RecordRecipient(ctx context.Context, userID int64, firstSeen time.Time) error
	Recipients(ctx context.Context) ([]int64, error)
	CountRecipients(ctx context.Context) (int, error)
	CountRecipientsSince(ctx context.Context, since time.Time) (int, error)

	PutInviteLink(ctx context.Context, h InviteHandle) error
	InviteLink(ctx context.Context, chatID int64, mode InviteMode) (InviteHandle, bool, error)
	InviteLinks(ctx context.Context, mode InviteMode) ([]InviteHandle, error)

	Close() error
}

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
