package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"joinbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) RecordRecipient(ctx context.Context, userID int64, firstSeen time.Time) error {
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO recipients(user_id, first_seen_ms) VALUES(?, ?)`,
		userID, firstSeen.UnixMilli())
	return err
}

func (s *sqliteStore) Recipients(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM recipients ORDER BY first_seen_ms, user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) CountRecipients(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n)
	return n, err
}

func (s *sqliteStore) CountRecipientsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipients WHERE first_seen_ms >= ?`, since.UnixMilli()).Scan(&n)
	return n, err
}

func (s *sqliteStore) PutInviteLink(ctx context.Context, h InviteHandle) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO invite_links(chat_id, mode, invite_url, chat_title, created_at_ms)
		 VALUES(?, ?, ?, ?, ?)`,
		h.ChatID, string(h.Mode), h.InviteURL, h.ChatTitle, h.CreatedAt.UnixMilli())
	return err
}

func (s *sqliteStore) InviteLink(ctx context.Context, chatID int64, mode InviteMode) (InviteHandle, bool, error) {
	var (
		h  InviteHandle
		ms int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, mode, invite_url, chat_title, created_at_ms
		 FROM invite_links WHERE chat_id = ? AND mode = ?`,
		chatID, string(mode)).Scan(&h.ChatID, &h.Mode, &h.InviteURL, &h.ChatTitle, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return InviteHandle{}, false, nil
	}
	if err != nil {
		return InviteHandle{}, false, err
	}
	h.CreatedAt = time.UnixMilli(ms)
	return h, true, nil
}

func (s *sqliteStore) InviteLinks(ctx context.Context, mode InviteMode) ([]InviteHandle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, mode, invite_url, chat_title, created_at_ms
		 FROM invite_links WHERE mode = ? ORDER BY created_at_ms, chat_id`,
		string(mode))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InviteHandle
	for rows.Next() {
		var (
			h  InviteHandle
			ms int64
		)
		if err := rows.Scan(&h.ChatID, &h.Mode, &h.InviteURL, &h.ChatTitle, &ms); err != nil {
			return nil, err
		}
		h.CreatedAt = time.UnixMilli(ms)
		out = append(out, h)
	}
	return out, rows.Err()
}
