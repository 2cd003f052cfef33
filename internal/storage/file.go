package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"joinbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.recipients.jsonl (append-only JSON Lines)
//   - <prefix>.invites.jsonl    (append-only JSON Lines)
//
// Both journals are replayed into memory at open; duplicate keys keep the
// first record, which preserves insert-if-absent semantics across restarts.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	recipientsFile *os.File
	invitesFile    *os.File

	recipients map[int64]int64 // user_id -> first_seen unix milli
	invites    map[inviteKey]InviteHandle
}

type inviteKey struct {
	chatID int64
	mode   InviteMode
}

type recipientRecord struct {
	UserID    int64 `json:"user_id"`
	FirstSeen int64 `json:"first_seen_ms"`
}

type inviteRecord struct {
	ChatID    int64  `json:"chat_id"`
	Mode      string `json:"mode"`
	InviteURL string `json:"invite_url"`
	ChatTitle string `json:"chat_title"`
	CreatedAt int64  `json:"created_at_ms"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	recipientsPath := prefix + ".recipients.jsonl"
	invitesPath := prefix + ".invites.jsonl"

	recipients := map[int64]int64{}
	if err := replayJournal(recipientsPath, func(line []byte) {
		var r recipientRecord
		if json.Unmarshal(line, &r) != nil || r.UserID == 0 {
			return
		}
		if _, ok := recipients[r.UserID]; !ok {
			recipients[r.UserID] = r.FirstSeen
		}
	}); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	invites := map[inviteKey]InviteHandle{}
	if err := replayJournal(invitesPath, func(line []byte) {
		var r inviteRecord
		if json.Unmarshal(line, &r) != nil || r.ChatID == 0 {
			return
		}
		k := inviteKey{chatID: r.ChatID, mode: InviteMode(r.Mode)}
		if _, ok := invites[k]; !ok {
			invites[k] = InviteHandle{
				ChatID:    r.ChatID,
				Mode:      InviteMode(r.Mode),
				InviteURL: r.InviteURL,
				ChatTitle: r.ChatTitle,
				CreatedAt: time.UnixMilli(r.CreatedAt),
			}
		}
	}); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	rf, err := os.OpenFile(recipientsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	inf, err := os.OpenFile(invitesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:            log,
		recipientsFile: rf,
		invitesFile:    inf,
		recipients:     recipients,
		invites:        invites,
	}, nil
}

func replayJournal(path string, apply func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		apply(sc.Bytes())
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.recipientsFile != nil {
		err1 = s.recipientsFile.Close()
		s.recipientsFile = nil
	}
	if s.invitesFile != nil {
		err2 = s.invitesFile.Close()
		s.invitesFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) RecordRecipient(ctx context.Context, userID int64, firstSeen time.Time) error {
	_ = ctx
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recipientsFile == nil {
		return errors.New("recipients journal closed")
	}
	if _, ok := s.recipients[userID]; ok {
		return nil
	}
	ms := firstSeen.UnixMilli()
	if err := json.NewEncoder(s.recipientsFile).Encode(recipientRecord{UserID: userID, FirstSeen: ms}); err != nil {
		return err
	}
	s.recipients[userID] = ms
	return nil
}

func (s *fileStore) Recipients(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	type pair struct{ id, seen int64 }
	pairs := make([]pair, 0, len(s.recipients))
	for id, seen := range s.recipients {
		pairs = append(pairs, pair{id: id, seen: seen})
	}
	s.mu.Unlock()

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].seen != pairs[j].seen {
			return pairs[i].seen < pairs[j].seen
		}
		return pairs[i].id < pairs[j].id
	})
	ids := make([]int64, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.id)
	}
	return ids, nil
}

func (s *fileStore) CountRecipients(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recipients), nil
}

func (s *fileStore) CountRecipientsSince(ctx context.Context, since time.Time) (int, error) {
	_ = ctx
	ms := since.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, seen := range s.recipients {
		if seen >= ms {
			n++
		}
	}
	return n, nil
}

func (s *fileStore) PutInviteLink(ctx context.Context, h InviteHandle) error {
	_ = ctx
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invitesFile == nil {
		return errors.New("invites journal closed")
	}
	k := inviteKey{chatID: h.ChatID, mode: h.Mode}
	if _, ok := s.invites[k]; ok {
		return nil
	}
	rec := inviteRecord{
		ChatID:    h.ChatID,
		Mode:      string(h.Mode),
		InviteURL: h.InviteURL,
		ChatTitle: h.ChatTitle,
		CreatedAt: h.CreatedAt.UnixMilli(),
	}
	if err := json.NewEncoder(s.invitesFile).Encode(rec); err != nil {
		return err
	}
	s.invites[k] = h
	return nil
}

func (s *fileStore) InviteLink(ctx context.Context, chatID int64, mode InviteMode) (InviteHandle, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.invites[inviteKey{chatID: chatID, mode: mode}]
	return h, ok, nil
}

func (s *fileStore) InviteLinks(ctx context.Context, mode InviteMode) ([]InviteHandle, error) {
	_ = ctx
	s.mu.Lock()
	out := make([]InviteHandle, 0, len(s.invites))
	for k, h := range s.invites {
		if k.mode == mode {
			out = append(out, h)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ChatID < out[j].ChatID
	})
	return out, nil
}
