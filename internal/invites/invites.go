// Package invites caches invite links per (chat, mode) pair.
//
// Links are minted lazily on first need and are immutable afterwards.
// Concurrent first access for the same pair is collapsed into a single
// platform call; mint failures are returned to every waiter and never
// cached, so the next request tries again.
package invites

import (
	"context"
	"fmt"
	"sync"
	"time"

	"joinbot/internal/storage"
	"joinbot/pkg/logx"
)

// Minter is the platform call that creates an invite link.
type Minter interface {
	CreateInviteLink(ctx context.Context, chatID int64, joinRequest bool) (string, error)
}

type Cache struct {
	store  storage.Store
	minter Minter
	log    logx.Logger

	mu       sync.Mutex
	inflight map[key]*call
}

type key struct {
	chatID int64
	mode   storage.InviteMode
}

type call struct {
	done chan struct{}
	h    storage.InviteHandle
	err  error
}

func New(store storage.Store, minter Minter, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		store:    store,
		minter:   minter,
		log:      log,
		inflight: map[key]*call{},
	}
}

// GetOrCreate returns the cached handle for (chatID, mode), minting and
// persisting a new link if none exists yet. Exactly one link is created
// per pair even under concurrent first access.
func (c *Cache) GetOrCreate(ctx context.Context, chatID int64, chatTitle string, mode storage.InviteMode) (storage.InviteHandle, error) {
	k := key{chatID: chatID, mode: mode}

	c.mu.Lock()
	if cl, ok := c.inflight[k]; ok {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.h, cl.err
		case <-ctx.Done():
			return storage.InviteHandle{}, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[k] = cl
	c.mu.Unlock()

	cl.h, cl.err = c.getOrCreate(ctx, chatID, chatTitle, mode)
	close(cl.done)

	c.mu.Lock()
	delete(c.inflight, k)
	c.mu.Unlock()

	return cl.h, cl.err
}

func (c *Cache) getOrCreate(ctx context.Context, chatID int64, chatTitle string, mode storage.InviteMode) (storage.InviteHandle, error) {
	h, ok, err := c.store.InviteLink(ctx, chatID, mode)
	if err != nil {
		return storage.InviteHandle{}, fmt.Errorf("invite lookup: %w", err)
	}
	if ok {
		return h, nil
	}

	url, err := c.minter.CreateInviteLink(ctx, chatID, mode == storage.ModeApproval)
	if err != nil {
		return storage.InviteHandle{}, fmt.Errorf("invite mint for chat %d: %w", chatID, err)
	}

	h = storage.InviteHandle{
		ChatID:    chatID,
		Mode:      mode,
		InviteURL: url,
		ChatTitle: chatTitle,
		CreatedAt: time.Now(),
	}
	if err := c.store.PutInviteLink(ctx, h); err != nil {
		// The link exists on the platform side; losing the persist means a
		// spare link gets minted after a restart. Harmless, so the handle
		// is still returned.
		c.log.Warn("invite link persist failed",
			logx.Int64("chat_id", chatID), logx.String("mode", string(mode)), logx.Err(err))
		return h, nil
	}

	c.log.Info("invite link created",
		logx.Int64("chat_id", chatID), logx.String("mode", string(mode)))
	return h, nil
}

// Known lists persisted handles for the given mode, ordered by creation.
func (c *Cache) Known(ctx context.Context, mode storage.InviteMode) ([]storage.InviteHandle, error) {
	return c.store.InviteLinks(ctx, mode)
}
