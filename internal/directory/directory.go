// Package directory tracks the set of known recipients.
//
// The directory is the only state shared between concurrent jobs: join
// admissions insert into it while broadcast jobs snapshot it. Inserts are
// idempotent compare-and-insert operations; snapshots are read-committed
// full scans (an insert racing a snapshot may or may not be included).
package directory

import (
	"context"
	"sync"
	"time"

	"joinbot/internal/storage"
	"joinbot/pkg/logx"
)

type Directory struct {
	store storage.Store
	log   logx.Logger

	// seen caches recipient ids so repeat interactions skip the store.
	// LoadOrStore is the insert-if-absent primitive; the entry is rolled
	// back if the durable insert fails so a later retry can succeed.
	seen sync.Map // int64 -> struct{}
}

// Open wires a directory over the given store and warms the seen cache
// from the persisted recipient set.
func Open(ctx context.Context, store storage.Store, log logx.Logger) (*Directory, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Directory{store: store, log: log}
	ids, err := store.Recipients(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		d.seen.Store(id, struct{}{})
	}
	log.Info("directory loaded", logx.Int("recipients", len(ids)))
	return d, nil
}

// RecordIfAbsent inserts a recipient record unless the id is already
// known. Duplicate calls are no-ops and never an error.
func (d *Directory) RecordIfAbsent(ctx context.Context, userID int64, at time.Time) error {
	if userID == 0 {
		return nil
	}
	if _, loaded := d.seen.LoadOrStore(userID, struct{}{}); loaded {
		return nil
	}
	if err := d.store.RecordRecipient(ctx, userID, at); err != nil {
		d.seen.Delete(userID)
		return err
	}
	d.log.Debug("recipient recorded", logx.Int64("user_id", userID))
	return nil
}

// Snapshot returns the current full recipient set, ordered by first
// contact. It does not block concurrent inserts.
func (d *Directory) Snapshot(ctx context.Context) ([]int64, error) {
	return d.store.Recipients(ctx)
}

// Count returns the total number of known recipients.
func (d *Directory) Count(ctx context.Context) (int, error) {
	return d.store.CountRecipients(ctx)
}

// CountSince returns the number of recipients first seen at or after t.
func (d *Directory) CountSince(ctx context.Context, t time.Time) (int, error) {
	return d.store.CountRecipientsSince(ctx, t)
}
