package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"joinbot/internal/storage"
	"joinbot/pkg/logx"
)

type memStore struct {
	mu         sync.Mutex
	recipients map[int64]time.Time
	order      []int64
	failNext   bool
	inserts    int
}

func newMemStore() *memStore {
	return &memStore{recipients: map[int64]time.Time{}}
}

func (s *memStore) RecordRecipient(ctx context.Context, userID int64, firstSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("disk full")
	}
	s.inserts++
	if _, ok := s.recipients[userID]; ok {
		return nil
	}
	s.recipients[userID] = firstSeen
	s.order = append(s.order, userID)
	return nil
}

func (s *memStore) Recipients(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.order...), nil
}

func (s *memStore) CountRecipients(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recipients), nil
}

func (s *memStore) CountRecipientsSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, seen := range s.recipients {
		if !seen.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) PutInviteLink(ctx context.Context, h storage.InviteHandle) error { return nil }
func (s *memStore) InviteLink(ctx context.Context, chatID int64, mode storage.InviteMode) (storage.InviteHandle, bool, error) {
	return storage.InviteHandle{}, false, nil
}
func (s *memStore) InviteLinks(ctx context.Context, mode storage.InviteMode) ([]storage.InviteHandle, error) {
	return nil, nil
}
func (s *memStore) Close() error { return nil }

func TestRecordIfAbsentIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	d, err := Open(ctx, store, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := d.RecordIfAbsent(ctx, 7, first); err != nil {
		t.Fatalf("RecordIfAbsent: %v", err)
	}
	if err := d.RecordIfAbsent(ctx, 7, first.Add(time.Hour)); err != nil {
		t.Fatalf("RecordIfAbsent(dup): %v", err)
	}

	n, _ := d.Count(ctx)
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
	// The cache must have absorbed the duplicate before the store.
	if store.inserts != 1 {
		t.Fatalf("store inserts = %d, want 1", store.inserts)
	}
}

func TestRecordIfAbsentRollsBackOnStoreError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	d, err := Open(ctx, store, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	store.mu.Lock()
	store.failNext = true
	store.mu.Unlock()

	if err := d.RecordIfAbsent(ctx, 9, time.Now()); err == nil {
		t.Fatal("expected error from failing store")
	}
	// A retry after the transient failure must reach the store again.
	if err := d.RecordIfAbsent(ctx, 9, time.Now()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	n, _ := d.Count(ctx)
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestOpenWarmsCacheFromStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	_ = store.RecordRecipient(ctx, 1, time.Now())
	_ = store.RecordRecipient(ctx, 2, time.Now())

	d, err := Open(ctx, store, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	inserts := store.inserts
	if err := d.RecordIfAbsent(ctx, 1, time.Now()); err != nil {
		t.Fatalf("RecordIfAbsent: %v", err)
	}
	if store.inserts != inserts {
		t.Fatal("known recipient hit the store after warm start")
	}
}

func TestConcurrentRecordSingleInsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	d, err := Open(ctx, store, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.RecordIfAbsent(ctx, 55, time.Now())
		}()
	}
	wg.Wait()

	if store.inserts != 1 {
		t.Fatalf("store inserts = %d, want 1", store.inserts)
	}
}

func TestSnapshotOrderedByFirstSeen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	d, err := Open(ctx, store, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	base := time.Now()
	for i, id := range []int64{30, 10, 20} {
		if err := d.RecordIfAbsent(ctx, id, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordIfAbsent: %v", err)
		}
	}
	got, err := d.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	want := []int64{30, 10, 20}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot = %v, want %v", got, want)
		}
	}
}
