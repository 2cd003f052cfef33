package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	kit "joinbot/internal/transport"
	"joinbot/pkg/logx"
)

type fakeDirectory struct {
	mu  sync.Mutex
	ids []int64
}

func (d *fakeDirectory) Snapshot(ctx context.Context) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.ids...), nil
}

func (d *fakeDirectory) add(id int64) {
	d.mu.Lock()
	d.ids = append(d.ids, id)
	d.mu.Unlock()
}

type failingDirectory struct{}

func (failingDirectory) Snapshot(ctx context.Context) ([]int64, error) {
	return nil, errors.New("store down")
}

type fakeCopier struct {
	mu    sync.Mutex
	calls []int64

	failFor  map[int64]error
	panicFor map[int64]bool

	// started is closed-ish signaled once per delivery; release gates
	// completion so tests can act mid-flight.
	started chan int64
	release chan struct{}
}

func (c *fakeCopier) CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.calls = append(c.calls, to.ChatID)
	c.mu.Unlock()

	if c.started != nil {
		c.started <- to.ChatID
	}
	if c.release != nil {
		<-c.release
	}
	if c.panicFor[to.ChatID] {
		panic(fmt.Sprintf("recipient %d exploded", to.ChatID))
	}
	if err := c.failFor[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (c *fakeCopier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeSink struct {
	mu      sync.Mutex
	reports []Report
	err     error
}

func (s *fakeSink) DeliverReport(ctx context.Context, r Report) error {
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
	return s.err
}

func (s *fakeSink) last(t *testing.T) Report {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) == 0 {
		t.Fatal("no report delivered")
	}
	return s.reports[len(s.reports)-1]
}

func sourceMsg() *kit.Message {
	return &kit.Message{ID: 42, ChatID: -100500}
}

func TestFanOutMixedOutcomes(t *testing.T) {
	t.Parallel()
	// A succeeds, B fails, C succeeds.
	dir := &fakeDirectory{ids: []int64{1, 2, 3}}
	copier := &fakeCopier{failFor: map[int64]error{2: errors.New("bot was blocked")}}
	sink := &fakeSink{}
	e := New(Config{}, dir, copier, sink, logx.Nop())

	e.HandleSourceMessage(context.Background(), sourceMsg())

	r := sink.last(t)
	if r.Total != 3 || r.Successful != 2 || r.Failed != 1 {
		t.Fatalf("report = total %d ok %d fail %d, want 3/2/1", r.Total, r.Successful, r.Failed)
	}
	if r.Successful+r.Failed != r.Total {
		t.Fatalf("tally invariant broken: %d + %d != %d", r.Successful, r.Failed, r.Total)
	}
}

func TestFanOutCountInvariantAcrossSizes(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 2, 7, 64} {
		n := n
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()
			ids := make([]int64, 0, n)
			failFor := map[int64]error{}
			wantFailed := 0
			for i := 0; i < n; i++ {
				id := int64(i + 1)
				ids = append(ids, id)
				if i%3 == 0 {
					failFor[id] = errors.New("chat not found")
					wantFailed++
				}
			}
			sink := &fakeSink{}
			e := New(Config{}, &fakeDirectory{ids: ids}, &fakeCopier{failFor: failFor}, sink, logx.Nop())

			e.HandleSourceMessage(context.Background(), sourceMsg())

			r := sink.last(t)
			if r.Total != n {
				t.Fatalf("Total = %d, want %d", r.Total, n)
			}
			if r.Failed != wantFailed {
				t.Fatalf("Failed = %d, want %d", r.Failed, wantFailed)
			}
			if r.Successful+r.Failed != r.Total || r.Successful < 0 || r.Failed < 0 {
				t.Fatalf("invariant broken: ok=%d fail=%d total=%d", r.Successful, r.Failed, r.Total)
			}
		})
	}
}

func TestFanOutFailureDoesNotStopSiblings(t *testing.T) {
	t.Parallel()
	ids := []int64{10, 20, 30, 40, 50}
	copier := &fakeCopier{failFor: map[int64]error{20: errors.New("deactivated")}}
	sink := &fakeSink{}
	e := New(Config{}, &fakeDirectory{ids: ids}, copier, sink, logx.Nop())

	e.HandleSourceMessage(context.Background(), sourceMsg())

	if got := copier.callCount(); got != len(ids) {
		t.Fatalf("deliveries attempted = %d, want %d", got, len(ids))
	}
	r := sink.last(t)
	if r.Successful != 4 || r.Failed != 1 {
		t.Fatalf("report = ok %d fail %d, want 4/1", r.Successful, r.Failed)
	}
}

func TestFanOutPanicIsolatedPerDelivery(t *testing.T) {
	t.Parallel()
	copier := &fakeCopier{panicFor: map[int64]bool{2: true}}
	sink := &fakeSink{}
	e := New(Config{}, &fakeDirectory{ids: []int64{1, 2, 3}}, copier, sink, logx.Nop())

	e.HandleSourceMessage(context.Background(), sourceMsg())

	r := sink.last(t)
	if r.Successful != 2 || r.Failed != 1 {
		t.Fatalf("report = ok %d fail %d, want 2/1", r.Successful, r.Failed)
	}
}

func TestFanOutEmptySnapshotSendsNoReport(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := New(Config{}, &fakeDirectory{}, &fakeCopier{}, sink, logx.Nop())

	e.HandleSourceMessage(context.Background(), sourceMsg())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.reports) != 0 {
		t.Fatalf("expected no report for empty snapshot, got %d", len(sink.reports))
	}
}

func TestFanOutSnapshotIsolation(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{ids: []int64{1, 2, 3}}
	copier := &fakeCopier{
		started: make(chan int64, 8),
		release: make(chan struct{}),
	}
	sink := &fakeSink{}
	e := New(Config{}, dir, copier, sink, logx.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.HandleSourceMessage(context.Background(), sourceMsg())
	}()

	// Wait until every delivery of the frozen snapshot is in flight, then
	// grow the directory mid-job.
	for i := 0; i < 3; i++ {
		<-copier.started
	}
	dir.add(4)
	close(copier.release)
	<-done

	r := sink.last(t)
	if r.Total != 3 {
		t.Fatalf("Total = %d, want 3 (late join must be excluded)", r.Total)
	}
	copier.mu.Lock()
	defer copier.mu.Unlock()
	for _, id := range copier.calls {
		if id == 4 {
			t.Fatal("late-joined recipient received the broadcast")
		}
	}
}

func TestFanOutSinkFailureSwallowed(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{err: errors.New("admin unreachable")}
	e := New(Config{}, &fakeDirectory{ids: []int64{1}}, &fakeCopier{}, sink, logx.Nop())

	// Must not panic or retry; the job is complete regardless.
	e.HandleSourceMessage(context.Background(), sourceMsg())

	if got := len(e.History()); got != 1 {
		t.Fatalf("history = %d reports, want 1", got)
	}
}

func TestFanOutSnapshotErrorAbortsQuietly(t *testing.T) {
	t.Parallel()
	copier := &fakeCopier{}
	sink := &fakeSink{}
	e := New(Config{}, failingDirectory{}, copier, sink, logx.Nop())

	e.HandleSourceMessage(context.Background(), sourceMsg())

	if copier.callCount() != 0 {
		t.Fatal("no deliveries expected when the snapshot fails")
	}
	if len(sink.reports) != 0 {
		t.Fatal("no report expected when the snapshot fails")
	}
}

func TestFanOutElapsedIsPositive(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := New(Config{}, &fakeDirectory{ids: []int64{1, 2}}, &fakeCopier{}, sink, logx.Nop())

	e.HandleSourceMessage(context.Background(), sourceMsg())

	r := sink.last(t)
	if r.Elapsed < 0 || r.Elapsed > time.Minute {
		t.Fatalf("implausible elapsed duration: %v", r.Elapsed)
	}
	if r.StartedAt.IsZero() {
		t.Fatal("StartedAt not set")
	}
}
