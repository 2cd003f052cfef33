package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	kit "joinbot/internal/transport"
	"joinbot/pkg/logx"
)

// Copier delivers a copy of a message to one recipient.
type Copier interface {
	CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Directory supplies the frozen recipient set for one job.
type Directory interface {
	Snapshot(ctx context.Context) ([]int64, error)
}

// Sink receives the final delivery report. Failures are swallowed by the
// engine; the report is telemetry, not part of the job's outcome.
type Sink interface {
	DeliverReport(ctx context.Context, r Report) error
}

// Report summarizes one finished fan-out job.
// Invariant: Successful + Failed == Total == snapshot size at job start.
type Report struct {
	ID         string
	Source     kit.MessageRef
	Total      int
	Successful int
	Failed     int
	StartedAt  time.Time
	Elapsed    time.Duration
}

type Config struct {
	// HistoryMax and HistoryTTL bound the in-memory report history.
	HistoryMax int
	HistoryTTL time.Duration
}

type Engine struct {
	cfg    Config
	dir    Directory
	copier Copier
	sink   Sink
	log    logx.Logger

	histMu  sync.Mutex
	history []Report
}

func New(cfg Config, dir Directory, copier Copier, sink Sink, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg, dir: dir, copier: copier, sink: sink, log: log}
}

// HandleSourceMessage runs one fan-out job for a message posted in the
// broadcast source chat. It blocks until every per-recipient delivery has
// reached a terminal state.
func (e *Engine) HandleSourceMessage(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	source := kit.MessageRef{ChatID: msg.ChatID, MessageID: msg.ID}

	snapshot, err := e.dir.Snapshot(ctx)
	if err != nil {
		e.log.Error("broadcast aborted: directory snapshot failed",
			logx.Int("message_id", msg.ID), logx.Err(err))
		return
	}
	if len(snapshot) == 0 {
		// Nothing to deliver and nothing worth reporting.
		e.log.Debug("broadcast skipped: no recipients", logx.Int("message_id", msg.ID))
		return
	}

	started := time.Now()
	id := fmt.Sprintf("bc:%d", started.UnixNano())
	e.log.Info("broadcast started",
		logx.String("job", id),
		logx.Int("message_id", msg.ID),
		logx.Int("recipients", len(snapshot)))

	opt := &kit.SendOptions{ReplyMarkupAdapter: msg.MarkupAdapter}

	// One delivery per recipient, all concurrent. outcomes is indexed per
	// recipient so goroutines never share a slot; the WaitGroup is the
	// full barrier: no report until every delivery resolved.
	outcomes := make([]error, len(snapshot))
	var wg sync.WaitGroup
	wg.Add(len(snapshot))
	for i, userID := range snapshot {
		go func(slot int, userID int64) {
			defer wg.Done()
			outcomes[slot] = e.deliverOne(ctx, userID, source, opt)
		}(i, userID)
	}
	wg.Wait()

	successful := 0
	for _, err := range outcomes {
		if err == nil {
			successful++
		}
	}

	report := Report{
		ID:         id,
		Source:     source,
		Total:      len(snapshot),
		Successful: successful,
		Failed:     len(snapshot) - successful,
		StartedAt:  started,
		Elapsed:    time.Since(started),
	}
	e.remember(report)

	fields := []logx.Field{
		logx.String("job", id),
		logx.Int("total", report.Total),
		logx.Int("failed", report.Failed),
		logx.Duration("elapsed", report.Elapsed),
	}
	if report.Failed > 0 {
		e.log.Warn("broadcast finished with failures", fields...)
	} else {
		e.log.Info("broadcast finished", fields...)
	}

	if e.sink != nil {
		if err := e.sink.DeliverReport(ctx, report); err != nil {
			// Best-effort telemetry; the broadcast already happened.
			e.log.Warn("delivery report not sent", logx.String("job", id), logx.Err(err))
		}
	}
}

// deliverOne performs a single delivery and classifies its terminal state.
// Any error (and any panic below the transport) counts as a failure for
// this recipient only.
func (e *Engine) deliverOne(ctx context.Context, userID int64, source kit.MessageRef, opt *kit.SendOptions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
			e.log.Error("panic in delivery", logx.Int64("user_id", userID), logx.Any("panic", r))
		}
	}()
	_, err = e.copier.CopyMessage(ctx, kit.ChatTarget{ChatID: userID}, source, opt)
	if err != nil {
		e.log.Debug("delivery failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	return err
}
