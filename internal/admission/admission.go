// Package admission consumes join-request events.
//
// Per event: record the requester, approve the request synchronously,
// then spawn the welcome delivery as a detached task. Approval latency is
// never coupled to welcome latency (the welcome involves a video upload).
// A failed approval ends the flow for that event; a failed welcome is
// logged and forgotten, it never re-opens or retries the admission.
package admission

import (
	"context"
	"time"

	kit "joinbot/internal/transport"
	"joinbot/pkg/logx"
)

// Approver is the platform call that grants admission.
type Approver interface {
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
}

// Tracker records first-contact of the requesting user.
type Tracker interface {
	RecordIfAbsent(ctx context.Context, userID int64, at time.Time) error
}

// Welcomer delivers the welcome message to an admitted user.
type Welcomer interface {
	Welcome(ctx context.Context, req *kit.JoinRequest) error
}

type Controller struct {
	approver Approver
	tracker  Tracker
	welcomer Welcomer
	log      logx.Logger

	// spawn runs the detached welcome task. Defaults to a plain goroutine;
	// tests replace it with a synchronous runner.
	spawn func(name string, fn func(ctx context.Context))
}

func New(approver Approver, tracker Tracker, welcomer Welcomer, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{approver: approver, tracker: tracker, welcomer: welcomer, log: log}
	c.spawn = func(name string, fn func(ctx context.Context)) {
		go fn(context.Background())
	}
	return c
}

// SetSpawner replaces the detached-task runner (used by the app to hand
// welcome tasks to its supervisor, and by tests to run them inline).
func (c *Controller) SetSpawner(spawn func(name string, fn func(ctx context.Context))) {
	if spawn != nil {
		c.spawn = spawn
	}
}

// HandleJoinRequest processes one join-request event. It returns after
// admission has been decided; welcome delivery continues in the
// background and its failure is observable only through logs.
func (c *Controller) HandleJoinRequest(ctx context.Context, req *kit.JoinRequest) {
	if req == nil {
		return
	}
	log := c.log.With(logx.Int64("chat_id", req.ChatID), logx.Int64("user_id", req.UserID))

	if err := c.tracker.RecordIfAbsent(ctx, req.UserID, time.Now()); err != nil {
		// Tracking is not a precondition for admission.
		log.Warn("recipient tracking failed", logx.Err(err))
	}

	if err := c.approver.ApproveJoinRequest(ctx, req.ChatID, req.UserID); err != nil {
		log.Error("join approval failed", logx.Err(err))
		return
	}
	log.Info("join request approved", logx.String("chat", req.ChatTitle))

	r := *req
	c.spawn("admission.welcome", func(taskCtx context.Context) {
		if err := c.welcomer.Welcome(taskCtx, &r); err != nil {
			log.Warn("welcome delivery abandoned", logx.Err(err))
		}
	})
}
