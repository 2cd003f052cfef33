package bot

import (
	"context"
	"strings"
	"time"

	"joinbot/internal/config"
	kit "joinbot/internal/transport"
	"joinbot/pkg/logx"
)

// JoinHandler consumes join-request events.
type JoinHandler interface {
	HandleJoinRequest(ctx context.Context, req *kit.JoinRequest)
}

// BroadcastHandler consumes posts from the broadcast source chat.
type BroadcastHandler interface {
	HandleSourceMessage(ctx context.Context, msg *kit.Message)
}

// Tracker records first contact for every inbound sender.
type Tracker interface {
	RecordIfAbsent(ctx context.Context, userID int64, at time.Time) error
}

// Router routes inbound updates. Source-chat routing is mutually
// exclusive: a join request goes to admission, a post in the broadcast
// chat goes to the fan-out engine, and everything else is private-chat
// command handling. No update ever takes two paths.
type Router struct {
	cfg       config.TelegramConfig
	adapter   kit.Adapter
	tracker   Tracker
	admission JoinHandler
	broadcast BroadcastHandler
	cmds      *Commands
	log       logx.Logger
}

func NewRouter(cfg config.TelegramConfig, adapter kit.Adapter, tracker Tracker, admission JoinHandler, broadcast BroadcastHandler, cmds *Commands, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:       cfg,
		adapter:   adapter,
		tracker:   tracker,
		admission: admission,
		broadcast: broadcast,
		cmds:      cmds,
		log:       log,
	}
}

// Dispatch handles one update to completion. The caller runs each update
// in its own goroutine so broadcasts never delay admissions.
func (r *Router) Dispatch(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateJoinRequest:
		r.admission.HandleJoinRequest(ctx, up.JoinRequest)

	case kit.UpdateChannelPost:
		if up.Message == nil || up.Message.ChatID != r.cfg.BroadcastChat {
			return
		}
		r.broadcast.HandleSourceMessage(ctx, up.Message)

	case kit.UpdateMessage:
		r.handleMessage(ctx, up.Message)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	if msg.FromID != 0 {
		if err := r.tracker.RecordIfAbsent(ctx, msg.FromID, time.Now()); err != nil {
			r.log.Warn("recipient tracking failed", logx.Int64("user_id", msg.FromID), logx.Err(err))
		}
	}
	if !msg.IsPrivate {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if cmd, ok := parseCommand(text); ok {
		r.cmds.Handle(ctx, cmd, msg)
	} else if text != "" {
		r.cmds.PromoReply(ctx, msg)
	}

	// Archive everything except bare commands.
	if r.cfg.ArchiveChat != 0 && !isBareCommand(text) {
		from := kit.MessageRef{ChatID: msg.ChatID, MessageID: msg.ID}
		if _, err := r.adapter.CopyMessage(ctx, kit.ChatTarget{ChatID: r.cfg.ArchiveChat}, from, nil); err != nil {
			r.log.Warn("archive copy failed", logx.Int64("user_id", msg.FromID), logx.Err(err))
		}
	}
}

// parseCommand extracts the command name from "/cmd", "/cmd@bot" or
// "/cmd args" forms.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := text[1:]
	if i := strings.IndexByte(name, ' '); i != -1 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, '@'); i != -1 {
		name = name[:i]
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}

// isBareCommand reports whether text is a command with no payload, which
// is not worth archiving.
func isBareCommand(text string) bool {
	return strings.HasPrefix(text, "/") && !strings.Contains(text, " ")
}
