package admission

import (
	"context"
	"fmt"
	"html"
	"strings"

	"joinbot/internal/storage"
	kit "joinbot/internal/transport"
	"joinbot/pkg/logx"
)

// Links resolves the invite handles referenced by the welcome message.
type Links interface {
	GetOrCreate(ctx context.Context, chatID int64, chatTitle string, mode storage.InviteMode) (storage.InviteHandle, error)
}

// VideoSender delivers the welcome video.
type VideoSender interface {
	SendVideo(ctx context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type WelcomeConfig struct {
	VideoPath string
	// PromoHandle is appended to the caption (e.g. "@MyChannel").
	PromoHandle string
}

// Greeter sends the welcome video with an inline join button to a freshly
// admitted user. Both invite handles for the chat are ensured here: the
// approval-gated one goes into the message, the direct one is persisted
// for the operator's /grp listing.
type Greeter struct {
	cfg    WelcomeConfig
	links  Links
	sender VideoSender
	log    logx.Logger
}

func NewGreeter(cfg WelcomeConfig, links Links, sender VideoSender, log logx.Logger) *Greeter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Greeter{cfg: cfg, links: links, sender: sender, log: log}
}

func (g *Greeter) Welcome(ctx context.Context, req *kit.JoinRequest) error {
	gated, err := g.links.GetOrCreate(ctx, req.ChatID, req.ChatTitle, storage.ModeApproval)
	if err != nil {
		return fmt.Errorf("approval invite: %w", err)
	}
	if _, err := g.links.GetOrCreate(ctx, req.ChatID, req.ChatTitle, storage.ModeDirect); err != nil {
		return fmt.Errorf("direct invite: %w", err)
	}

	caption := g.caption(req, gated.InviteURL)
	opt := &kit.SendOptions{
		ParseMode: "HTML",
		Buttons:   [][]kit.URLButton{{{Text: req.ChatTitle, URL: gated.InviteURL}}},
	}
	if _, err := g.sender.SendVideo(ctx, kit.ChatTarget{ChatID: req.UserID}, g.cfg.VideoPath, caption, opt); err != nil {
		return fmt.Errorf("welcome send: %w", err)
	}
	g.log.Debug("welcome sent", logx.Int64("user_id", req.UserID), logx.Int64("chat_id", req.ChatID))
	return nil
}

func (g *Greeter) caption(req *kit.JoinRequest, inviteURL string) string {
	name := req.FirstName
	if name == "" {
		name = "there"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hello <b><a href='tg://user?id=%d'>%s</a></b>!\n", req.UserID, html.EscapeString(name))
	fmt.Fprintf(&b, "Welcome to <b><a href='%s'>%s</a></b>", inviteURL, html.EscapeString(req.ChatTitle))
	if h := strings.TrimSpace(g.cfg.PromoHandle); h != "" {
		fmt.Fprintf(&b, "\n\n<b>%s</b>", html.EscapeString(h))
	}
	return b.String()
}
