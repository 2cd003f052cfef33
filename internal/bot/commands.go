package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"joinbot/internal/config"
	"joinbot/internal/fanout"
	"joinbot/internal/invites"
	"joinbot/internal/stats"
	"joinbot/internal/storage"
	kit "joinbot/internal/transport"
	"joinbot/pkg/logx"
)

// Commands implements the private-chat command surface. Owner-only
// commands are silently ignored for everyone else, matching how the bot
// behaves toward unknown users.
type Commands struct {
	cfg     config.TelegramConfig
	welcome config.WelcomeConfig
	sender  TextSender
	links   *invites.Cache
	stats   *stats.Service
	engine  *fanout.Engine
	log     logx.Logger
}

func NewCommands(cfg config.TelegramConfig, welcome config.WelcomeConfig, sender TextSender, links *invites.Cache, st *stats.Service, engine *fanout.Engine, log logx.Logger) *Commands {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Commands{
		cfg:     cfg,
		welcome: welcome,
		sender:  sender,
		links:   links,
		stats:   st,
		engine:  engine,
		log:     log,
	}
}

func (c *Commands) isOwner(userID int64) bool {
	for _, id := range c.cfg.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Commands) Handle(ctx context.Context, cmd string, msg *kit.Message) {
	switch cmd {
	case "start":
		c.start(ctx, msg)
	case "users":
		if c.isOwner(msg.FromID) {
			c.users(ctx, msg)
		}
	case "grp":
		if c.isOwner(msg.FromID) {
			c.groups(ctx, msg)
		}
	case "broadcasts":
		if c.isOwner(msg.FromID) {
			c.broadcasts(ctx, msg)
		}
	}
}

func (c *Commands) reply(ctx context.Context, msg *kit.Message, text string, opt *kit.SendOptions) {
	if _, err := c.sender.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, text, opt); err != nil {
		c.log.Warn("command reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

func (c *Commands) start(ctx context.Context, msg *kit.Message) {
	text := "Hi, I'm a group/channel join request accepter bot!\n\n" +
		"Just add me to your group or channel, and I'll accept any join requests instantly."

	var opt *kit.SendOptions
	if u := strings.TrimSpace(c.cfg.BotUsername); u != "" {
		opt = &kit.SendOptions{Buttons: [][]kit.URLButton{{
			{Text: "Add to Group", URL: fmt.Sprintf("https://t.me/%s?startgroup", u)},
			{Text: "Add to Channel", URL: fmt.Sprintf("https://t.me/%s?startchannel", u)},
		}}}
	}
	c.reply(ctx, msg, text, opt)
}

// PromoReply answers any non-command private text.
func (c *Commands) PromoReply(ctx context.Context, msg *kit.Message) {
	url := strings.TrimSpace(c.welcome.PromoURL)
	if url == "" {
		return
	}
	opt := &kit.SendOptions{Buttons: [][]kit.URLButton{{{Text: "More Here", URL: url}}}}
	c.reply(ctx, msg, "Get more here 👇", opt)
}

func (c *Commands) users(ctx context.Context, msg *kit.Message) {
	text, err := c.stats.Render(ctx, time.Now())
	if err != nil {
		c.log.Warn("stats render failed", logx.Err(err))
		c.reply(ctx, msg, "Stats are unavailable right now.", nil)
		return
	}
	c.reply(ctx, msg, text, nil)
}

func (c *Commands) groups(ctx context.Context, msg *kit.Message) {
	handles, err := c.links.Known(ctx, storage.ModeDirect)
	if err != nil {
		c.log.Warn("invite listing failed", logx.Err(err))
		c.reply(ctx, msg, "Invite links are unavailable right now.", nil)
		return
	}
	if len(handles) == 0 {
		c.reply(ctx, msg, "No groups or channels available yet.", nil)
		return
	}
	lines := make([]string, 0, len(handles))
	for i, h := range handles {
		lines = append(lines, fmt.Sprintf("(%d) %s - %s", i+1, h.ChatTitle, h.InviteURL))
	}
	// The adapter splits long messages to fit Telegram's limit.
	c.reply(ctx, msg, strings.Join(lines, "\n"), &kit.SendOptions{DisablePreview: true})
}

func (c *Commands) broadcasts(ctx context.Context, msg *kit.Message) {
	reports := c.engine.History()
	if len(reports) == 0 {
		c.reply(ctx, msg, "No broadcasts yet.", nil)
		return
	}
	lines := make([]string, 0, len(reports))
	for _, r := range reports {
		lines = append(lines, fmt.Sprintf("%s  total=%d ok=%d fail=%d in %.2fs",
			r.StartedAt.Format("2006-01-02 15:04"), r.Total, r.Successful, r.Failed, r.Elapsed.Seconds()))
	}
	c.reply(ctx, msg, strings.Join(lines, "\n"), nil)
}
