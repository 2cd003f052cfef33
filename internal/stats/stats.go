// Package stats renders recipient-growth statistics and sends them to the
// admin chat on a cron schedule. The /users command reuses the renderer.
package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	kit "joinbot/internal/transport"
	"joinbot/pkg/logx"
)

// Counter exposes the directory counts the digest is built from.
type Counter interface {
	Count(ctx context.Context) (int, error)
	CountSince(ctx context.Context, t time.Time) (int, error)
}

// Sender delivers the rendered digest.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Config struct {
	Enabled   bool
	Schedule  string // cron expression
	Timezone  string
	AdminChat int64
}

type Service struct {
	cfg    Config
	dir    Counter
	sender Sender
	log    logx.Logger

	startedAt time.Time
	c         *cron.Cron
}

func New(cfg Config, dir Counter, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, dir: dir, sender: sender, log: log, startedAt: time.Now()}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = "0 9 * * *"
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("stats timezone: %w", err)
		}
		loc = l
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	if _, err := s.c.AddFunc(spec, func() { s.sendDigest(ctx) }); err != nil {
		return fmt.Errorf("stats schedule %q: %w", spec, err)
	}
	s.c.Start()
	s.log.Info("stats digest scheduled", logx.String("spec", spec))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	stopped := s.c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	s.c = nil
}

func (s *Service) sendDigest(ctx context.Context) {
	text, err := s.Render(ctx, time.Now())
	if err != nil {
		s.log.Warn("stats digest render failed", logx.Err(err))
		return
	}
	if _, err := s.sender.SendText(ctx, kit.ChatTarget{ChatID: s.cfg.AdminChat}, text, nil); err != nil {
		s.log.Warn("stats digest send failed", logx.Err(err))
	}
}

// Render builds the stats text: total recipients, today (since local
// midnight), last 7 days, last 30 days, and the process start date.
func (s *Service) Render(ctx context.Context, now time.Time) (string, error) {
	total, err := s.dir.Count(ctx)
	if err != nil {
		return "", err
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := s.dir.CountSince(ctx, midnight)
	if err != nil {
		return "", err
	}
	week, err := s.dir.CountSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return "", err
	}
	month, err := s.dir.CountSince(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Total Users: %d\n", total)
	fmt.Fprintf(&b, "Today's Users: %d\n", today)
	fmt.Fprintf(&b, "Last 7 Days: %d\n", week)
	fmt.Fprintf(&b, "Last 30 Days: %d\n", month)
	fmt.Fprintf(&b, "Running Since: %s", s.startedAt.Format("2006-01-02 15:04:05"))
	return b.String(), nil
}
