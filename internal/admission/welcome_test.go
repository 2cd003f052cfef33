package admission

import (
	"context"
	"errors"
	"strings"
	"testing"

	"joinbot/internal/storage"
	kit "joinbot/internal/transport"
	"joinbot/pkg/logx"
)

type fakeLinks struct {
	errFor map[storage.InviteMode]error
	asked  []storage.InviteMode
}

func (l *fakeLinks) GetOrCreate(ctx context.Context, chatID int64, chatTitle string, mode storage.InviteMode) (storage.InviteHandle, error) {
	l.asked = append(l.asked, mode)
	if err := l.errFor[mode]; err != nil {
		return storage.InviteHandle{}, err
	}
	return storage.InviteHandle{
		ChatID:    chatID,
		Mode:      mode,
		ChatTitle: chatTitle,
		InviteURL: "https://t.me/+" + string(mode),
	}, nil
}

type fakeVideoSender struct {
	to      kit.ChatTarget
	path    string
	caption string
	opt     *kit.SendOptions
	sent    int
	err     error
}

func (s *fakeVideoSender) SendVideo(ctx context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s.sent++
	s.to, s.path, s.caption, s.opt = to, path, caption, opt
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, s.err
}

func TestWelcomeSendsVideoWithGatedLink(t *testing.T) {
	t.Parallel()
	links := &fakeLinks{}
	sender := &fakeVideoSender{}
	g := NewGreeter(WelcomeConfig{VideoPath: "/tmp/welcome.mp4", PromoHandle: "@Promo"}, links, sender, logx.Nop())

	err := g.Welcome(context.Background(), request())
	if err != nil {
		t.Fatalf("Welcome: %v", err)
	}
	if sender.sent != 1 {
		t.Fatalf("videos sent = %d, want 1", sender.sent)
	}
	if sender.to.ChatID != 77 {
		t.Fatalf("video sent to chat %d, want user 77", sender.to.ChatID)
	}
	if sender.path != "/tmp/welcome.mp4" {
		t.Fatalf("video path = %q", sender.path)
	}
	if !strings.Contains(sender.caption, "tg://user?id=77") {
		t.Fatalf("caption lacks user mention: %q", sender.caption)
	}
	if !strings.Contains(sender.caption, "@Promo") {
		t.Fatalf("caption lacks promo handle: %q", sender.caption)
	}
	if len(sender.opt.Buttons) != 1 || len(sender.opt.Buttons[0]) != 1 {
		t.Fatalf("buttons = %v, want a single row with one button", sender.opt.Buttons)
	}
	btn := sender.opt.Buttons[0][0]
	if btn.Text != "room" || !strings.Contains(btn.URL, string(storage.ModeApproval)) {
		t.Fatalf("button = %+v, want gated room link", btn)
	}
}

func TestWelcomeEnsuresBothInviteModes(t *testing.T) {
	t.Parallel()
	links := &fakeLinks{}
	g := NewGreeter(WelcomeConfig{}, links, &fakeVideoSender{}, logx.Nop())

	if err := g.Welcome(context.Background(), request()); err != nil {
		t.Fatalf("Welcome: %v", err)
	}
	if len(links.asked) != 2 || links.asked[0] != storage.ModeApproval || links.asked[1] != storage.ModeDirect {
		t.Fatalf("modes asked = %v, want [approval direct]", links.asked)
	}
}

func TestWelcomeGatedMintFailure(t *testing.T) {
	t.Parallel()
	links := &fakeLinks{errFor: map[storage.InviteMode]error{storage.ModeApproval: errors.New("flood wait")}}
	sender := &fakeVideoSender{}
	g := NewGreeter(WelcomeConfig{}, links, sender, logx.Nop())

	if err := g.Welcome(context.Background(), request()); err == nil {
		t.Fatal("expected error when gated link cannot be minted")
	}
	if sender.sent != 0 {
		t.Fatalf("videos sent = %d, want 0", sender.sent)
	}
}

func TestWelcomeEscapesNames(t *testing.T) {
	t.Parallel()
	sender := &fakeVideoSender{}
	g := NewGreeter(WelcomeConfig{}, &fakeLinks{}, sender, logx.Nop())

	req := request()
	req.FirstName = "<Ada & Co>"
	if err := g.Welcome(context.Background(), req); err != nil {
		t.Fatalf("Welcome: %v", err)
	}
	if strings.Contains(sender.caption, "<Ada") {
		t.Fatalf("caption has unescaped name: %q", sender.caption)
	}
	if !strings.Contains(sender.caption, "&lt;Ada &amp; Co&gt;") {
		t.Fatalf("caption = %q", sender.caption)
	}
}

func TestWelcomeFallbackName(t *testing.T) {
	t.Parallel()
	sender := &fakeVideoSender{}
	g := NewGreeter(WelcomeConfig{}, &fakeLinks{}, sender, logx.Nop())

	req := request()
	req.FirstName = ""
	if err := g.Welcome(context.Background(), req); err != nil {
		t.Fatalf("Welcome: %v", err)
	}
	if !strings.Contains(sender.caption, ">there<") {
		t.Fatalf("caption = %q, want fallback greeting", sender.caption)
	}
}
