package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "joinbot/internal/runtime/supervisor"
	kit "joinbot/internal/transport"
	"joinbot/pkg/logx"
)

// telegramTextLimit is Telegram's hard cap on message text length.
const telegramTextLimit = 4096

type Config struct {
	Token       string
	PollTimeout time.Duration

	// RatePerSec throttles all outbound API calls. This is the transport's
	// own limit (Telegram allows roughly 30 messages per second bot-wide);
	// callers above the adapter are never throttled themselves.
	RatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop reporter).
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Reported periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		a.forwardMessage(c.Message())
		return nil
	})
	a.bot.Handle(tele.OnMedia, func(c tele.Context) error {
		a.forwardMessage(c.Message())
		return nil
	})
	a.bot.Handle(tele.OnChannelPost, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		up := kit.Update{Kind: kit.UpdateChannelPost, Message: messageFrom(m)}
		a.sendUpdate(up)
		return nil
	})
	a.bot.Handle(tele.OnChatJoinRequest, func(c tele.Context) error {
		req := c.Update().ChatJoinRequest
		if req == nil || req.Chat == nil || req.Sender == nil {
			return nil
		}
		up := kit.Update{
			Kind: kit.UpdateJoinRequest,
			JoinRequest: &kit.JoinRequest{
				ChatID:    req.Chat.ID,
				ChatTitle: req.Chat.Title,
				UserID:    req.Sender.ID,
				Username:  req.Sender.Username,
				FirstName: req.Sender.FirstName,
			},
		}
		a.sendUpdate(up)
		return nil
	})
}

func (a *Adapter) forwardMessage(m *tele.Message) {
	if m == nil || m.Chat == nil {
		return
	}
	a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: messageFrom(m)})
}

func messageFrom(m *tele.Message) *kit.Message {
	msg := &kit.Message{
		ID:        m.ID,
		ChatID:    m.Chat.ID,
		Text:      m.Text,
		IsPrivate: m.Chat.Type == tele.ChatPrivate,
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
		msg.FromName = m.Sender.FirstName
	}
	if m.ReplyMarkup != nil {
		msg.MarkupAdapter = m.ReplyMarkup
	}
	return msg
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	})

	sup.Go("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start() // blocks until Stop()
		}
		a.log.Info("polling stopped")
	}, 500*time.Millisecond, 10*time.Second)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	a.bot.Stop()
	if sup != nil {
		return sup.Stop(ctx)
	}
	return nil
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := a.wait(ctx); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		// Attach markup only to the first message.
		if i == 0 {
			sendOpt.ReplyMarkup = markupFor(opt)
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			if first.ChatID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendVideo(ctx context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := a.wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	video := &tele.Video{File: tele.FromDisk(path), Caption: caption}
	sendOpt := &tele.SendOptions{ParseMode: opt.ParseMode, ReplyMarkup: markupFor(opt)}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, video, sendOpt)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := a.wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	src := tele.StoredMessage{
		MessageID: strconv.Itoa(from.MessageID),
		ChatID:    from.ChatID,
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           markupFor(opt),
	}
	msg, err := a.bot.Copy(&tele.Chat{ID: to.ChatID}, src, sendOpt)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	return a.bot.ApproveJoinRequest(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
}

func (a *Adapter) CreateInviteLink(ctx context.Context, chatID int64, joinRequest bool) (string, error) {
	if err := a.wait(ctx); err != nil {
		return "", err
	}
	link, err := a.bot.CreateInviteLink(&tele.Chat{ID: chatID}, &tele.ChatInviteLink{
		JoinRequest: joinRequest,
	})
	if err != nil {
		return "", err
	}
	return link.InviteLink, nil
}

// markupFor converts SendOptions markup into telebot's. Adapter-specific
// markup (from a copied message) wins over neutral button rows.
func markupFor(opt *kit.SendOptions) *tele.ReplyMarkup {
	if opt == nil {
		return nil
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		return rm
	}
	if len(opt.Buttons) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	rows := make([][]tele.InlineButton, 0, len(opt.Buttons))
	for _, row := range opt.Buttons {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tele.InlineButton{Text: b.Text, URL: b.URL})
		}
		rows = append(rows, btns)
	}
	rm.InlineKeyboard = rows
	return rm
}

// splitText splits text into chunks of at most limit runes, preferring to
// break at the last newline inside the window.
func splitText(text string, limit int) []string {
	if text == "" {
		return nil
	}
	rs := []rune(text)
	if len(rs) <= limit {
		return []string{text}
	}

	var out []string
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			out = append(out, strings.TrimRight(string(rs[start:]), "\n"))
			break
		}
		cut := -1
		for i := end - 1; i > start; i-- {
			if rs[i] == '\n' {
				cut = i
				break
			}
		}
		if cut != -1 {
			end = cut
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
