package bot

import (
	"context"
	"fmt"

	"joinbot/internal/fanout"
	kit "joinbot/internal/transport"
	"joinbot/pkg/logx"
)

// TextSender is the single platform call the reporter needs.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Reporter delivers fan-out reports to the operator chat. It is a single
// fire-and-forget send; the engine swallows any error it returns.
type Reporter struct {
	sender    TextSender
	adminChat int64
	log       logx.Logger
}

func NewReporter(sender TextSender, adminChat int64, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{sender: sender, adminChat: adminChat, log: log}
}

func (r *Reporter) DeliverReport(ctx context.Context, rep fanout.Report) error {
	text := fmt.Sprintf(
		"Broadcast Summary:\nTotal Users: %d\nSuccessful: %d\nUnsuccessful: %d\nTotal Time: %.2f seconds",
		rep.Total, rep.Successful, rep.Failed, rep.Elapsed.Seconds(),
	)
	_, err := r.sender.SendText(ctx, kit.ChatTarget{ChatID: r.adminChat}, text, nil)
	return err
}
