package transport

import "context"

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateChannelPost UpdateKind = "channel_post"
	UpdateJoinRequest UpdateKind = "join_request"
)

type Update struct {
	Kind        UpdateKind
	Message     *Message
	JoinRequest *JoinRequest
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsPrivate    bool

	// MarkupAdapter carries the adapter-specific inline markup attached to
	// the message (Telegram: *telebot.ReplyMarkup). It is forwarded as-is
	// when the message is copied.
	MarkupAdapter any
}

// JoinRequest is a pending request to join a group or channel.
type JoinRequest struct {
	ChatID    int64
	ChatTitle string
	UserID    int64
	Username  string
	FirstName string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// URLButton is a platform-neutral inline button opening a URL.
type URLButton struct {
	Text string
	URL  string
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	Buttons            [][]URLButton // rendered as an inline keyboard by the adapter
	ReplyMarkupAdapter any           // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Adapter is the messaging-platform client consumed by the bot. All calls
// are blocking network operations and can fail; none are retried here.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendVideo(ctx context.Context, to ChatTarget, path, caption string, opt *SendOptions) (MessageRef, error)
	CopyMessage(ctx context.Context, to ChatTarget, from MessageRef, opt *SendOptions) (MessageRef, error)

	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	CreateInviteLink(ctx context.Context, chatID int64, joinRequest bool) (string, error)
}
