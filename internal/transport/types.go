package transport

import (
	"context"
	"errors"
)

// ErrPermanent marks a send failure that retrying cannot fix (chat gone,
// bot blocked). Adapters wrap such errors with it.
var ErrPermanent = errors.New("transport: permanent send failure")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdatePresence UpdateKind = "presence"
	UpdateDeleted  UpdateKind = "deleted"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Presence *Presence
	Deleted  *Deleted
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	FromIsBot    bool
	Text         string
	IsGroup      bool
}

// Presence reports a member joining or leaving a group.
type Presence struct {
	ChatID    int64
	ChatTitle string
	UserID    int64
	UserName  string
	IsBot     bool
	Joined    bool
}

// Deleted carries the last known content of a removed message.
type Deleted struct {
	ChatID     int64
	ChatTitle  string
	MessageID  int
	AuthorID   int64
	AuthorName string
	AuthorBot  bool
	Text       string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the outbound half of an Adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
