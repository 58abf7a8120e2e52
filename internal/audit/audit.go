// Package audit posts group activity (members joining or leaving, deleted
// messages) to the log chat configured for that group.
package audit

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync/atomic"
	"time"

	"alarmbot/internal/alarm"
	kit "alarmbot/internal/transport"
	logx "alarmbot/pkg/logx"
)

// MaxDeletedLen bounds the quoted content of a deleted message (in runes).
const MaxDeletedLen = 900

// ConfigSource resolves a group's log configuration.
type ConfigSource interface {
	LogConfig(group alarm.GroupID) (alarm.GroupLogConfig, bool)
}

type Stats struct {
	Posted  uint64
	Skipped uint64
	Failed  uint64
}

type Logger struct {
	src    ConfigSource
	sender kit.Sender
	log    logx.Logger

	posted  atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

func New(src ConfigSource, sender kit.Sender, log logx.Logger) *Logger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Logger{src: src, sender: sender, log: log}
}

// Handle consumes one non-message update. Unknown kinds are ignored.
func (l *Logger) Handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdatePresence:
		if up.Presence != nil {
			l.presence(ctx, *up.Presence)
		}
	case kit.UpdateDeleted:
		if up.Deleted != nil {
			l.deleted(ctx, *up.Deleted)
		}
	}
}

func (l *Logger) presence(ctx context.Context, p kit.Presence) {
	if p.IsBot || !isGroupChat(p.ChatID) {
		l.skipped.Add(1)
		return
	}
	cfg, ok := l.src.LogConfig(alarm.GroupID(p.ChatID))
	if !ok {
		l.skipped.Add(1)
		return
	}
	l.post(ctx, cfg.Target, FormatPresence(p), p.ChatID)
}

func (l *Logger) deleted(ctx context.Context, d kit.Deleted) {
	if d.AuthorBot || !isGroupChat(d.ChatID) {
		l.skipped.Add(1)
		return
	}
	cfg, ok := l.src.LogConfig(alarm.GroupID(d.ChatID))
	if !ok || !cfg.LogDeletes {
		l.skipped.Add(1)
		return
	}
	l.post(ctx, cfg.Target, FormatDeleted(d), d.ChatID)
}

func (l *Logger) post(ctx context.Context, to alarm.Target, text string, group int64) {
	s := l.sender
	if s == nil {
		l.failed.Add(1)
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := s.SendText(cctx, kit.ChatTarget{ChatID: to.ChatID, ThreadID: to.ThreadID}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		l.failed.Add(1)
		l.log.Warn("audit post failed", logx.Err(err), logx.Int64("group", group), logx.Int64("log_chat", to.ChatID))
		return
	}
	l.posted.Add(1)
}

func (l *Logger) Stats() Stats {
	return Stats{Posted: l.posted.Load(), Skipped: l.skipped.Load(), Failed: l.failed.Load()}
}

// FormatPresence renders "🎤 <member> joined/left <chat>".
func FormatPresence(p kit.Presence) string {
	verb := "left"
	if p.Joined {
		verb = "joined"
	}
	return fmt.Sprintf("🎤 <b>%s</b> %s <b>%s</b>", html.EscapeString(p.UserName), verb, html.EscapeString(chatName(p.ChatTitle, p.ChatID)))
}

// FormatDeleted renders the deleted content as a code block. Backticks
// become quotes and long content is truncated.
func FormatDeleted(d kit.Deleted) string {
	content := strings.ReplaceAll(d.Text, "`", "'")
	if r := []rune(content); len(r) > MaxDeletedLen {
		content = string(r[:MaxDeletedLen])
	}
	if strings.TrimSpace(content) == "" {
		content = "(no text)"
	}
	return fmt.Sprintf("🗑️ Message deleted in <b>%s</b> by <b>%s</b>:\n<pre>%s</pre>",
		html.EscapeString(chatName(d.ChatTitle, d.ChatID)), html.EscapeString(d.AuthorName), html.EscapeString(content))
}

func chatName(title string, id int64) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return fmt.Sprintf("chat %d", id)
}

// Telegram group and channel ids are negative; private chats are positive.
func isGroupChat(id int64) bool { return id < 0 }
