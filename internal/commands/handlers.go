package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"

	"alarmbot/internal/alarm"
)

// DefaultAlarmMessage is used when /setalarm is given no text.
const DefaultAlarmMessage = "Alarm!"

// Deps are the collaborators of the built-in handlers.
type Deps struct {
	Alarms *alarm.Service

	// Status renders extra lines for /alarmstatus. Optional.
	Status func() string

	// Now overrides the clock used for parsing time expressions (tests).
	Now func() time.Time
}

type handlers struct {
	deps   Deps
	router *Router
}

// RegisterBuiltins registers the alarm, timezone and log channel commands.
func RegisterBuiltins(r *Router, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{deps: d, router: r}
	r.Register(
		Command{Name: "alarmhelp", Aliases: []string{"help", "start"}, Usage: "/alarmhelp", Description: "Show help", Handle: h.help},
		Command{Name: "settimezone", Usage: "/settimezone <Continent/City>", Description: "Set your timezone", Handle: h.setTimezone},
		Command{Name: "gettimezone", Usage: "/gettimezone", Description: "Show your timezone", Handle: h.getTimezone},
		Command{Name: "setalarm", Usage: "/setalarm <time> [daily|weekly] [message]", Description: "Set an alarm in this chat", Handle: h.setAlarm},
		Command{Name: "listalarms", Usage: "/listalarms", Description: "List your alarms", Handle: h.listAlarms},
		Command{Name: "editalarm", Usage: "/editalarm <id> [--time <time>] [--msg <text>] [--repeat none|daily|weekly]", Description: "Change an alarm", Handle: h.editAlarm},
		Command{Name: "deletealarm", Usage: "/deletealarm <id>", Description: "Delete an alarm", Handle: h.deleteAlarm},
		Command{Name: "setlogchannel", Usage: "/setlogchannel [chat_id]", Description: "Send this group's audit log here", Access: AccessOwnerOnly, GroupOnly: true, Handle: h.setLogChannel},
		Command{Name: "toggledeletelog", Usage: "/toggledeletelog", Description: "Toggle deleted message logging", Access: AccessOwnerOnly, GroupOnly: true, Handle: h.toggleDeleteLog},
		Command{Name: "alarmstatus", Usage: "/alarmstatus", Description: "Scheduler status", Access: AccessOwnerOnly, Hidden: true, Handle: h.status},
	)
}

func (h *handlers) help(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("<b>⏰ Alarm Bot</b>\n\n")
	for _, c := range h.router.Commands() {
		fmt.Fprintf(&b, "<code>%s</code> %s\n", html.EscapeString(c.Usage), html.EscapeString(c.Description))
	}
	b.WriteString("\n<b>Time formats</b>: 15:30, 3pm, 3:15pm, today 18:00, tomorrow 9am, in 45m, 2026-10-15 09:00\n")
	b.WriteString("A clock time that already passed today is set for tomorrow.\n")
	b.WriteString("Repeating alarms: add <code>daily</code> or <code>weekly</code> after the time.\n")
	b.WriteString("In groups, owners can log member joins, leaves and deleted messages with /setlogchannel and /toggledeletelog.")
	return req.Reply(ctx, b.String())
}

func (h *handlers) setTimezone(ctx context.Context, req *Request) error {
	ws := splitWords(req.Args)
	if len(ws) == 0 {
		return req.Reply(ctx, "Usage: /settimezone Continent/City")
	}
	tz := ws[0].text
	err := h.deps.Alarms.SetTimezone(ctx, owner(req), tz)
	if alarm.ErrorCode(err) == alarm.CodeInvalidTimezone {
		return req.Reply(ctx, invalidTimezoneText)
	}
	if err != nil && !isPersistence(err) {
		return err
	}
	return req.Reply(ctx, "Timezone set to "+html.EscapeString(tz)+persistNote(err))
}

func (h *handlers) getTimezone(ctx context.Context, req *Request) error {
	return req.Reply(ctx, "Your timezone is "+html.EscapeString(h.deps.Alarms.Timezone(owner(req))))
}

func (h *handlers) setAlarm(ctx context.Context, req *Request) error {
	ws := splitWords(req.Args)
	if len(ws) == 0 {
		return req.Reply(ctx, "Usage: /setalarm &lt;time&gt; [daily|weekly] [message]")
	}
	o := owner(req)
	tz := h.deps.Alarms.Timezone(o)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}

	pt, err := ParseTime(texts(ws), h.deps.Now(), loc)
	if err != nil {
		return req.Reply(ctx, TimeExamples)
	}
	next := pt.Consumed
	rep := alarm.RepeatNone
	if next < len(ws) {
		switch strings.ToLower(ws[next].text) {
		case "daily", "weekly", "once":
			rep, _ = alarm.ParseRepeat(ws[next].text)
			next++
		case "monthly":
			return req.Reply(ctx, "Monthly alarms are not supported. Use daily or weekly.")
		}
	}
	msg := rest(req.Args, ws, next)
	if msg == "" {
		msg = DefaultAlarmMessage
	}

	rec, err := h.deps.Alarms.CreateAlarm(ctx, alarm.CreateRequest{
		Owner:    o,
		DueAt:    pt.At,
		Message:  msg,
		Target:   alarm.Target{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID},
		Timezone: tz,
		Repeat:   rep,
	})
	if err != nil && !isPersistence(err) {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⏰ Alarm %d set for %s (%s)%s\nMessage: %s",
		rec.ID, formatDue(rec.DueAt, rec.Timezone), html.EscapeString(rec.Timezone), repeatSuffix(rec.Repeat), html.EscapeString(rec.Message))
	if pt.Rolled {
		b.WriteString("\nThat time already passed today, so it is set for tomorrow.")
	}
	b.WriteString(persistNote(err))
	return req.Reply(ctx, b.String())
}

func (h *handlers) listAlarms(ctx context.Context, req *Request) error {
	o := owner(req)
	recs := h.deps.Alarms.ListAlarms(o)
	if len(recs) == 0 {
		return req.Reply(ctx, "No active alarms")
	}
	tz := h.deps.Alarms.Timezone(o)
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Your alarms</b> (%s)\n", html.EscapeString(tz))
	for _, r := range recs {
		fmt.Fprintf(&b, "ID %d - %s%s\n Message: %s\n", r.ID, formatDue(r.DueAt, tz), repeatSuffix(r.Repeat), html.EscapeString(r.Message))
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (h *handlers) editAlarm(ctx context.Context, req *Request) error {
	pos, flags := parseFlags(req.Args, "time", "msg", "repeat")
	id, ok := parseID(pos)
	if !ok || len(flags) == 0 {
		return req.Reply(ctx, "Usage: /editalarm &lt;id&gt; [--time &lt;time&gt;] [--msg &lt;text&gt;] [--repeat none|daily|weekly]")
	}
	o := owner(req)
	var edit alarm.EditRequest

	if v, ok := flags["time"]; ok {
		loc, err := time.LoadLocation(h.deps.Alarms.Timezone(o))
		if err != nil {
			loc = time.UTC
		}
		tokens := texts(splitWords(v))
		pt, err := ParseTime(tokens, h.deps.Now(), loc)
		if err != nil || pt.Consumed != len(tokens) {
			return req.Reply(ctx, TimeExamples)
		}
		edit.DueAt = &pt.At
	}
	if v, ok := flags["msg"]; ok {
		edit.Message = &v
	}
	if v, ok := flags["repeat"]; ok {
		rep, err := alarm.ParseRepeat(v)
		if err != nil {
			return err
		}
		edit.Repeat = &rep
	}

	rec, err := h.deps.Alarms.EditAlarm(ctx, o, id, edit)
	if alarm.ErrorCode(err) == alarm.CodeNotFound {
		return req.Reply(ctx, "Alarm not found")
	}
	if err != nil && !isPersistence(err) {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✏️ Alarm %d updated: %s%s\nMessage: %s%s",
		rec.ID, formatDue(rec.DueAt, rec.Timezone), repeatSuffix(rec.Repeat), html.EscapeString(rec.Message), persistNote(err)))
}

func (h *handlers) deleteAlarm(ctx context.Context, req *Request) error {
	id, ok := parseID(req.Args)
	if !ok {
		return req.Reply(ctx, "Usage: /deletealarm &lt;id&gt;")
	}
	_, err := h.deps.Alarms.DeleteAlarm(ctx, owner(req), id)
	if alarm.ErrorCode(err) == alarm.CodeNotFound {
		return req.Reply(ctx, "Alarm not found")
	}
	if err != nil && !isPersistence(err) {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Alarm %d deleted%s", id, persistNote(err)))
}

func (h *handlers) setLogChannel(ctx context.Context, req *Request) error {
	target := alarm.Target{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID}
	if ws := splitWords(req.Args); len(ws) > 0 {
		id, err := strconv.ParseInt(ws[0].text, 10, 64)
		if err != nil || id == 0 {
			return req.Reply(ctx, "Usage: /setlogchannel [chat_id]")
		}
		target = alarm.Target{ChatID: id}
	}
	_, err := h.deps.Alarms.SetLogChannel(ctx, alarm.GroupID(req.Chat.ChatID), target)
	if err != nil && !isPersistence(err) {
		return err
	}
	where := "this chat"
	if target.ChatID != req.Chat.ChatID {
		where = strconv.FormatInt(target.ChatID, 10)
	}
	return req.Reply(ctx, "📜 Logging channel set to "+where+persistNote(err))
}

func (h *handlers) toggleDeleteLog(ctx context.Context, req *Request) error {
	on, err := h.deps.Alarms.ToggleDeleteLogging(ctx, alarm.GroupID(req.Chat.ChatID))
	if alarm.ErrorCode(err) == alarm.CodeNotFound {
		return req.Reply(ctx, "Set a log channel first with /setlogchannel")
	}
	if err != nil && !isPersistence(err) {
		return err
	}
	state := "disabled"
	if on {
		state = "enabled"
	}
	return req.Reply(ctx, "Message delete logging "+state+persistNote(err))
}

func (h *handlers) status(ctx context.Context, req *Request) error {
	st := h.deps.Alarms.Stats()
	var b strings.Builder
	b.WriteString("<b>Scheduler</b>\n")
	fmt.Fprintf(&b, "alarms: %d (owners %d)\nnext id: %d, free ids: %d\nstate version: %d (saved %d)",
		st.Alarms, st.Owners, st.NextID, st.FreeIDs, st.Version, st.SavedVer)
	if h.deps.Status != nil {
		if extra := strings.TrimSpace(h.deps.Status()); extra != "" {
			b.WriteString("\n")
			b.WriteString(extra)
		}
	}
	return req.Reply(ctx, b.String())
}

const invalidTimezoneText = `Invalid timezone. Use format like "Continent/City"`

func owner(req *Request) alarm.OwnerID { return alarm.OwnerID(req.Msg.FromID) }

func parseID(s string) (alarm.ID, bool) {
	ws := splitWords(s)
	if len(ws) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(ws[0].text, "#"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return alarm.ID(n), true
}

func repeatSuffix(r alarm.Repeat) string {
	switch r {
	case alarm.RepeatDaily:
		return " (Repeats daily)"
	case alarm.RepeatWeekly:
		return " (Repeats weekly)"
	default:
		return ""
	}
}

func isPersistence(err error) bool { return errors.Is(err, alarm.ErrPersistence) }

func persistNote(err error) string {
	if isPersistence(err) {
		return "\n⚠️ Saved, but writing to disk failed. It will be retried."
	}
	return ""
}

// userMessage maps an error returned by a handler to chat text.
func userMessage(err error) string {
	switch alarm.ErrorCode(err) {
	case alarm.CodeNotFound:
		return "Alarm not found"
	case alarm.CodeInvalidTimezone:
		return invalidTimezoneText
	case alarm.CodeInvalidTime:
		return "That time is not in the future."
	case alarm.CodeInvalidArgument:
		return capitalize(html.EscapeString(alarm.ErrorDescription(err)))
	case alarm.CodePersistence:
		return "Saved, but writing to disk failed. It will be retried."
	default:
		return "Something went wrong, please try again."
	}
}

func capitalize(s string) string {
	for i, r := range s {
		return string(unicode.ToUpper(r)) + s[i+len(string(r)):]
	}
	return s
}
