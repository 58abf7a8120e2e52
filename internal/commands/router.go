package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "alarmbot/internal/runtime/supervisor"
	kit "alarmbot/internal/transport"
	logx "alarmbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Access      Access
	GroupOnly   bool
	Hidden      bool // not listed in help or the menu
	Handle      HandlerFunc
}

// Request is one command invocation.
type Request struct {
	ID      string
	Msg     kit.Message
	Chat    kit.ChatTarget
	Command string
	Args    string // raw text after the command word
	Log     logx.Logger

	sender kit.Sender
}

// Reply sends an HTML message back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.sender == nil {
		return nil
	}
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type RouterConfig struct {
	Owners      []int64
	BotUsername string
	Workers     int
	Timeout     time.Duration
}

// Router parses command messages and runs their handlers on a bounded
// worker pool.
type Router struct {
	mu       sync.RWMutex
	owners   map[int64]struct{}
	botName  string
	byName   map[string]*Command
	commands []*Command
	sender   kit.Sender

	workers int
	timeout time.Duration
	log     logx.Logger
}

func NewRouter(cfg RouterConfig, sender kit.Sender, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := &Router{
		byName:  map[string]*Command{},
		botName: strings.TrimPrefix(cfg.BotUsername, "@"),
		sender:  sender,
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		log:     log,
	}
	r.SetOwners(cfg.Owners)
	return r
}

// Register adds commands. Later registrations win on name clashes.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		cc := c
		r.commands = append(r.commands, &cc)
		r.byName[strings.ToLower(cc.Name)] = &cc
		for _, a := range cc.Aliases {
			r.byName[strings.ToLower(a)] = &cc
		}
	}
}

// SetOwners updates the owner list. Safe to call during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	m := make(map[int64]struct{}, len(owners))
	for _, o := range owners {
		m[o] = struct{}{}
	}
	r.mu.Lock()
	r.owners = m
	r.mu.Unlock()
}

func (r *Router) IsOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owners[id]
	return ok
}

// Commands returns the visible commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	seen := map[string]bool{}
	for _, c := range r.commands {
		if c.Hidden || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, *c)
	}
	return out
}

// MenuCommands builds the Telegram command menu, sorted by name.
func (r *Router) MenuCommands() []kit.BotCommand {
	cmds := r.Commands()
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		out = append(out, kit.BotCommand{Command: strings.ToLower(c.Name), Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Serve routes message updates to command handlers until ctx ends or
// updates is closed. Other update kinds go to other, which may be nil.
func (r *Router) Serve(ctx context.Context, updates <-chan kit.Update, other func(context.Context, kit.Update)) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "commands.pool"))),
		rtsup.WithCancelOnError(false),
	)
	jobs := make(chan func(context.Context), 256)

	for i := 0; i < r.workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					job(c)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		close(jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage {
				if other != nil {
					up := up
					r.enqueue(ctx, jobs, up, func(c context.Context) { other(c, up) })
				}
				continue
			}
			if up.Message == nil {
				continue
			}
			msg := *up.Message
			r.enqueue(ctx, jobs, up, func(c context.Context) { _ = r.Handle(c, msg) })
		}
	}
}

func (r *Router) enqueue(ctx context.Context, jobs chan<- func(context.Context), up kit.Update, job func(context.Context)) {
	select {
	case jobs <- job:
	default:
		r.log.Warn("command queue full, update dropped", logx.String("kind", string(up.Kind)))
		if up.Message != nil && strings.HasPrefix(strings.TrimSpace(up.Message.Text), "/") {
			r.replyTo(ctx, *up.Message, "Busy, try again in a moment.")
		}
	}
}

// Handle runs the command in msg synchronously. Non-command text and
// commands addressed to another bot are ignored.
func (r *Router) Handle(ctx context.Context, msg kit.Message) error {
	name, bot, args, ok := parseCommand(msg.Text)
	if !ok || msg.FromIsBot {
		return nil
	}

	r.mu.RLock()
	me := r.botName
	cmd, found := r.byName[name]
	sender := r.sender
	r.mu.RUnlock()

	if bot != "" && me != "" && !strings.EqualFold(bot, me) {
		return nil
	}
	if !found {
		if !msg.IsGroup {
			r.replyTo(ctx, msg, "Unknown command. See /alarmhelp")
		}
		return nil
	}
	if cmd.Access == AccessOwnerOnly && !r.IsOwner(msg.FromID) {
		r.replyTo(ctx, msg, "Only bot owners can use this command.")
		return nil
	}
	if cmd.GroupOnly && !msg.IsGroup {
		r.replyTo(ctx, msg, "This command only works in groups.")
		return nil
	}

	rid := uuid.NewString()
	req := &Request{
		ID:      rid,
		Msg:     msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		Command: cmd.Name,
		Args:    args,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.String("cmd", cmd.Name),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
		),
		sender: sender,
	}

	h := chain(cmd.Handle, recoverPanic(), requestLog(), withTimeout(r.timeout))
	err := h(ctx, req)
	if err != nil {
		_ = req.Reply(ctx, userMessage(err))
	}
	return err
}

func (r *Router) replyTo(ctx context.Context, msg kit.Message, text string) {
	r.mu.RLock()
	s := r.sender
	r.mu.RUnlock()
	if s == nil {
		return
	}
	if _, err := s.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, text, nil); err != nil {
		r.log.Debug("reply failed", logx.Err(err), logx.Int64("chat_id", msg.ChatID))
	}
}

func chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func recoverPanic() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					req.Log.Error("panic recovered", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			return next(ctx, req)
		}
	}
}

func requestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			if err != nil {
				req.Log.Warn("command failed", logx.Err(err), logx.Duration("dur", d))
				return err
			}
			// Keep INFO useful: short successful requests go to DEBUG.
			if d >= 750*time.Millisecond {
				req.Log.Info("command ok", logx.Duration("dur", d))
			} else {
				req.Log.Debug("command ok", logx.Duration("dur", d))
			}
			return nil
		}
	}
}
