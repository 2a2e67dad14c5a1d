package router

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	dueFormat      = "2006-01-02 15:04 MST"
	maxListButtons = 30
)

func (r *Router) commandSet() []Command {
	return []Command{
		{
			Name:        "remind",
			Description: "set a one-shot reminder",
			Usage:       `/remind <HH:MM | in 45m | RFC3339> <text>`,
			Access:      AccessEveryone,
			Handle:      r.handleRemind,
		},
		{
			Name:        "list",
			Description: "list pending reminders",
			Usage:       "/list",
			Access:      AccessEveryone,
			Handle:      r.handleList,
		},
		{
			Name:        "cancel",
			Description: "cancel a pending reminder",
			Usage:       "/cancel <id>",
			Access:      AccessEveryone,
			Handle:      r.handleCancel,
		},
		{
			Name:        "subscribe",
			Description: "receive the daily digest in this chat",
			Usage:       "/subscribe",
			Access:      AccessEveryone,
			Handle:      r.handleSubscribe,
		},
		{
			Name:        "unsubscribe",
			Description: "stop the daily digest in this chat",
			Usage:       "/unsubscribe",
			Access:      AccessEveryone,
			Handle:      r.handleUnsubscribe,
		},
		{
			Name:        "broadcast",
			Description: "send a message to all subscribers now",
			Usage:       "/broadcast <text>",
			Access:      AccessOwnerOnly,
			Timeout:     2 * time.Minute,
			Handle:      r.handleBroadcast,
		},
		{
			Name:        "history",
			Description: "delivery counters",
			Usage:       "/history",
			Access:      AccessOwnerOnly,
			Handle:      r.handleHistory,
		},
		{
			Name:        "help",
			Description: "show help",
			Usage:       "/help",
			Access:      AccessEveryone,
			Handle:      r.handleHelp,
		},
	}
}

func (r *Router) callbackSet() []CallbackRoute {
	return []CallbackRoute{
		{
			Scope:  "reminder",
			Action: "cancel",
			Handle: r.cbCancel,
		},
	}
}

func (r *Router) handleRemind(ctx context.Context, req *Request) error {
	due, rest, err := parseWhen(r.now(), r.location(), req.Args)
	if err != nil {
		r.reply(ctx, req, err.Error()+"\nusage: "+r.usageOf("remind"))
		return nil
	}
	text := strings.TrimSpace(strings.Join(rest, " "))

	id, err := r.reminders.Create(ctx, req.Chat.ChatID, due, text)
	if errors.Is(err, reminder.ErrInvalidInput) {
		r.reply(ctx, req, err.Error())
		return nil
	}
	if err != nil {
		r.reply(ctx, req, "could not save reminder, try again")
		return err
	}
	r.reply(ctx, req, "reminder #"+strconv.FormatInt(id, 10)+" set for "+due.In(r.location()).Format(dueFormat))
	return nil
}

func (r *Router) handleList(ctx context.Context, req *Request) error {
	text, markup, empty, err := r.renderList(ctx, req.Chat.ChatID)
	if err != nil {
		r.reply(ctx, req, "could not load reminders")
		return err
	}
	if empty {
		r.reply(ctx, req, text)
		return nil
	}
	_, sendErr := req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		ReplyMarkup:    markup,
	})
	return sendErr
}

// renderList builds the pending-reminder listing plus a cancel button per
// entry. Shared between /list and the cancel callback (which refreshes the
// message in place).
func (r *Router) renderList(ctx context.Context, chatID int64) (text string, markup any, empty bool, err error) {
	items, err := r.reminders.List(ctx, chatID)
	if err != nil {
		return "", nil, false, err
	}
	if len(items) == 0 {
		return "no pending reminders", nil, true, nil
	}

	loc := r.location()
	var b strings.Builder
	b.WriteString(tgui.B("Pending reminders").String())
	kb := tgui.NewInline()
	for i, it := range items {
		b.WriteString("\n")
		b.WriteString(tgui.Code("#" + strconv.FormatInt(it.ID, 10)).String())
		b.WriteString("  ")
		b.WriteString(it.DueAt.In(loc).Format(dueFormat))
		b.WriteString("  ")
		b.WriteString(tgui.Esc(it.Text).String())
		if i < maxListButtons {
			idStr := strconv.FormatInt(it.ID, 10)
			kb.Row(tgui.Btn("✖ #"+idStr, tgui.Data("reminder", "cancel", idStr)))
		}
	}
	return b.String(), kb.Markup(), false, nil
}

func (r *Router) handleCancel(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		r.reply(ctx, req, "usage: "+r.usageOf("cancel"))
		return nil
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 {
		r.reply(ctx, req, "bad reminder id")
		return nil
	}
	removed, err := r.reminders.Cancel(ctx, req.Chat.ChatID, id)
	if err != nil {
		r.reply(ctx, req, "could not cancel, try again")
		return err
	}
	if !removed {
		r.reply(ctx, req, "reminder #"+req.Args[0]+" not found (already fired or cancelled?)")
		return nil
	}
	r.reply(ctx, req, "reminder #"+req.Args[0]+" cancelled")
	return nil
}

func (r *Router) cbCancel(ctx context.Context, req *Request, payload string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	removed, err := r.reminders.Cancel(ctx, req.Chat.ChatID, id)
	if err != nil {
		return err
	}
	note := "reminder cancelled"
	if !removed {
		note = "already fired or cancelled"
	}
	_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, note)

	// Refresh the listing the button lives on.
	text, markup, _, err := r.renderList(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.Update.Callback.MessageID}
	return req.Adapter.EditText(ctx, ref, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		ReplyMarkup:    markup,
	})
}

func (r *Router) handleSubscribe(ctx context.Context, req *Request) error {
	if err := r.reminders.Subscribe(ctx, req.Chat.ChatID); err != nil {
		r.reply(ctx, req, "could not subscribe, try again")
		return err
	}
	r.reply(ctx, req, "subscribed: this chat will receive the daily digest")
	return nil
}

func (r *Router) handleUnsubscribe(ctx context.Context, req *Request) error {
	removed, err := r.reminders.Unsubscribe(ctx, req.Chat.ChatID)
	if err != nil {
		r.reply(ctx, req, "could not unsubscribe, try again")
		return err
	}
	if !removed {
		r.reply(ctx, req, "this chat was not subscribed")
		return nil
	}
	r.reply(ctx, req, "unsubscribed")
	return nil
}

func (r *Router) handleBroadcast(ctx context.Context, req *Request) error {
	text := strings.TrimSpace(strings.Join(req.Args, " "))
	if text == "" {
		r.reply(ctx, req, "usage: "+r.usageOf("broadcast"))
		return nil
	}
	delivered, err := r.reminders.BroadcastNow(ctx, text)
	if err != nil {
		r.reply(ctx, req, "broadcast failed")
		return err
	}
	r.reply(ctx, req, "broadcast delivered to "+strconv.Itoa(delivered)+" subscriber(s)")
	return nil
}

func (r *Router) handleHistory(ctx context.Context, req *Request) error {
	delivered, failed, err := r.reminders.HistoryCounts(ctx)
	if err != nil {
		r.reply(ctx, req, "could not load history")
		return err
	}
	req.Logger.Debug("history queried", logx.Int64("delivered", delivered), logx.Int64("failed", failed))
	r.reply(ctx, req, "delivered: "+strconv.FormatInt(delivered, 10)+"\nsend failures: "+strconv.FormatInt(failed, 10))
	return nil
}

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	r.mu.RLock()
	cmds := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		cmds = append(cmds, c)
	}
	r.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	owner := isOwner(req.FromID, r.ownersSnapshot())
	var b strings.Builder
	b.WriteString(tgui.B("Commands").String())
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		b.WriteString("\n")
		b.WriteString(tgui.Code(c.Usage).String())
		b.WriteString("  ")
		b.WriteString(tgui.Esc(c.Description).String())
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, b.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (r *Router) usageOf(name string) string {
	r.mu.RLock()
	c := r.cmds[name]
	r.mu.RUnlock()
	return c.Usage
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	if _, err := req.Adapter.SendText(ctx, req.Chat, text, nil); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}
