package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"strings"
	"time"

	"likegate/pkg/access"
	"likegate/pkg/audit"
	"likegate/pkg/flow"
	"likegate/pkg/models"
	"likegate/pkg/quota"
	"likegate/pkg/store"
	"likegate/pkg/stream"
)

func (b *Dispatcher) cmdAllow(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.OwnerOnly); !d.Admitted {
		return err
	}
	scope := models.ScopeForChat(u.ChatID)
	if !scope.IsGroup() {
		return b.reply(ctx, u, groupsOnlyText, nil)
	}
	rec, err := b.groups.Authorize(ctx, scope, u.ChatTitle)
	if err != nil {
		_ = b.reply(ctx, u, saveFailedText, nil)
		return fmt.Errorf("authorize group %d: %w", u.ChatID, err)
	}
	b.record(ctx, audit.ActionAuthorizeGroup, u, rec.ID.String(), map[string]string{"title": rec.Title})
	b.emit(ctx, stream.TypeGroup, u, map[string]interface{}{"group": rec, "authorized": true})
	return b.reply(ctx, u, fmt.Sprintf("✅ *Group authorized successfully!*\n📝 *Group:* %s\n🆔 *ID:* `%d`\n🎮 *Bot is now active in this group*", md(rec.Title), u.ChatID), nil)
}

func (b *Dispatcher) cmdRemove(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.OwnerOnly); !d.Admitted {
		return err
	}
	scope := models.ScopeForChat(u.ChatID)
	if !scope.IsGroup() {
		return b.reply(ctx, u, groupsOnlyText, nil)
	}
	removed, err := b.groups.Deauthorize(ctx, scope)
	if err != nil {
		_ = b.reply(ctx, u, saveFailedText, nil)
		return fmt.Errorf("deauthorize group %d: %w", u.ChatID, err)
	}
	if !removed {
		return b.reply(ctx, u, "❌ *Group was not in allowed list!*", nil)
	}
	b.record(ctx, audit.ActionDeauthorizeGroup, u, scope.ID.String(), nil)
	b.emit(ctx, stream.TypeGroup, u, map[string]interface{}{"group": scope.ID, "authorized": false})
	return b.reply(ctx, u, "✅ *Group removed successfully!*\n🚫 *Bot is now inactive in this group*", nil)
}

func (b *Dispatcher) cmdSetLimit(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.OwnerOnly); !d.Admitted {
		return err
	}
	if len(u.Args) < 2 {
		return b.reply(ctx, u, setLimitUsageText, nil)
	}
	target, errID := models.ParseIdentity(u.Args[0])
	n, errN := strconv.Atoi(u.Args[1])
	if errID != nil || errN != nil {
		return b.reply(ctx, u, "❌ *Invalid numbers!*\n📝 *Usage:* `/setlimit <user_id> <limit>`", nil)
	}
	if err := b.ledger.SetLimit(ctx, target, n); err != nil {
		if errors.Is(err, quota.ErrInvalidArgument) {
			return b.reply(ctx, u, "❌ *Limit must be 0 or greater!*", nil)
		}
		_ = b.reply(ctx, u, saveFailedText, nil)
		return fmt.Errorf("set limit for %s: %w", target, err)
	}
	b.record(ctx, audit.ActionSetLimit, u, target.String(), map[string]int{"limit": n})
	b.emit(ctx, stream.TypeLimit, u, map[string]interface{}{"user": target, "limit": n})
	return b.reply(ctx, u, fmt.Sprintf("✅ *Limit updated successfully!*\n👤 *User ID:* `%s`\n📊 *New Limit:* %d likes/day", target, n), nil)
}

func (b *Dispatcher) cmdBroadcast(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.OwnerOnly); !d.Admitted {
		return err
	}
	p, err := b.flow.ProposeBroadcast(models.Identity(u.From.ID), u.ArgText)
	if errors.Is(err, flow.ErrEmptyMessage) {
		return b.reply(ctx, u, "❌ *No message provided!*\n📝 *Usage:* `/broadcast <message>`", nil)
	}
	if err != nil {
		return err
	}
	b.metrics.IncBroadcast(flow.Proposed)
	b.metrics.SetGauge("broadcasts_pending", float64(b.flow.Pending()))
	kb := Keyboard{Row(
		DataButton("✅ Send", cbConfirmBroadcast+p.Token),
		DataButton("❌ Cancel", cbCancelBroadcast+p.Token),
	)}
	recipients := len(b.store.KnownUsers())
	return b.reply(ctx, u, fmt.Sprintf("📢 *Confirm Broadcast*\n\n*Message:* %s\n\n*This will be sent to %d bot users!*\n⏰ Expires %s", md(p.Message), recipients, p.ExpiresAt.In(b.ledger.Location()).Format("15:04:05")), kb)
}

func (b *Dispatcher) cbConfirmBroadcast(ctx context.Context, u Update) error {
	return b.resolveBroadcast(ctx, u, strings.TrimPrefix(u.CallbackData, cbConfirmBroadcast), true)
}

func (b *Dispatcher) cbCancelBroadcast(ctx context.Context, u Update) error {
	return b.resolveBroadcast(ctx, u, strings.TrimPrefix(u.CallbackData, cbCancelBroadcast), false)
}

func (b *Dispatcher) resolveBroadcast(ctx context.Context, u Update, token string, confirm bool) error {
	if d, err := b.admit(ctx, u, access.OwnerOnly); !d.Admitted {
		return err
	}
	actor := models.Identity(u.From.ID)
	var (
		p   flow.PendingBroadcast
		err error
	)
	if confirm {
		p, err = b.flow.ConfirmBroadcast(token, actor)
	} else {
		p, err = b.flow.CancelBroadcast(token, actor)
	}
	defer b.metrics.SetGauge("broadcasts_pending", float64(b.flow.Pending()))
	switch {
	case errors.Is(err, flow.ErrNotInitiator):
		return b.ack(ctx, u, "Only the owner who started this broadcast can resolve it.")
	case errors.Is(err, flow.ErrBroadcastNotFound):
		b.metrics.IncBroadcast(flow.Expired)
		return b.reply(ctx, u, "⌛ *Broadcast expired or already handled.*", nil)
	case err != nil:
		return err
	}
	_ = b.ack(ctx, u, "")
	b.metrics.IncBroadcast(p.State)
	if !confirm {
		b.emit(ctx, stream.TypeBroadcast, u, map[string]interface{}{"token": p.Token, "state": p.State})
		return b.reply(ctx, u, "❌ *Broadcast cancelled*", nil)
	}
	if err := b.reply(ctx, u, "📤 *Sending broadcast...*", nil); err != nil {
		log.Printf("bot: broadcast progress: %v", err)
	}
	sent, failed := b.deliver(ctx, p.Message)
	b.record(ctx, audit.ActionBroadcast, u, "", map[string]interface{}{
		"token": p.Token, "message": p.Message, "sent": sent, "failed": failed,
	})
	b.emit(ctx, stream.TypeBroadcast, u, map[string]interface{}{"token": p.Token, "state": p.State, "sent": sent, "failed": failed})
	return b.reply(ctx, u, fmt.Sprintf("✅ *Broadcast sent!*\n📝 *Message:* %s\n📬 *Delivered:* %d\n⚠️ *Failed:* %d", md(p.Message), sent, failed), nil)
}

// deliver sends message to every known user and reports how many sends succeeded.
func (b *Dispatcher) deliver(ctx context.Context, message string) (sent, failed int) {
	text := "📢 *ANNOUNCEMENT*\n\n" + md(message)
	for i, id := range b.store.KnownUsers() {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && b.pace > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(b.pace):
			}
		}
		if _, err := b.t.Send(ctx, int64(id), text, nil); err != nil {
			failed++
			continue
		}
		sent++
	}
	return sent, failed
}

func (b *Dispatcher) cmdOwnerHelp(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.OwnerOnly); !d.Admitted {
		return err
	}
	c := b.census()
	return b.reply(ctx, u, ownerHelpText(b.ledger.DefaultLimit(), c, b.groups.List(), b.flow.Pending(), b.localNow()), Keyboard{
		Row(DataButton("🔄 Refresh", cbRefreshOwnerHelp), DataButton("⏰ Uptime", cbRefreshUptime)),
	})
}

func (b *Dispatcher) cmdMembers(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.OwnerOnly); !d.Admitted {
		return err
	}
	if !u.InGroup() {
		return b.reply(ctx, u, groupsOnlyText, nil)
	}
	info, err := b.t.GroupInfo(ctx, u.ChatID)
	if err != nil {
		_ = b.reply(ctx, u, "❌ *Could not load member info.*", nil)
		return fmt.Errorf("group info %d: %w", u.ChatID, err)
	}
	return b.reply(ctx, u, membersText(u.ChatID, info, b.localNow()), Keyboard{
		Row(DataButton("🔄 Refresh", cbRefreshMembers)),
	})
}

func (b *Dispatcher) cmdUptime(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.OwnerOnly); !d.Admitted {
		return err
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	up := uptime{
		Started:    b.startedAt.In(b.ledger.Location()),
		Now:        b.localNow(),
		HeapMB:     mem.HeapAlloc / (1024 * 1024),
		SysMB:      mem.Sys / (1024 * 1024),
		Goroutines: runtime.NumGoroutine(),
		StoreDirty: b.store.Dirty(),
		Census:     b.census(),
	}
	return b.reply(ctx, u, uptimeText(up), Keyboard{
		Row(DataButton("🔄 Refresh Status", cbRefreshUptime), DataButton("📊 Full Stats", cbRefreshStats)),
		Row(DataButton("👑 Owner Help", cbRefreshOwnerHelp)),
	})
}

// trackMembers tells every owner when a person joins or leaves a group.
func (b *Dispatcher) trackMembers(ctx context.Context, u Update) {
	if !u.InGroup() {
		return
	}
	now := b.localNow()
	var notices []string
	for _, m := range u.NewMembers {
		if !m.IsBot {
			notices = append(notices, memberNoticeText(true, m, u, now))
		}
	}
	if m := u.LeftMember; m != nil && !m.IsBot {
		notices = append(notices, memberNoticeText(false, *m, u, now))
	}
	for _, text := range notices {
		for _, owner := range b.owners.List() {
			if _, err := b.t.Send(ctx, int64(owner), text, nil); err != nil {
				log.Printf("bot: member notice to owner %s: %v", owner, err)
			}
		}
	}
}

type census struct {
	Users         int
	Verified      int
	Groups        int
	CustomLimits  int
	UsedToday     int
	DefaultLimit  int
	TodayKey      models.DateKey
	PendingWrites bool
}

func (b *Dispatcher) census() census {
	c := census{DefaultLimit: b.ledger.DefaultLimit(), TodayKey: b.ledger.Today(), PendingWrites: b.store.Dirty()}
	b.store.View(func(st *store.State) {
		c.Users = len(st.Users)
		c.Groups = len(st.Groups)
		for _, u := range st.Users {
			if u.Verified {
				c.Verified++
			}
			if u.LimitOverride != nil && *u.LimitOverride != c.DefaultLimit {
				c.CustomLimits++
			}
			c.UsedToday += u.Usage[c.TodayKey]
		}
	})
	return c
}
