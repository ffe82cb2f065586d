package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"likegate/pkg/access"
	"likegate/pkg/likeapi"
	"likegate/pkg/models"
	"likegate/pkg/quota"
	"likegate/pkg/stream"
)

// Callback data values.
const (
	cbStartVerify      = "start_verify"
	cbCompleteVerify   = "complete_verification"
	cbRefreshStats     = "refresh_stats"
	cbShowLikeHelp     = "show_like_help"
	cbRefreshCommands  = "refresh_commands"
	cbRefreshOwnerHelp = "refresh_owner_help"
	cbRefreshMembers   = "refresh_members"
	cbRefreshUptime    = "refresh_uptime"
	cbConfirmBroadcast = "confirm_broadcast:"
	cbCancelBroadcast  = "cancel_broadcast:"
)

func (b *Dispatcher) cmdStart(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.Informational); !d.Admitted {
		return err
	}
	user := models.Identity(u.From.ID)
	text := startText(u.From.FirstName, b.verification.IsVerified(user), b.isOwner(u), b.ledger.DefaultLimit(), b.localNow())
	kb := Keyboard{
		Row(DataButton("🔐 Start Verification", cbStartVerify), DataButton("💎 Like Guide", cbShowLikeHelp)),
		Row(DataButton("📊 My Stats", cbRefreshStats), URLButton("👥 Contact Owner", contactURL(b.links.Contact))),
	}
	return b.reply(ctx, u, text, kb)
}

func (b *Dispatcher) cmdVerify(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.Informational); !d.Admitted {
		return err
	}
	user := models.Identity(u.From.ID)
	if b.isOwner(u) {
		return b.reply(ctx, u, ownerNoVerifyText, nil)
	}
	if b.verification.IsVerified(user) {
		at, _ := b.verification.VerifiedAt(user)
		return b.reply(ctx, u, alreadyVerifiedText(at.In(b.ledger.Location())), Keyboard{
			Row(DataButton("💎 Like Guide", cbShowLikeHelp), DataButton("📊 My Stats", cbRefreshStats)),
		})
	}
	return b.reply(ctx, u, verifyStepsText(b.localNow()), b.verificationKeyboard())
}

func (b *Dispatcher) verificationKeyboard() Keyboard {
	return Keyboard{
		Row(URLButton("1️⃣ YouTube Channel", b.links.YouTube), URLButton("2️⃣ Telegram Channel", b.links.TelegramChannel)),
		Row(URLButton("3️⃣ Telegram Group", b.links.TelegramGroup), URLButton("4️⃣ Discord Server", b.links.Discord)),
		Row(DataButton("✅ Complete Done", cbCompleteVerify)),
	}
}

func (b *Dispatcher) verificationRequiredText() string {
	return "❌ *VERIFICATION REQUIRED TO USE LIKES!*\n\n" + verifyStepsText(b.localNow())
}

func (b *Dispatcher) cbCompleteVerification(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.Informational); !d.Admitted {
		return err
	}
	user := models.Identity(u.From.ID)
	already, err := b.flow.CompleteVerification(ctx, user)
	if err != nil {
		_ = b.reply(ctx, u, saveFailedText, nil)
		return fmt.Errorf("complete verification: %w", err)
	}
	kb := Keyboard{
		Row(DataButton("🎮 Try Like Command", cbShowLikeHelp)),
		Row(DataButton("📊 View Stats", cbRefreshStats)),
	}
	if already {
		return b.reply(ctx, u, "✅ *You are already verified!*\n🎯 Try `/like bd 5914395123`", kb)
	}
	b.emit(ctx, stream.TypeVerification, u, map[string]interface{}{"user": user})
	return b.reply(ctx, u, verificationCompletedText, kb)
}

func (b *Dispatcher) cbLikeHelp(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.Informational); !d.Admitted {
		return err
	}
	return b.reply(ctx, u, likeGuideText, nil)
}

// cmdLike is the only quota-consuming command. Quota is committed only after the like
// API reports success, and each user has at most one request in flight so concurrent
// requests cannot overrun the daily limit.
func (b *Dispatcher) cmdLike(ctx context.Context, u Update) error {
	d, err := b.admit(ctx, u, access.QuotaGated)
	if !d.Admitted {
		return err
	}
	if len(u.Args) < 2 {
		return b.reply(ctx, u, likeUsageText, nil)
	}
	region := strings.ToUpper(u.Args[0])
	uid := u.Args[1]
	if !likeapi.ValidRegion(region) {
		return b.reply(ctx, u, invalidRegionText(region), nil)
	}
	if !likeapi.ValidUID(uid) {
		return b.reply(ctx, u, invalidUIDText(uid), nil)
	}
	user := models.Identity(u.From.ID)
	if !b.inflight.acquire(user) {
		return b.reply(ctx, u, likeBusyText, nil)
	}
	defer b.inflight.release(user)
	// Admission ran before the guard; a request that finished meanwhile may have used the last slot.
	if errors.Is(b.ledger.TryReserve(user), quota.ErrQuotaExceeded) {
		return b.reply(ctx, u, limitReachedText(b.ledger.UsageToday(user), b.ledger.DailyLimit(user), b.links.Contact), nil)
	}

	msgID, err := b.t.Send(ctx, u.ChatID, processingText(region, uid), nil)
	if err != nil {
		return fmt.Errorf("send processing notice: %w", err)
	}
	start := b.now()
	out := b.likes.SendLike(ctx, uid, region)
	b.metrics.ObserveLatency("like_api", b.now().Sub(start))
	b.metrics.IncLikeOutcome(string(out.Kind))
	if out.Kind == likeapi.KindConnectionFailed {
		log.Printf("bot: like api unavailable user=%d uid=%s timeout=%t: %v", user, uid, out.IsTimeout(), out.Err)
	}

	var commitErr error
	text := ""
	switch out.Kind {
	case likeapi.KindSuccess:
		used, err := b.ledger.CommitUsage(ctx, user)
		if err != nil {
			commitErr = fmt.Errorf("commit usage: %w", err)
		} else if !d.Owner {
			b.metrics.IncQuotaCommit()
		}
		text = likeSuccessText(uid, region, out.Details, d.Owner, used, b.ledger.DailyLimit(user))
	case likeapi.KindAlreadySatisfied:
		text = likeAlreadyText(uid, region, out.Details)
	case likeapi.KindNotFound:
		text = likeNotFoundText(uid, region)
	case likeapi.KindUnknown:
		text = likeUnknownText(uid, region, out.Code, b.links.Contact)
	default:
		text = likeConnectionFailedText(uid, region, b.links.Contact)
	}
	b.emit(ctx, stream.TypeLike, u, map[string]interface{}{
		"user": user, "uid": uid, "region": likeapi.NormalizeRegion(region), "outcome": out.Kind, "code": out.Code,
	})
	if err := b.t.Edit(ctx, u.ChatID, msgID, text, nil); err != nil {
		return errors.Join(commitErr, fmt.Errorf("edit like result: %w", err))
	}
	return commitErr
}

func (b *Dispatcher) cmdStats(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.Informational); !d.Admitted {
		return err
	}
	user := models.Identity(u.From.ID)
	var text string
	if b.isOwner(u) {
		text = ownerStatsText(user, b.localNow())
	} else {
		text = userStatsText(user, b.verification.IsVerified(user), b.ledger.UsageToday(user), b.ledger.DailyLimit(user), b.localNow())
	}
	return b.reply(ctx, u, text, Keyboard{
		Row(DataButton("🔄 Refresh Stats", cbRefreshStats)),
		Row(URLButton("👥 Contact Owner", contactURL(b.links.Contact))),
	})
}

func (b *Dispatcher) cmdHelp(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.Informational); !d.Admitted {
		return err
	}
	return b.reply(ctx, u, helpText(b.links.Contact, b.localNow()), Keyboard{
		Row(DataButton("🔐 Start Verification", cbStartVerify)),
		Row(URLButton("🎮 Join Discord", b.links.Discord)),
		Row(URLButton("👥 Contact Owner", contactURL(b.links.Contact))),
	})
}

func (b *Dispatcher) cmdContact(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.Informational); !d.Admitted {
		return err
	}
	return b.reply(ctx, u, contactText(b.links.Contact, b.localNow()), Keyboard{
		Row(URLButton("👑 Message Owner", contactURL(b.links.Contact)), URLButton("🎮 Join Discord", b.links.Discord)),
		Row(URLButton("📢 Channel", b.links.TelegramChannel), URLButton("👥 Group", b.links.TelegramGroup)),
	})
}

func (b *Dispatcher) cmdStatus(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.Informational); !d.Admitted {
		return err
	}
	healthy := !b.store.Dirty()
	return b.reply(ctx, u, statusText(healthy, b.localNow()), Keyboard{
		Row(DataButton("📝 All Commands", cbRefreshCommands), DataButton("🔐 Verify Now", cbStartVerify)),
	})
}

func (b *Dispatcher) cmdCommands(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.Informational); !d.Admitted {
		return err
	}
	return b.reply(ctx, u, commandListText(b.isOwner(u), b.ledger.DefaultLimit(), b.localNow()), Keyboard{
		Row(DataButton("🔄 Refresh", cbRefreshCommands), DataButton("💎 Like Guide", cbShowLikeHelp)),
	})
}

func (b *Dispatcher) cmdTestOwner(ctx context.Context, u Update) error {
	if d, err := b.admit(ctx, u, access.Informational); !d.Admitted {
		return err
	}
	if !b.isOwner(u) {
		return b.reply(ctx, u, fmt.Sprintf("❌ *You are not the owner!*\n👤 *Your ID:* `%d`", u.From.ID), nil)
	}
	return b.reply(ctx, u, fmt.Sprintf("✅ *Owner recognized successfully!*\n👑 *Your ID:* `%d`\n🎮 *You have full access to all commands*", u.From.ID), nil)
}
