package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"likegate/pkg/access"
	"likegate/pkg/audit"
	"likegate/pkg/config"
	"likegate/pkg/eventbus"
	"likegate/pkg/flow"
	"likegate/pkg/likeapi"
	"likegate/pkg/metrics"
	"likegate/pkg/models"
	"likegate/pkg/quota"
	"likegate/pkg/ratelimit"
	"likegate/pkg/store"
	"likegate/pkg/stream"
	"likegate/pkg/telemetry"
)

const (
	DefaultWorkers   = 16
	DefaultNoticeTTL = 10 * time.Second
)

// Deps wires the dispatcher. Transport through Likes are required.
type Deps struct {
	Transport    Transport
	Gate         *access.Gate
	Groups       *access.Groups
	Verification *access.Verification
	Ledger       *quota.Ledger
	Flow         *flow.Controller
	Store        *store.Store
	Likes        likeapi.Sender

	Limiter ratelimit.Limiter
	Metrics *metrics.Registry
	Hub     *stream.Hub
	Events  eventbus.Publisher
	Audit   audit.Sink
	Links   config.Links

	Workers int
	// NoticeTTL is how long the unauthorized-group notice stays up. Zero keeps it.
	NoticeTTL time.Duration
	// BroadcastPace spaces out broadcast deliveries to stay under platform limits.
	BroadcastPace time.Duration
	Now           func() time.Time
}

type handler func(ctx context.Context, u Update) error

type Dispatcher struct {
	t            Transport
	gate         *access.Gate
	owners       *access.Owners
	groups       *access.Groups
	verification *access.Verification
	ledger       *quota.Ledger
	flow         *flow.Controller
	store        *store.Store
	likes        likeapi.Sender
	limiter      ratelimit.Limiter
	metrics      *metrics.Registry
	hub          *stream.Hub
	events       eventbus.Publisher
	audit        audit.Sink
	links        config.Links
	workers      int
	noticeTTL    time.Duration
	pace         time.Duration
	now          func() time.Time
	startedAt    time.Time

	commands  map[string]handler
	callbacks map[string]handler
	inflight  inflight
}

func New(d Deps) (*Dispatcher, error) {
	if d.Transport == nil || d.Gate == nil || d.Groups == nil || d.Verification == nil ||
		d.Ledger == nil || d.Flow == nil || d.Store == nil || d.Likes == nil {
		return nil, errors.New("bot: transport, gate, groups, verification, ledger, flow, store and likes are required")
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.Unlimited{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewRegistry()
	}
	if d.Hub == nil {
		d.Hub = stream.NewHub()
	}
	if d.Events == nil {
		d.Events = eventbus.Nop{}
	}
	if d.Audit == nil {
		d.Audit = audit.LogSink{}
	}
	if d.Workers <= 0 {
		d.Workers = DefaultWorkers
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	b := &Dispatcher{
		t:            d.Transport,
		gate:         d.Gate,
		owners:       d.Gate.Owners(),
		groups:       d.Groups,
		verification: d.Verification,
		ledger:       d.Ledger,
		flow:         d.Flow,
		store:        d.Store,
		likes:        d.Likes,
		limiter:      d.Limiter,
		metrics:      d.Metrics,
		hub:          d.Hub,
		events:       d.Events,
		audit:        d.Audit,
		links:        d.Links,
		workers:      d.Workers,
		noticeTTL:    d.NoticeTTL,
		pace:         d.BroadcastPace,
		now:          d.Now,
		inflight:     inflight{users: map[models.Identity]struct{}{}},
	}
	b.startedAt = b.now()
	b.gate.Observe(func(scope models.ChatScope, user models.Identity, kind access.Kind, d access.Decision) {
		b.metrics.IncAdmission(d.Admitted, string(d.Reason))
		b.hub.Publish(stream.NewEvent(stream.TypeAdmission, admissionEvent{
			Scope: scope, User: user, Kind: kind, Decision: d,
		}))
	})
	b.commands = map[string]handler{
		"start":     b.cmdStart,
		"verify":    b.cmdVerify,
		"like":      b.cmdLike,
		"stats":     b.cmdStats,
		"help":      b.cmdHelp,
		"contact":   b.cmdContact,
		"status":    b.cmdStatus,
		"slag":      b.cmdCommands,
		"testowner": b.cmdTestOwner,
		"allow":     b.cmdAllow,
		"remove":    b.cmdRemove,
		"setlimit":  b.cmdSetLimit,
		"broadcast": b.cmdBroadcast,
		"ownerhelp": b.cmdOwnerHelp,
		"members":   b.cmdMembers,
		"uptime":    b.cmdUptime,
	}
	b.callbacks = map[string]handler{
		cbStartVerify:      b.cmdVerify,
		cbCompleteVerify:   b.cbCompleteVerification,
		cbRefreshStats:     b.cmdStats,
		cbShowLikeHelp:     b.cbLikeHelp,
		cbRefreshCommands:  b.cmdCommands,
		cbRefreshOwnerHelp: b.cmdOwnerHelp,
		cbRefreshMembers:   b.cmdMembers,
		cbRefreshUptime:    b.cmdUptime,
	}
	return b, nil
}

// Run handles updates until ctx ends or updates closes, at most Workers at a time.
// It waits for in-flight handlers before returning.
func (b *Dispatcher) Run(ctx context.Context, updates <-chan Update) error {
	sem := make(chan struct{}, b.workers)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			wg.Add(1)
			go func(u Update) {
				defer wg.Done()
				defer func() { <-sem }()
				defer func() {
					if r := recover(); r != nil {
						log.Printf("bot: handler panic user=%d chat=%d: %v", u.From.ID, u.ChatID, r)
					}
				}()
				b.Handle(ctx, u)
			}(u)
		}
	}
}

// Handle processes one update synchronously.
func (b *Dispatcher) Handle(ctx context.Context, u Update) {
	if u.From.ID == 0 || u.From.IsBot {
		return
	}
	if len(u.NewMembers) > 0 || u.LeftMember != nil {
		b.trackMembers(ctx, u)
		return
	}
	name, h := b.resolve(u)
	if h == nil {
		return
	}
	if u.IsCallback() {
		u.acked = new(bool)
		defer func() {
			if err := b.ack(ctx, u, ""); err != nil {
				log.Printf("bot: answer callback: %v", err)
			}
		}()
	}
	if !b.allowFlood(ctx, u) {
		return
	}
	b.metrics.IncCommand(name)
	ctx, span := telemetry.StartCommand(ctx, name, u.From.ID, u.ChatID)
	start := b.now()
	err := h(ctx, u)
	b.metrics.ObserveLatency("command."+name, b.now().Sub(start))
	telemetry.EndSpan(span, err)
	if err != nil {
		log.Printf("bot: %s user=%d chat=%d: %v", name, u.From.ID, u.ChatID, err)
	}
}

func (b *Dispatcher) resolve(u Update) (string, handler) {
	if u.IsCallback() {
		data := u.CallbackData
		switch {
		case strings.HasPrefix(data, cbConfirmBroadcast):
			return "confirm_broadcast", b.cbConfirmBroadcast
		case strings.HasPrefix(data, cbCancelBroadcast):
			return "cancel_broadcast", b.cbCancelBroadcast
		}
		if h, ok := b.callbacks[data]; ok {
			return data, h
		}
		return "", nil
	}
	name := strings.ToLower(strings.TrimSpace(u.Command))
	if h, ok := b.commands[name]; ok {
		return name, h
	}
	return "", nil
}

// ack answers a button press once. Later calls for the same update are no-ops.
func (b *Dispatcher) ack(ctx context.Context, u Update, text string) error {
	if !u.IsCallback() || (u.acked != nil && *u.acked) {
		return nil
	}
	if u.acked != nil {
		*u.acked = true
	}
	return b.t.AnswerCallback(ctx, u.CallbackID, text)
}

func (b *Dispatcher) allowFlood(ctx context.Context, u Update) bool {
	if b.owners.IsOwner(models.Identity(u.From.ID)) {
		return true
	}
	d := b.limiter.Allow(ctx, u.From.ID)
	if d.Allowed {
		return true
	}
	b.metrics.IncAdmission(false, "FLOOD")
	// Only the first rejected message in a window gets a reply.
	if d.Count != d.Limit+1 {
		return false
	}
	text := floodText(d.RetryAfter)
	if u.IsCallback() {
		_ = b.ack(ctx, u, strings.ReplaceAll(text, "*", ""))
		return false
	}
	if _, err := b.t.Send(ctx, u.ChatID, text, nil); err != nil {
		log.Printf("bot: flood notice: %v", err)
	}
	return false
}

// admit runs the gate and, on denial, tells the user why. The returned decision is
// always the gate's.
func (b *Dispatcher) admit(ctx context.Context, u Update, kind access.Kind) (access.Decision, error) {
	user := models.Identity(u.From.ID)
	d := b.gate.Admit(models.ScopeForChat(u.ChatID), user, kind)
	if d.Admitted {
		return d, nil
	}
	switch d.Reason {
	case access.ReasonGroupNotAuthorized:
		return d, b.unauthorizedGroup(ctx, u)
	case access.ReasonNotVerified:
		return d, b.reply(ctx, u, b.verificationRequiredText(), b.verificationKeyboard())
	case access.ReasonQuotaExceeded:
		return d, b.reply(ctx, u, limitReachedText(b.ledger.UsageToday(user), b.ledger.DailyLimit(user), b.links.Contact), nil)
	case access.ReasonOwnerOnly:
		if u.IsCallback() {
			return d, b.ack(ctx, u, "Owner command only!")
		}
		return d, b.reply(ctx, u, ownerOnlyText, nil)
	}
	return d, nil
}

func (b *Dispatcher) unauthorizedGroup(ctx context.Context, u Update) error {
	if !u.InGroup() {
		return nil
	}
	if u.IsCallback() {
		return b.ack(ctx, u, "This group is not authorized.")
	}
	id, err := b.t.Send(ctx, u.ChatID, unauthorizedGroupText(b.links.Contact), nil)
	if err != nil {
		return err
	}
	if b.noticeTTL > 0 {
		chatID, original := u.ChatID, u.MessageID
		time.AfterFunc(b.noticeTTL, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = b.t.Delete(ctx, chatID, id)
			if original != 0 {
				_ = b.t.Delete(ctx, chatID, original)
			}
		})
	}
	return nil
}

// reply edits the message a button belongs to, or sends a new message for commands.
func (b *Dispatcher) reply(ctx context.Context, u Update, text string, kb Keyboard) error {
	if u.IsCallback() && u.MessageID != 0 {
		return b.t.Edit(ctx, u.ChatID, u.MessageID, text, kb)
	}
	_, err := b.t.Send(ctx, u.ChatID, text, kb)
	return err
}

func (b *Dispatcher) isOwner(u Update) bool {
	return b.owners.IsOwner(models.Identity(u.From.ID))
}

func (b *Dispatcher) localNow() time.Time {
	return b.now().In(b.ledger.Location())
}

// emit fans an event out to admin subscribers and the external event bus.
func (b *Dispatcher) emit(ctx context.Context, eventType string, u Update, data interface{}) {
	b.hub.Publish(stream.NewEvent(eventType, data))
	rec := eventbus.NewRecord(eventType, models.Identity(u.From.ID), models.Identity(u.ChatID), data)
	if err := b.events.Publish(ctx, rec); err != nil {
		log.Printf("bot: publish %s event: %v", eventType, err)
	}
}

func (b *Dispatcher) record(ctx context.Context, action string, u Update, target string, detail interface{}) {
	rec := audit.NewRecord(action, fmt.Sprint(u.From.ID), target, "telegram", detail)
	if err := b.audit.Append(ctx, rec); err != nil {
		log.Printf("bot: audit %s: %v", action, err)
	}
}

type admissionEvent struct {
	Scope    models.ChatScope `json:"scope"`
	User     models.Identity  `json:"user"`
	Kind     access.Kind      `json:"kind"`
	Decision access.Decision  `json:"decision"`
}

type inflight struct {
	mu    sync.Mutex
	users map[models.Identity]struct{}
}

func (f *inflight) acquire(id models.Identity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.users[id]; busy {
		return false
	}
	f.users[id] = struct{}{}
	return true
}

func (f *inflight) release(id models.Identity) {
	f.mu.Lock()
	delete(f.users, id)
	f.mu.Unlock()
}
