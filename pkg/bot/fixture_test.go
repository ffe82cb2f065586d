package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"likegate/pkg/access"
	"likegate/pkg/audit"
	"likegate/pkg/config"
	"likegate/pkg/flow"
	"likegate/pkg/likeapi"
	"likegate/pkg/metrics"
	"likegate/pkg/models"
	"likegate/pkg/quota"
	"likegate/pkg/ratelimit"
	"likegate/pkg/store"
	"likegate/pkg/stream"
)

type sent struct {
	ChatID    int64
	MessageID int
	Text      string
	Keyboard  Keyboard
}

type fakeTransport struct {
	mu       sync.Mutex
	nextID   int
	sends    []sent
	edits    []sent
	answers  []string
	deletes  []int
	failTo   map[int64]bool
	group    GroupInfo
	groupErr error
}

func (f *fakeTransport) Send(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[chatID] {
		return 0, fmt.Errorf("chat %d blocked the bot", chatID)
	}
	f.nextID++
	f.sends = append(f.sends, sent{ChatID: chatID, MessageID: f.nextID, Text: text, Keyboard: kb})
	return f.nextID, nil
}

func (f *fakeTransport) Edit(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sent{ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
	return nil
}

func (f *fakeTransport) Delete(ctx context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeTransport) GroupInfo(ctx context.Context, chatID int64) (GroupInfo, error) {
	return f.group, f.groupErr
}

func (f *fakeTransport) lastSend(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sends) == 0 {
		t.Fatal("expected a sent message")
	}
	return f.sends[len(f.sends)-1]
}

func (f *fakeTransport) lastEdit(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		t.Fatal("expected an edited message")
	}
	return f.edits[len(f.edits)-1]
}

func (f *fakeTransport) sendsTo(chatID int64) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sends {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakeLikes struct {
	mu      sync.Mutex
	outcome likeapi.Outcome
	calls   int
	started chan struct{}
	release chan struct{}
}

func (f *fakeLikes) SendLike(ctx context.Context, uid, region string) likeapi.Outcome {
	f.mu.Lock()
	f.calls++
	out := f.outcome
	started, release := f.started, f.release
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return out
}

func (f *fakeLikes) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (m *memAudit) Append(ctx context.Context, rec audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

const (
	ownerID   = int64(1)
	ownerTwo  = int64(2)
	userID    = int64(500)
	groupChat = int64(-100777)
)

type harness struct {
	bot     *Dispatcher
	t       *fakeTransport
	likes   *fakeLikes
	store   *store.Store
	ledger  *quota.Ledger
	groups  *access.Groups
	verif   *access.Verification
	flow    *flow.Controller
	metrics *metrics.Registry
	hub     *stream.Hub
	audit   *memAudit
	dataDir string
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()
	dataDir := filepath.Join(t.TempDir(), "state")
	st, err := store.Open(ctx, store.NewFileBackend(filepath.Join(dataDir, "tg_data.json")), time.UTC)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	owners, err := access.NewOwners(models.Identity(ownerID), models.Identity(ownerTwo))
	if err != nil {
		t.Fatalf("owners: %v", err)
	}
	ledger, err := quota.New(st, owners, quota.Config{DefaultLimit: 2, Location: time.UTC})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	groups := access.NewGroups(st, nil)
	verif := access.NewVerification(st, owners, nil)
	gate := access.NewGate(owners, groups, verif, ledger)
	tokens := 0
	fc := flow.NewController(verif, flow.Config{NewToken: func() string {
		tokens++
		return fmt.Sprintf("token-%d", tokens)
	}})
	h := &harness{
		t:       &fakeTransport{failTo: map[int64]bool{}},
		likes:   &fakeLikes{outcome: likeapi.Outcome{Kind: likeapi.KindSuccess, Code: 1, Details: likeapi.Details{Nickname: "Ace", Before: 1000, After: 1100, Added: 100}}},
		store:   st,
		ledger:  ledger,
		groups:  groups,
		verif:   verif,
		flow:    fc,
		metrics: metrics.NewRegistry(),
		hub:     stream.NewHub(),
		audit:   &memAudit{},
		dataDir: dataDir,
	}
	deps := Deps{
		Transport:    h.t,
		Gate:         gate,
		Groups:       groups,
		Verification: verif,
		Ledger:       ledger,
		Flow:         fc,
		Store:        st,
		Likes:        h.likes,
		Limiter:      ratelimit.Unlimited{},
		Metrics:      h.metrics,
		Hub:          h.hub,
		Audit:        h.audit,
		Links:        config.Links{Contact: "@owner", Discord: "https://discord.gg/x"},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	b, err := New(deps)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	h.bot = b
	return h
}

func (h *harness) verify(t *testing.T, id int64) {
	t.Helper()
	if err := h.verif.MarkVerified(context.Background(), models.Identity(id)); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
}

func command(from, chat int64, text string) Update {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	u := Update{ChatID: chat, From: Member{ID: from, FirstName: "Tester"}, MessageID: 10, ChatType: "private"}
	if chat < 0 {
		u.ChatType = "supergroup"
		u.ChatTitle = "Squad"
	}
	if len(fields) > 0 {
		u.Command = fields[0]
		u.Args = fields[1:]
		u.ArgText = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(text, "/"), fields[0]))
	}
	return u
}

func callback(from, chat int64, data string) Update {
	u := Update{ChatID: chat, From: Member{ID: from}, MessageID: 99, CallbackID: "cb-1", CallbackData: data, ChatType: "private"}
	if chat < 0 {
		u.ChatType = "supergroup"
	}
	return u
}
