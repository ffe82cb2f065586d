package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"likegate/pkg/models"
	"likegate/pkg/ratelimit"
	"likegate/pkg/stream"
)

func TestNewRequiresCoreDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("expected error for empty deps")
	}
}

func TestHandleIgnoresBotsAndUnknownCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := command(userID, userID, "/help")
	u.From.IsBot = true
	h.bot.Handle(ctx, u)
	h.bot.Handle(ctx, command(userID, userID, "/nope"))
	h.bot.Handle(ctx, callback(userID, userID, "not_a_button"))
	if h.t.sendCount() != 0 || len(h.t.answers) != 0 {
		t.Fatalf("expected no output, got %d sends %d answers", h.t.sendCount(), len(h.t.answers))
	}
}

func TestUnauthorizedGroupNoticeIsRemoved(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.NoticeTTL = 10 * time.Millisecond })
	h.verify(t, userID)
	h.bot.Handle(context.Background(), command(userID, groupChat, "/like bd 5914395123"))

	if h.likes.callCount() != 0 {
		t.Fatal("unauthorized group reached the like api")
	}
	notice := h.t.lastSend(t)
	if notice.ChatID != groupChat || !strings.Contains(notice.Text, "UNAUTHORIZED GROUP") {
		t.Fatalf("unexpected notice: %+v", notice)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.t.mu.Lock()
		n := len(h.t.deletes)
		h.t.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected notice and command to be deleted, got %d deletes", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuthorizedGroupAdmitsVerifiedUser(t *testing.T) {
	h := newHarness(t)
	h.verify(t, userID)
	if _, err := h.groups.Authorize(context.Background(), models.ScopeForChat(groupChat), "Squad"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	h.bot.Handle(context.Background(), command(userID, groupChat, "/like ind 5914395123"))
	if h.likes.callCount() != 1 {
		t.Fatalf("expected like in authorized group, got %d calls", h.likes.callCount())
	}
}

func TestCompleteVerificationAnswersOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bot.Handle(ctx, callback(userID, userID, cbCompleteVerify))

	if !h.verif.IsVerified(models.Identity(userID)) {
		t.Fatal("expected user to be verified")
	}
	edit := h.t.lastEdit(t)
	if edit.MessageID != 99 || !strings.Contains(edit.Text, "VERIFICATION COMPLETED") {
		t.Fatalf("unexpected edit: %+v", edit)
	}
	if len(h.t.answers) != 1 {
		t.Fatalf("expected exactly one callback answer, got %v", h.t.answers)
	}

	h.bot.Handle(ctx, callback(userID, userID, cbCompleteVerify))
	if !strings.Contains(h.t.lastEdit(t).Text, "already verified") {
		t.Fatalf("expected already verified text, got %s", h.t.lastEdit(t).Text)
	}
	if len(h.t.answers) != 2 {
		t.Fatalf("expected one answer per press, got %v", h.t.answers)
	}
}

func TestVerificationEventPublished(t *testing.T) {
	h := newHarness(t)
	ch := h.hub.Subscribe(4, stream.TypeVerification)
	defer h.hub.Unsubscribe(ch)
	h.bot.Handle(context.Background(), callback(userID, userID, cbCompleteVerify))
	select {
	case evt := <-ch:
		if evt.Type != stream.TypeVerification {
			t.Fatalf("unexpected event type %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected verification event")
	}
}

func TestStatsDistinguishesOwners(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bot.Handle(ctx, command(ownerID, ownerID, "/stats"))
	if !strings.Contains(h.t.lastSend(t).Text, "OWNER STATISTICS") {
		t.Fatalf("expected owner stats, got %s", h.t.lastSend(t).Text)
	}
	h.bot.Handle(ctx, command(userID, userID, "/stats"))
	got := h.t.lastSend(t).Text
	if !strings.Contains(got, "YOUR STATISTICS") || !strings.Contains(got, "0/2") {
		t.Fatalf("expected user stats, got %s", got)
	}
}

func TestFloodLimiterRepliesOncePerWindow(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Limiter = ratelimit.NewInMemory(1, time.Minute) })
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.bot.Handle(ctx, command(userID, userID, "/help"))
	}
	sends := h.t.sendsTo(userID)
	if len(sends) != 2 {
		t.Fatalf("expected help plus one flood notice, got %d", len(sends))
	}
	if !strings.Contains(sends[1].Text, "Slow down") {
		t.Fatalf("expected flood notice, got %s", sends[1].Text)
	}

	for i := 0; i < 3; i++ {
		h.bot.Handle(ctx, command(ownerID, ownerID, "/help"))
	}
	if n := len(h.t.sendsTo(ownerID)); n != 3 {
		t.Fatalf("owners are not flood limited, got %d replies", n)
	}
}

func TestMemberChangesNotifyOwners(t *testing.T) {
	h := newHarness(t)
	u := Update{
		ChatID:     groupChat,
		ChatType:   "supergroup",
		ChatTitle:  "Squad",
		From:       Member{ID: 777},
		NewMembers: []Member{{ID: 888, FirstName: "Neo"}, {ID: 9, IsBot: true}},
	}
	h.bot.Handle(context.Background(), u)
	for _, owner := range []int64{ownerID, ownerTwo} {
		got := h.t.sendsTo(owner)
		if len(got) != 1 || !strings.Contains(got[0].Text, "NEW MEMBER JOINED") {
			t.Fatalf("owner %d: unexpected notices %+v", owner, got)
		}
	}

	left := Update{ChatID: groupChat, ChatType: "supergroup", From: Member{ID: 888}, LeftMember: &Member{ID: 888, FirstName: "Neo"}}
	h.bot.Handle(context.Background(), left)
	if got := h.t.sendsTo(ownerID); len(got) != 2 || !strings.Contains(got[1].Text, "MEMBER LEFT GROUP") {
		t.Fatalf("unexpected leave notice %+v", got)
	}
}

func TestRunDrainsUpdates(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Workers = 2 })
	updates := make(chan Update, 3)
	updates <- command(userID, userID, "/help")
	updates <- command(userID+1, userID+1, "/contact")
	updates <- command(userID+2, userID+2, "/start")
	close(updates)
	if err := h.bot.Run(context.Background(), updates); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.t.sendCount() != 3 {
		t.Fatalf("expected 3 replies, got %d", h.t.sendCount())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.bot.Run(ctx, make(chan Update)); err == nil {
		t.Fatal("expected context error")
	}
}

func TestThousandsAndMarkdownEscaping(t *testing.T) {
	cases := map[int64]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -4500: "-4,500"}
	for in, want := range cases {
		if got := thousands(in); got != want {
			t.Fatalf("thousands(%d) = %q, want %q", in, got, want)
		}
	}
	if got := md("a_b*c`d[e"); got != "a\\_b\\*c\\`d\\[e" {
		t.Fatalf("unexpected escape %q", got)
	}
}
