package session

import (
	"context"
	"testing"
	"time"

	"github.com/tradebridge/tradebridge/internal/inventory"
	"github.com/tradebridge/tradebridge/internal/trade"
)

// devVerifier takes the raw token string as the userId, mirroring the
// protocol's development-mode authentication fallback.
func devVerifier(token string) (UserID, error) { return token, nil }

func recvEvent(t *testing.T, ch <-chan OutboundEvent, within time.Duration) OutboundEvent {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return evt
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return OutboundEvent{}
	}
}

func recvNoEvent(t *testing.T, ch <-chan OutboundEvent, within time.Duration) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no event within %v, got %+v", within, evt)
	case <-time.After(within):
	}
}

type harness struct {
	t        *testing.T
	coord    *Coordinator
	settled  []*trade.Pair
	outboxes map[string]<-chan OutboundEvent
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, outboxes: make(map[string]<-chan OutboundEvent)}
	h.coord = New(context.Background(), devVerifier, func(pair *trade.Pair) {
		h.settled = append(h.settled, pair)
	}, nil, nil)
	return h
}

// connect registers a new connection under connID and authenticates it
// as userID, returning its outbox.
func (h *harness) connect(connID, userID string) <-chan OutboundEvent {
	out := h.coord.Connect(connID)
	h.outboxes[connID] = out
	ack := h.coord.Dispatch(connID, ActionAuthenticate, ActionArgs{Token: userID})
	if !ack.OK() {
		h.t.Fatalf("authenticate(%s) failed: %+v", userID, ack)
	}
	return out
}

func TestScenario_AuthAndLobby(t *testing.T) {
	h := newHarness(t)
	h.connect("c1", "alice")
}

func TestScenario_InviteRoundTrip(t *testing.T) {
	h := newHarness(t)
	aliceOut := h.connect("c1", "alice")
	bobOut := h.connect("c2", "bob")

	ack := h.coord.Dispatch("c1", ActionSendInvite, ActionArgs{ToID: "bob"})
	if !ack.OK() {
		t.Fatalf("sendInvite failed: %+v", ack)
	}
	evt := recvEvent(t, bobOut, time.Second)
	if evt.Type != EventInviteReceived {
		t.Fatalf("expected inviteReceived, got %s", evt.Type)
	}

	ack = h.coord.Dispatch("c2", ActionAcceptInvite, ActionArgs{FromID: "alice"})
	if !ack.OK() {
		t.Fatalf("acceptInvite failed: %+v", ack)
	}
	aliceEvt := recvEvent(t, aliceOut, time.Second)
	if aliceEvt.Type != EventInviteAccepted {
		t.Fatalf("expected inviteAccepted, got %s", aliceEvt.Type)
	}
	aliceEvt2 := recvEvent(t, aliceOut, time.Second)
	if aliceEvt2.Type != EventTradeStarted {
		t.Fatalf("expected tradeStarted, got %s", aliceEvt2.Type)
	}
	bobEvt := recvEvent(t, bobOut, time.Second)
	if bobEvt.Type != EventTradeStarted {
		t.Fatalf("expected tradeStarted, got %s", bobEvt.Type)
	}

	ack = h.coord.Dispatch("c1", ActionCancelTrade, ActionArgs{})
	if !ack.OK() {
		t.Fatalf("cancelTrade failed: %+v", ack)
	}
	bobEvt2 := recvEvent(t, bobOut, time.Second)
	if bobEvt2.Type != EventTradeCancelled {
		t.Fatalf("expected tradeCancelled, got %s", bobEvt2.Type)
	}
}

func TestScenario_OfflineInviteDeferral(t *testing.T) {
	h := newHarness(t)
	h.connect("c1", "alice")

	ack := h.coord.Dispatch("c1", ActionSendInvite, ActionArgs{ToID: "bob"})
	if !ack.OK() {
		t.Fatalf("sendInvite failed: %+v", ack)
	}

	bobOut := h.connect("c2", "bob")
	evt := recvEvent(t, bobOut, time.Second)
	if evt.Type != EventInviteReceived {
		t.Fatalf("expected inviteReceived replayed on connect, got %s", evt.Type)
	}
}

func TestScenario_LockInMirrorAndAutoUnlock(t *testing.T) {
	h := newHarness(t)
	aliceOut := h.connect("c1", "alice")
	bobOut := h.connect("c2", "bob")
	_ = h.coord.Dispatch("c1", ActionSendInvite, ActionArgs{ToID: "bob"})
	recvEvent(t, bobOut, time.Second) // inviteReceived
	_ = h.coord.Dispatch("c2", ActionAcceptInvite, ActionArgs{FromID: "alice"})
	recvEvent(t, aliceOut, time.Second) // inviteAccepted
	recvEvent(t, aliceOut, time.Second) // tradeStarted
	recvEvent(t, bobOut, time.Second)   // tradeStarted

	_ = h.coord.Dispatch("c1", ActionUpdateInventory, ActionArgs{Inventory: inventory.Inventory{"A"}})
	recvEvent(t, bobOut, time.Second) // inventoryUpdated
	_ = h.coord.Dispatch("c2", ActionUpdateInventory, ActionArgs{Inventory: inventory.Inventory{"B"}})
	recvEvent(t, aliceOut, time.Second) // inventoryUpdated

	ack := h.coord.Dispatch("c1", ActionLockIn, ActionArgs{
		Inventory:      inventory.Inventory{"A"},
		OtherInventory: inventory.Inventory{"B"},
	})
	if !ack.OK() {
		t.Fatalf("lockIn failed: %+v", ack)
	}
	bobEvt := recvEvent(t, bobOut, time.Second)
	if bobEvt.Type != EventLockedIn {
		t.Fatalf("expected lockedIn, got %s", bobEvt.Type)
	}

	ack = h.coord.Dispatch("c2", ActionUpdateInventory, ActionArgs{Inventory: inventory.Inventory{"C"}})
	if !ack.OK() {
		t.Fatalf("updateInventory failed: %+v", ack)
	}
	aliceEvt := recvEvent(t, aliceOut, time.Second)
	if aliceEvt.Type != EventUnlocked {
		t.Fatalf("expected unlocked, got %s", aliceEvt.Type)
	}
	bobEvt2 := recvEvent(t, bobOut, time.Second)
	if bobEvt2.Type != EventInventoryUpdated {
		t.Fatalf("expected inventoryUpdated, got %s", bobEvt2.Type)
	}
}

func TestScenario_TwoPhaseComplete(t *testing.T) {
	h := newHarness(t)
	aliceOut := h.connect("c1", "alice")
	bobOut := h.connect("c2", "bob")
	_ = h.coord.Dispatch("c1", ActionSendInvite, ActionArgs{ToID: "bob"})
	recvEvent(t, bobOut, time.Second)
	_ = h.coord.Dispatch("c2", ActionAcceptInvite, ActionArgs{FromID: "alice"})
	recvEvent(t, aliceOut, time.Second)
	recvEvent(t, aliceOut, time.Second)
	recvEvent(t, bobOut, time.Second)

	_ = h.coord.Dispatch("c1", ActionUpdateInventory, ActionArgs{Inventory: inventory.Inventory{"A"}})
	recvEvent(t, bobOut, time.Second)
	_ = h.coord.Dispatch("c2", ActionUpdateInventory, ActionArgs{Inventory: inventory.Inventory{"B"}})
	recvEvent(t, aliceOut, time.Second)

	_ = h.coord.Dispatch("c1", ActionLockIn, ActionArgs{Inventory: inventory.Inventory{"A"}, OtherInventory: inventory.Inventory{"B"}})
	recvEvent(t, bobOut, time.Second)
	_ = h.coord.Dispatch("c2", ActionLockIn, ActionArgs{Inventory: inventory.Inventory{"B"}, OtherInventory: inventory.Inventory{"A"}})
	recvEvent(t, aliceOut, time.Second)

	ack := h.coord.Dispatch("c1", ActionCompleteTrade, ActionArgs{})
	if !ack.OK() {
		t.Fatalf("completeTrade failed: %+v", ack)
	}
	recvNoEvent(t, aliceOut, 100*time.Millisecond)
	recvNoEvent(t, bobOut, 100*time.Millisecond)

	ack = h.coord.Dispatch("c2", ActionCompleteTrade, ActionArgs{})
	if !ack.OK() {
		t.Fatalf("completeTrade failed: %+v", ack)
	}
	aliceEvt := recvEvent(t, aliceOut, time.Second)
	if aliceEvt.Type != EventTradeCompleted {
		t.Fatalf("expected tradeCompleted, got %s", aliceEvt.Type)
	}
	bobEvt := recvEvent(t, bobOut, time.Second)
	if bobEvt.Type != EventTradeCompleted {
		t.Fatalf("expected tradeCompleted, got %s", bobEvt.Type)
	}

	deadline := time.Now().Add(time.Second)
	for len(h.settled) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(h.settled) != 1 {
		t.Fatalf("expected settlement to fire once, got %d", len(h.settled))
	}
}

func TestScenario_MismatchedLockIn(t *testing.T) {
	h := newHarness(t)
	h.connect("c1", "alice")
	bobOut := h.connect("c2", "bob")
	_ = h.coord.Dispatch("c1", ActionSendInvite, ActionArgs{ToID: "bob"})
	recvEvent(t, bobOut, time.Second)
	_ = h.coord.Dispatch("c2", ActionAcceptInvite, ActionArgs{FromID: "alice"})

	_ = h.coord.Dispatch("c1", ActionUpdateInventory, ActionArgs{Inventory: inventory.Inventory{"A"}})
	_ = h.coord.Dispatch("c2", ActionUpdateInventory, ActionArgs{Inventory: inventory.Inventory{"B"}})

	ack := h.coord.Dispatch("c1", ActionLockIn, ActionArgs{
		Inventory:      inventory.Inventory{"X"},
		OtherInventory: inventory.Inventory{"B"},
	})
	if ack.OK() || ack.ErrorName != "InventoryMismatchError" {
		t.Fatalf("expected InventoryMismatchError, got %+v", ack)
	}
}

func TestScenario_DisconnectDuringTrade(t *testing.T) {
	h := newHarness(t)
	h.connect("c1", "alice")
	bobOut := h.connect("c2", "bob")
	_ = h.coord.Dispatch("c1", ActionSendInvite, ActionArgs{ToID: "bob"})
	recvEvent(t, bobOut, time.Second)
	_ = h.coord.Dispatch("c2", ActionAcceptInvite, ActionArgs{FromID: "alice"})
	recvEvent(t, bobOut, time.Second) // tradeStarted

	h.coord.Disconnect("c1")

	bobEvt := recvEvent(t, bobOut, time.Second)
	if bobEvt.Type != EventTradeCancelled {
		t.Fatalf("expected tradeCancelled, got %s", bobEvt.Type)
	}
}

func TestInvalidAction_WrongState(t *testing.T) {
	h := newHarness(t)
	h.connect("c1", "alice")

	ack := h.coord.Dispatch("c1", ActionCompleteTrade, ActionArgs{})
	if ack.OK() || ack.ErrorName != "InvalidActionError" {
		t.Fatalf("expected InvalidActionError, got %+v", ack)
	}
}

func TestAcceptFromSentInvite_CancelsOwnOutboundInvite(t *testing.T) {
	h := newHarness(t)
	aliceOut := h.connect("c1", "alice")
	bobOut := h.connect("c2", "bob")
	carolOut := h.connect("c3", "carol")

	// alice invites bob (alice -> SentInvite), carol invites alice.
	_ = h.coord.Dispatch("c1", ActionSendInvite, ActionArgs{ToID: "bob"})
	recvEvent(t, bobOut, time.Second) // inviteReceived from alice
	ack := h.coord.Dispatch("c3", ActionSendInvite, ActionArgs{ToID: "alice"})
	if !ack.OK() {
		t.Fatalf("sendInvite failed: %+v", ack)
	}
	recvEvent(t, aliceOut, time.Second) // inviteReceived from carol

	ack = h.coord.Dispatch("c1", ActionAcceptInvite, ActionArgs{FromID: "carol"})
	if !ack.OK() {
		t.Fatalf("acceptInvite failed: %+v", ack)
	}

	carolEvt := recvEvent(t, carolOut, time.Second)
	if carolEvt.Type != EventInviteAccepted {
		t.Fatalf("expected inviteAccepted, got %s", carolEvt.Type)
	}
	aliceEvt := recvEvent(t, aliceOut, time.Second)
	if aliceEvt.Type != EventTradeStarted {
		t.Fatalf("expected tradeStarted, got %s", aliceEvt.Type)
	}
	bobEvt := recvEvent(t, bobOut, time.Second)
	if bobEvt.Type != EventInviteCancelled {
		t.Fatalf("expected inviteCancelled notifying bob of alice's own outbound invite, got %s", bobEvt.Type)
	}
}

// TestAcceptInviteWithBadFromID_NoPartialMutation pins down the failure
// path: if fromID doesn't match a real pending invite, acceptInvite must
// fail without touching the acceptor's own unrelated outbound invite —
// no cancellation fires and no one is notified.
func TestAcceptInviteWithBadFromID_NoPartialMutation(t *testing.T) {
	h := newHarness(t)
	_ = h.connect("c1", "alice")
	bobOut := h.connect("c2", "bob")
	h.connect("c3", "carol")

	// alice invites bob; carol never invited alice.
	ack := h.coord.Dispatch("c1", ActionSendInvite, ActionArgs{ToID: "bob"})
	if !ack.OK() {
		t.Fatalf("sendInvite failed: %+v", ack)
	}
	recvEvent(t, bobOut, time.Second) // inviteReceived from alice

	ack = h.coord.Dispatch("c1", ActionAcceptInvite, ActionArgs{FromID: "carol"})
	if ack.OK() {
		t.Fatalf("expected acceptInvite with a bogus fromID to fail")
	}
	recvNoEvent(t, bobOut, 100*time.Millisecond)

	// alice's real outbound invite to bob must still be intact.
	ack = h.coord.Dispatch("c1", ActionCancelInvite, ActionArgs{})
	if !ack.OK() {
		t.Fatalf("expected alice's outbound invite to bob to have survived the failed accept, got %+v", ack)
	}
	bobEvt := recvEvent(t, bobOut, time.Second)
	if bobEvt.Type != EventInviteCancelled {
		t.Fatalf("expected inviteCancelled, got %s", bobEvt.Type)
	}
}
