// Package trade owns the active trade pairs. Each side of a pair keeps
// a mirrored UserTradeInfo; both users in a pair map to the same *Pair
// so either side's lookup returns (self, other) in O(1). Like invite,
// it reaches the outside world only through injected Callbacks.
package trade

import (
	"fmt"

	"github.com/tradebridge/tradebridge/internal/apperr"
	"github.com/tradebridge/tradebridge/internal/inventory"
)

// UserID identifies an authenticated user. It is opaque to this package.
type UserID = string

// Side is one user's mirrored view inside a trade pair.
type Side struct {
	UserID    UserID
	Inventory inventory.Inventory
	LockedIn  bool
	Accepted  bool
}

// Pair is the mutual session created when an invite is accepted.
type Pair struct {
	A, B Side
}

// sideFor returns pointers to (self, other) by identity, regardless of
// which side is asking.
func (p *Pair) sideFor(u UserID) (self, other *Side, ok bool) {
	switch {
	case p.A.UserID == u:
		return &p.A, &p.B, true
	case p.B.UserID == u:
		return &p.B, &p.A, true
	default:
		return nil, nil, false
	}
}

// Callbacks are invoked synchronously by every Manager operation that
// changes trade state.
type Callbacks struct {
	OnTradeStarted     func(u1, u2 UserID)
	OnInventoryUpdated func(peer UserID, inv inventory.Inventory)
	OnLockedIn         func(self, peer UserID, selfInv, otherInv inventory.Inventory)
	OnUnlocked         func(self, peer UserID)
	OnTradeCancelled   func(self, peer UserID)
	OnTradeCompleted   func(pair *Pair)
}

// Manager owns the active trade pairs, keyed by both participants'
// UserIDs pointing at the same *Pair. Not internally synchronized: the
// session coordinator serializes all calls.
type Manager struct {
	pairs map[UserID]*Pair
	cb    Callbacks
}

func NewManager(cb Callbacks) *Manager {
	return &Manager{pairs: make(map[UserID]*Pair), cb: cb}
}

// Pair returns the active pair u is in, if any.
func (m *Manager) Pair(u UserID) (*Pair, bool) {
	p, ok := m.pairs[u]
	return p, ok
}

// StartTrade creates a new pair for u1 and u2, both sides empty,
// unlocked, and unaccepted.
func (m *Manager) StartTrade(u1, u2 UserID) error {
	if _, ok := m.pairs[u1]; ok {
		return fmt.Errorf("trade: %s is already in a trade", u1)
	}
	if _, ok := m.pairs[u2]; ok {
		return fmt.Errorf("trade: %s is already in a trade", u2)
	}

	pair := &Pair{A: Side{UserID: u1}, B: Side{UserID: u2}}
	m.pairs[u1] = pair
	m.pairs[u2] = pair

	m.cb.OnTradeStarted(u1, u2)
	return nil
}

// UpdateInventory replaces u's inventory with inv. If either side was
// locked in, that side is unlocked (and un-accepted) as a consequence —
// a lock-in encodes agreement over a specific (selfInv, otherInv) pair,
// and any inventory change on either side invalidates it.
func (m *Manager) UpdateInventory(u UserID, inv inventory.Inventory) error {
	pair, ok := m.pairs[u]
	if !ok {
		return fmt.Errorf("trade: %s is not in a trade", u)
	}
	self, other, _ := pair.sideFor(u)

	self.Inventory = inventory.Clone(inv)

	if self.LockedIn {
		self.LockedIn = false
		self.Accepted = false
		m.cb.OnUnlocked(self.UserID, other.UserID)
	}
	if other.LockedIn {
		other.LockedIn = false
		other.Accepted = false
		m.cb.OnUnlocked(other.UserID, self.UserID)
	}

	m.cb.OnInventoryUpdated(other.UserID, inventory.Clone(self.Inventory))
	return nil
}

// LockIn commits u to the snapshot (selfInvClaim, otherInvClaim). Fails
// with a classified InventoryMismatchError if either claim doesn't match
// the actual current inventories as multisets.
func (m *Manager) LockIn(u UserID, selfInvClaim, otherInvClaim inventory.Inventory) error {
	pair, ok := m.pairs[u]
	if !ok {
		return fmt.Errorf("trade: %s is not in a trade", u)
	}
	self, other, _ := pair.sideFor(u)

	if !inventory.Equal(self.Inventory, selfInvClaim) {
		return apperr.InventoryMismatch("claimed inventory does not match your current inventory")
	}
	if !inventory.Equal(other.Inventory, otherInvClaim) {
		return apperr.InventoryMismatch("claimed peer inventory does not match their current inventory")
	}

	self.LockedIn = true
	m.cb.OnLockedIn(self.UserID, other.UserID, inventory.Clone(self.Inventory), inventory.Clone(other.Inventory))
	return nil
}

// Unlock clears lockedIn (and accepted) for u.
func (m *Manager) Unlock(u UserID) error {
	pair, ok := m.pairs[u]
	if !ok {
		return fmt.Errorf("trade: %s is not in a trade", u)
	}
	self, other, _ := pair.sideFor(u)

	self.LockedIn = false
	self.Accepted = false
	m.cb.OnUnlocked(self.UserID, other.UserID)
	return nil
}

// CancelTrade removes the pair u is in and notifies both sides.
func (m *Manager) CancelTrade(u UserID) error {
	pair, ok := m.pairs[u]
	if !ok {
		return fmt.Errorf("trade: %s is not in a trade", u)
	}
	self, other, _ := pair.sideFor(u)

	delete(m.pairs, self.UserID)
	delete(m.pairs, other.UserID)

	m.cb.OnTradeCancelled(self.UserID, other.UserID)
	return nil
}

// CompleteTrade marks u as accepted. Fails with a classified
// CantCompleteEitherUnlockedError unless both sides are locked in. If
// both sides have now accepted, the pair is removed and OnTradeCompleted
// fires; otherwise CompleteTrade waits for the peer's own call.
func (m *Manager) CompleteTrade(u UserID) error {
	pair, ok := m.pairs[u]
	if !ok {
		return fmt.Errorf("trade: %s is not in a trade", u)
	}
	self, other, _ := pair.sideFor(u)

	if !self.LockedIn || !other.LockedIn {
		return apperr.CantCompleteEitherUnlocked()
	}

	self.Accepted = true
	if self.Accepted && other.Accepted {
		delete(m.pairs, self.UserID)
		delete(m.pairs, other.UserID)
		m.cb.OnTradeCompleted(pair)
	}
	return nil
}

// UserDisconnected treats a disconnecting user already in a trade as an
// implicit CancelTrade.
func (m *Manager) UserDisconnected(u UserID) {
	if _, ok := m.pairs[u]; ok {
		_ = m.CancelTrade(u)
	}
}
