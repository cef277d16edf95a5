// Package invite tracks the directed invite graph between authenticated
// users: at most one outbound invite per user, a set of inbound invites,
// and a replay queue for invites that arrived while the recipient was
// offline. It owns no connection handles; every outward effect goes
// through the Callbacks injected at construction, so it can be driven
// and tested in isolation from the transport and the session coordinator.
package invite

import (
	"fmt"

	"github.com/tradebridge/tradebridge/internal/apperr"
)

// UserID identifies an authenticated user. It is opaque to this package.
type UserID = string

// Info is the per-user invite state. It is created lazily on first
// reference and persists for the lifetime of the process.
type Info struct {
	UserID               UserID
	InviteSentTo         UserID // empty string means none
	PendingInvites       map[UserID]struct{}
	PendingNotifications map[UserID]struct{}
	Connected            bool
}

func newInfo(id UserID) *Info {
	return &Info{
		UserID:               id,
		PendingInvites:       make(map[UserID]struct{}),
		PendingNotifications: make(map[UserID]struct{}),
	}
}

// Callbacks are invoked synchronously by every Manager operation that
// changes invite state. The caller (the session coordinator) owns the
// only authoritative UserState and connection registry; these callbacks
// are how the manager asks for a state transition or a peer notification
// without reaching into either directly.
type Callbacks struct {
	OnInviteSent      func(from, to UserID)
	OnInviteCancelled func(from, to UserID)
	OnInviteAccepted  func(from, to UserID)
	OnInviteRejected  func(from, to UserID)
}

// Manager owns InviteInfo for every user it has seen. It is not
// internally synchronized: callers must serialize access the same way
// the session coordinator serializes all other shared-state mutation.
type Manager struct {
	infos map[UserID]*Info
	cb    Callbacks
}

func NewManager(cb Callbacks) *Manager {
	return &Manager{infos: make(map[UserID]*Info), cb: cb}
}

func (m *Manager) infoFor(u UserID) *Info {
	info, ok := m.infos[u]
	if !ok {
		info = newInfo(u)
		m.infos[u] = info
	}
	return info
}

// Info returns the invite state for u, materializing it if this is the
// first reference. Exposed for the coordinator's invariant checks and
// tests; managers never hand this out to anything that could mutate it
// concurrently with the owning actor loop.
func (m *Manager) Info(u UserID) *Info {
	return m.infoFor(u)
}

// SendInvite records an outbound invite from `from` to `to`.
//
// Fails with a classified SelfInviteError if from == to. Fails with an
// internal (unclassified) error if `from` already has an outbound
// invite — the dispatch gate is expected to have prevented this by only
// allowing sendInvite from InLobby.
func (m *Manager) SendInvite(from, to UserID) error {
	if from == to {
		return apperr.SelfInvite()
	}
	fromInfo := m.infoFor(from)
	if fromInfo.InviteSentTo != "" {
		return fmt.Errorf("invite: %s already has an outbound invite to %s", from, fromInfo.InviteSentTo)
	}

	toInfo := m.infoFor(to)
	fromInfo.InviteSentTo = to
	toInfo.PendingInvites[from] = struct{}{}
	if !toInfo.Connected {
		toInfo.PendingNotifications[from] = struct{}{}
	}

	m.cb.OnInviteSent(from, to)
	return nil
}

// CancelInvite cancels `from`'s outbound invite, if any.
func (m *Manager) CancelInvite(from UserID) error {
	fromInfo := m.infoFor(from)
	to := fromInfo.InviteSentTo
	if to == "" {
		return apperr.InvalidInvite("no outbound invite to cancel")
	}

	toInfo := m.infoFor(to)
	fromInfo.InviteSentTo = ""
	delete(toInfo.PendingInvites, from)
	delete(toInfo.PendingNotifications, from)

	m.cb.OnInviteCancelled(from, to)
	return nil
}

// AcceptInvite accepts the invite `from` sent to `to`. Fails with a
// classified InvalidInviteError if from.inviteSentTo != to.
func (m *Manager) AcceptInvite(from, to UserID) error {
	fromInfo := m.infoFor(from)
	if fromInfo.InviteSentTo != to {
		return apperr.InvalidInvite(fmt.Sprintf("no pending invite from %s to %s", from, to))
	}

	toInfo := m.infoFor(to)
	fromInfo.InviteSentTo = ""
	delete(toInfo.PendingInvites, from)
	delete(toInfo.PendingNotifications, from)

	m.cb.OnInviteAccepted(from, to)
	return nil
}

// RejectInvite rejects the invite `from` sent to `to`. Same precondition
// and failure mode as AcceptInvite.
func (m *Manager) RejectInvite(from, to UserID) error {
	fromInfo := m.infoFor(from)
	if fromInfo.InviteSentTo != to {
		return apperr.InvalidInvite(fmt.Sprintf("no pending invite from %s to %s", from, to))
	}

	toInfo := m.infoFor(to)
	fromInfo.InviteSentTo = ""
	delete(toInfo.PendingInvites, from)
	delete(toInfo.PendingNotifications, from)

	m.cb.OnInviteRejected(from, to)
	return nil
}

// UserConnected marks u as connected and replays any invites that
// arrived while u was offline. The authoritative PendingInvites set is
// untouched; only the replay queue is drained.
func (m *Manager) UserConnected(u UserID) {
	info := m.infoFor(u)
	info.Connected = true
	for from := range info.PendingNotifications {
		m.cb.OnInviteSent(from, u)
	}
	info.PendingNotifications = make(map[UserID]struct{})
}

// UserDisconnected cancels u's outbound invite (if any) and rejects
// every inbound invite u was holding, from the sender's side, then marks
// u offline.
func (m *Manager) UserDisconnected(u UserID) {
	info := m.infoFor(u)

	if info.InviteSentTo != "" {
		_ = m.CancelInvite(u)
	}

	for from := range info.PendingInvites {
		fromInfo := m.infoFor(from)
		fromInfo.InviteSentTo = ""
		m.cb.OnInviteRejected(from, u)
	}
	info.PendingInvites = make(map[UserID]struct{})

	info.Connected = false
}
