// Package session owns the connection registry, the per-connection state
// machine, and the action-dispatch gate described by the trade protocol.
// It is the only owner of UserState; InviteManager and TradeManager never
// mutate it directly — they call back into the Coordinator, which applies
// the transition and fans out peer notifications.
//
// The Coordinator is a single actor, grounded on the teacher's hub+lobby
// pair collapsed into one: a buffered inbox channel drained by exactly one
// goroutine. Connect, Disconnect and Dispatch are each a blocking
// request/reply round trip through that channel, so all shared-state mutation is automatically
// serialized without an explicit mutex — the discipline the protocol's
// concurrency model asks for.
package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tradebridge/tradebridge/internal/apperr"
	"github.com/tradebridge/tradebridge/internal/audit"
	"github.com/tradebridge/tradebridge/internal/inventory"
	"github.com/tradebridge/tradebridge/internal/invite"
	"github.com/tradebridge/tradebridge/internal/trade"
)

// UserID identifies an authenticated user.
type UserID = string

// UserState is the per-connection state machine. Exactly one value at a
// time; the Coordinator is its only writer.
type UserState string

const (
	StateNoUserID   UserState = "NoUserId"
	StateInLobby    UserState = "InLobby"
	StateSentInvite UserState = "SentInvite"
	StateInTrade    UserState = "InTrade"
	StateLockedIn   UserState = "LockedIn"
)

// Action identifies an inbound request.
type Action string

const (
	ActionAuthenticate    Action = "authenticate"
	ActionLogOut          Action = "logOut"
	ActionSendInvite      Action = "sendInvite"
	ActionCancelInvite    Action = "cancelInvite"
	ActionAcceptInvite    Action = "acceptInvite"
	ActionRejectInvite    Action = "rejectInvite"
	ActionUpdateInventory Action = "updateInventory"
	ActionLockIn          Action = "lockIn"
	ActionUnlock          Action = "unlock"
	ActionCancelTrade     Action = "cancelTrade"
	ActionCompleteTrade   Action = "completeTrade"
)

// allowedStates is the single source of truth for which actions are legal
// in which states. Managers never re-check this; the gate is the only
// place it's enforced.
var allowedStates = map[Action]map[UserState]bool{
	ActionAuthenticate:    {StateNoUserID: true},
	ActionLogOut:          {StateInLobby: true},
	ActionSendInvite:      {StateInLobby: true},
	ActionCancelInvite:    {StateSentInvite: true},
	ActionAcceptInvite:    {StateInLobby: true, StateSentInvite: true},
	ActionRejectInvite:    {StateInLobby: true, StateSentInvite: true},
	ActionUpdateInventory: {StateInTrade: true},
	ActionLockIn:          {StateInTrade: true},
	ActionUnlock:          {StateLockedIn: true},
	ActionCancelTrade:     {StateInTrade: true},
	ActionCompleteTrade:   {StateLockedIn: true},
}

// ActionArgs is the union of every action's argument shape. Only the
// fields relevant to a given Action are read.
type ActionArgs struct {
	Token          string
	ToID           UserID
	FromID         UserID
	Inventory      inventory.Inventory
	OtherInventory inventory.Inventory
}

// Ack is the response to a dispatched action: empty on success, or a
// classified {errorName, errorMessage} pair.
type Ack struct {
	ErrorName    string `json:"errorName,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// OK reports whether the ack represents success.
func (a Ack) OK() bool { return a.ErrorName == "" }

// OutboundEvent is a server-to-client push, delivered on a connection's
// outbox channel outside of any ack.
type OutboundEvent struct {
	Type    string
	Payload any
}

const (
	EventInviteReceived   = "inviteReceived"
	EventInviteCancelled  = "inviteCancelled"
	EventInviteAccepted   = "inviteAccepted"
	EventInviteRejected   = "inviteRejected"
	EventTradeStarted     = "tradeStarted"
	EventInventoryUpdated = "inventoryUpdated"
	EventLockedIn         = "lockedIn"
	EventUnlocked         = "unlocked"
	EventTradeCancelled   = "tradeCancelled"
	EventTradeCompleted   = "tradeCompleted"
)

// Verifier verifies a bearer token and returns the userId it identifies.
type Verifier func(token string) (UserID, error)

// Settler is invoked after a trade completes and both peers have been
// notified. It runs outside the coordinator's actor loop so a slow or
// failing settlement call can never stall dispatch.
type Settler func(pair *trade.Pair)

type connState struct {
	connID string
	userID UserID
	state  UserState
	outbox chan OutboundEvent
}

// Coordinator is the single actor owning the connection registry and all
// UserState transitions.
type Coordinator struct {
	inbox  chan coordMsg
	byConn map[string]*connState
	byUser map[UserID]*connState

	inviteMgr *invite.Manager
	tradeMgr  *trade.Manager

	verify Verifier
	settle Settler
	audit  *audit.Log
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Coordinator and starts its actor loop. verify must be
// non-nil; settle, auditLog and logger may all be nil, in which case
// settlement dispatch, the audit trail and logging are no-ops
// respectively.
func New(parent context.Context, verify Verifier, settle Settler, auditLog *audit.Log, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		inbox:  make(chan coordMsg, 256),
		byConn: make(map[string]*connState),
		byUser: make(map[UserID]*connState),
		verify: verify,
		settle: settle,
		audit:  auditLog,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	c.inviteMgr = invite.NewManager(c.inviteCallbacks())
	c.tradeMgr = trade.NewManager(c.tradeCallbacks())
	go c.loop()
	return c
}

// Shutdown stops the actor loop. The loop exits as soon as its select
// picks the cancellation; messages still queued in the inbox at that
// point are not processed and their callers get no reply.
func (c *Coordinator) Shutdown() { c.cancel() }

// Connect registers a new, unauthenticated connection and returns its
// outbox channel for the transport layer to drain.
func (c *Coordinator) Connect(connID string) <-chan OutboundEvent {
	outbox := make(chan OutboundEvent, 16)
	reply := make(chan struct{})
	c.inbox <- registerMsg{connID: connID, outbox: outbox, reply: reply}
	<-reply
	return outbox
}

// Disconnect runs the same cleanup as an explicit logOut for whatever
// user (if any) connID was authenticated as, then forgets the connection.
func (c *Coordinator) Disconnect(connID string) {
	reply := make(chan struct{})
	c.inbox <- disconnectMsg{connID: connID, reply: reply}
	<-reply
}

// Dispatch runs action against the connection's current state through
// the gate and returns its ack.
func (c *Coordinator) Dispatch(connID string, action Action, args ActionArgs) Ack {
	reply := make(chan Ack, 1)
	c.inbox <- dispatchMsg{connID: connID, action: action, args: args, reply: reply}
	return <-reply
}

// coordMsg is the actor loop's inbound message sum type, grounded on the
// teacher's hub.HubMsg/lobby.Msg marker-interface pattern.
type coordMsg interface{ isCoordMsg() }

type registerMsg struct {
	connID string
	outbox chan OutboundEvent
	reply  chan struct{}
}

func (registerMsg) isCoordMsg() {}

type disconnectMsg struct {
	connID string
	reply  chan struct{}
}

func (disconnectMsg) isCoordMsg() {}

type dispatchMsg struct {
	connID string
	action Action
	args   ActionArgs
	reply  chan Ack
}

func (dispatchMsg) isCoordMsg() {}

func (c *Coordinator) loop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case m := <-c.inbox:
			switch msg := m.(type) {
			case registerMsg:
				c.byConn[msg.connID] = &connState{connID: msg.connID, state: StateNoUserID, outbox: msg.outbox}
				msg.reply <- struct{}{}

			case disconnectMsg:
				if cs, ok := c.byConn[msg.connID]; ok {
					if cs.userID != "" {
						c.cleanupUser(cs.userID)
					}
					close(cs.outbox)
					delete(c.byConn, msg.connID)
				}
				msg.reply <- struct{}{}

			case dispatchMsg:
				msg.reply <- c.handle(msg.connID, msg.action, msg.args)
			}
		}
	}
}

// handle runs the dispatch algorithm: gate check, handler invocation,
// error classification.
func (c *Coordinator) handle(connID string, action Action, args ActionArgs) Ack {
	cs, ok := c.byConn[connID]
	if !ok {
		c.logger.Error("dispatch on unknown connection", zap.String("connID", connID))
		return internalAck()
	}

	if !allowedStates[action][cs.state] {
		uerr := apperr.InvalidAction(string(action), string(cs.state))
		return Ack{ErrorName: uerr.Name, ErrorMessage: uerr.Message}
	}

	var err error
	switch action {
	case ActionAuthenticate:
		err = c.handleAuthenticate(cs, args.Token)
	case ActionLogOut:
		err = c.handleLogOut(cs)
	case ActionSendInvite:
		err = c.inviteMgr.SendInvite(cs.userID, args.ToID)
	case ActionCancelInvite:
		err = c.inviteMgr.CancelInvite(cs.userID)
	case ActionAcceptInvite:
		err = c.handleAcceptInvite(cs, args.FromID)
	case ActionRejectInvite:
		err = c.handleRejectInvite(cs, args.FromID)
	case ActionUpdateInventory:
		err = c.tradeMgr.UpdateInventory(cs.userID, args.Inventory)
	case ActionLockIn:
		err = c.tradeMgr.LockIn(cs.userID, args.Inventory, args.OtherInventory)
	case ActionUnlock:
		err = c.tradeMgr.Unlock(cs.userID)
	case ActionCancelTrade:
		err = c.tradeMgr.CancelTrade(cs.userID)
	case ActionCompleteTrade:
		err = c.tradeMgr.CompleteTrade(cs.userID)
	default:
		c.logger.Error("dispatch on unrecognized action", zap.String("action", string(action)))
		return internalAck()
	}

	if err == nil {
		return Ack{}
	}
	var uerr *apperr.UserError
	if errors.As(err, &uerr) {
		return Ack{ErrorName: uerr.Name, ErrorMessage: uerr.Message}
	}
	c.logger.Error("internal error handling action", zap.String("action", string(action)), zap.Error(err))
	return internalAck()
}

func internalAck() Ack {
	return Ack{ErrorName: "InternalError", ErrorMessage: "an internal error occurred"}
}

func (c *Coordinator) handleAuthenticate(cs *connState, token string) error {
	userID, err := c.verify(token)
	if err != nil {
		return apperr.Auth(err.Error())
	}
	if _, exists := c.byUser[userID]; exists {
		return apperr.UserAlreadyAuthenticated()
	}

	cs.userID = userID
	cs.state = StateInLobby
	c.byUser[userID] = cs
	c.inviteMgr.UserConnected(userID)
	return nil
}

func (c *Coordinator) handleLogOut(cs *connState) error {
	c.cleanupUser(cs.userID)
	cs.userID = ""
	cs.state = StateNoUserID
	return nil
}

// cleanupUser runs the shared disconnect/logOut cleanup: cancel/reject
// invites, cancel any active trade, forget the registry entry.
func (c *Coordinator) cleanupUser(userID UserID) {
	c.inviteMgr.UserDisconnected(userID)
	c.tradeMgr.UserDisconnected(userID)
	delete(c.byUser, userID)
}

// handleAcceptInvite implements the SentInvite open-question decision:
// accepting an inbound invite while the acceptor has their own outbound
// invite pending also cancels that outbound invite, through the normal
// cancelInvite path, preserving SentInvite ⟺ inviteSentTo != none. The
// inbound invite is validated and accepted first; the acceptor's own
// outbound invite is only cancelled once that succeeds, so a bad fromID
// leaves everything untouched instead of destroying a valid invite on a
// failed action.
func (c *Coordinator) handleAcceptInvite(cs *connState, fromID UserID) error {
	if err := c.inviteMgr.AcceptInvite(fromID, cs.userID); err != nil {
		return err
	}
	if cs.state == StateSentInvite {
		_ = c.inviteMgr.CancelInvite(cs.userID)
	}
	return c.tradeMgr.StartTrade(fromID, cs.userID)
}

// handleRejectInvite mirrors handleAcceptInvite: validate and reject the
// inbound invite first, then cancel the rejecter's own outbound invite
// (if any) only once that has succeeded.
func (c *Coordinator) handleRejectInvite(cs *connState, fromID UserID) error {
	if err := c.inviteMgr.RejectInvite(fromID, cs.userID); err != nil {
		return err
	}
	if cs.state == StateSentInvite {
		_ = c.inviteMgr.CancelInvite(cs.userID)
	}
	return nil
}

// push delivers an outbound event to u if u is currently connected. Per
// the protocol, peer notifications are never retried: a disconnected
// peer has already gone through cleanup, so the event is simply
// discarded. A full outbox (a wedged reader) is also discarded rather
// than blocking the actor loop.
func (c *Coordinator) push(u UserID, eventType string, payload any) {
	cs, ok := c.byUser[u]
	if !ok {
		return
	}
	select {
	case cs.outbox <- OutboundEvent{Type: eventType, Payload: payload}:
	default:
		c.logger.Warn("dropped outbound event, outbox full", zap.String("userID", u), zap.String("event", eventType))
	}
}

func (c *Coordinator) setState(u UserID, s UserState) {
	if cs, ok := c.byUser[u]; ok {
		cs.state = s
	}
}

func (c *Coordinator) inviteCallbacks() invite.Callbacks {
	return invite.Callbacks{
		OnInviteSent: func(from, to UserID) {
			c.setState(from, StateSentInvite)
			c.push(to, EventInviteReceived, map[string]any{"fromUserId": from})
		},
		OnInviteCancelled: func(from, to UserID) {
			c.setState(from, StateInLobby)
			c.push(to, EventInviteCancelled, map[string]any{"fromUserId": from})
		},
		OnInviteAccepted: func(from, to UserID) {
			c.push(from, EventInviteAccepted, map[string]any{"toUserId": to})
		},
		OnInviteRejected: func(from, to UserID) {
			c.setState(from, StateInLobby)
			c.push(from, EventInviteRejected, map[string]any{"toUserId": to})
		},
	}
}

func (c *Coordinator) tradeCallbacks() trade.Callbacks {
	return trade.Callbacks{
		OnTradeStarted: func(u1, u2 UserID) {
			c.setState(u1, StateInTrade)
			c.setState(u2, StateInTrade)
			c.push(u1, EventTradeStarted, map[string]any{"peerUserId": u2})
			c.push(u2, EventTradeStarted, map[string]any{"peerUserId": u1})
		},
		OnInventoryUpdated: func(peer UserID, inv inventory.Inventory) {
			c.push(peer, EventInventoryUpdated, map[string]any{"inventory": inv})
		},
		OnLockedIn: func(self, peer UserID, selfInv, otherInv inventory.Inventory) {
			c.setState(self, StateLockedIn)
			c.push(peer, EventLockedIn, map[string]any{"selfInventory": selfInv, "otherInventory": otherInv})
		},
		OnUnlocked: func(self, peer UserID) {
			c.setState(self, StateInTrade)
			c.push(peer, EventUnlocked, nil)
		},
		OnTradeCancelled: func(self, peer UserID) {
			c.setState(self, StateInLobby)
			c.setState(peer, StateInLobby)
			c.push(peer, EventTradeCancelled, nil)
		},
		OnTradeCompleted: func(pair *trade.Pair) {
			c.setState(pair.A.UserID, StateInLobby)
			c.setState(pair.B.UserID, StateInLobby)
			c.push(pair.A.UserID, EventTradeCompleted, nil)
			c.push(pair.B.UserID, EventTradeCompleted, nil)
			// Off the actor loop for the same reason settle is: a blocked
			// database write must never stall dispatch for every other
			// connected user. c.audit tolerates a nil receiver, and Entry
			// is a self-contained copy, so this is safe to run detached.
			go c.audit.Record(
				audit.Side{UserID: pair.A.UserID, Inventory: pair.A.Inventory},
				audit.Side{UserID: pair.B.UserID, Inventory: pair.B.Inventory},
			)
			if c.settle != nil {
				go c.settle(pair)
			}
		},
	}
}
