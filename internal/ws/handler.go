// Package ws adapts the coordinator's connection-oriented API onto a
// websocket transport.
//
// Grounded verbatim on the teacher's internal/ws/handler.go: accept the
// connection, spawn a writer goroutine draining an outbox channel, and
// run a read loop in the handler goroutine that feeds commands into the
// coordinator. The message shapes and the command/action mapping are
// new; the read/write split and the lobby-join/leave bracketing (here,
// coordinator Connect/Dispatch/Disconnect) are the teacher's.
package ws

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/tradebridge/tradebridge/internal/inventory"
	"github.com/tradebridge/tradebridge/internal/session"
)

const writeTimeout = 5 * time.Second
const readTimeout = 5 * time.Minute

// request is the envelope a client sends for a dispatched action.
type request struct {
	Type           string              `json:"type"`
	ID             string              `json:"id"`
	Token          string              `json:"token,omitempty"`
	ToUserID       string              `json:"toUserId,omitempty"`
	FromUserID     string              `json:"fromUserId,omitempty"`
	Inventory      inventory.Inventory `json:"inventory,omitempty"`
	OtherInventory inventory.Inventory `json:"otherInventory,omitempty"`
}

// response is the envelope written back for both acks and pushed events.
// An ack carries the request's id; a push carries only its Type.
type response struct {
	Type         string `json:"type"`
	ID           string `json:"id,omitempty"`
	ErrorName    string `json:"errorName,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Payload      any    `json:"payload,omitempty"`
}

// writer serializes every write to a connection behind a mutex.
// coder/websocket, like the teacher's nhooyr.io/websocket, permits only
// one active writer at a time; the write loop (draining pushed events)
// and the read loop (writing acks) both write to the same connection
// from different goroutines, so both must go through this.
type writer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *writer) write(ctx context.Context, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return w.conn.Write(wctx, websocket.MessageText, payload)
}

// Handler builds the HTTP handler that upgrades a request to a
// websocket connection and bridges it to coord for its lifetime.
func Handler(coord *session.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		wr := &writer{conn: conn}

		connID := randID(16)
		outbox := coord.Connect(connID)
		defer coord.Disconnect(connID)

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writeLoop(writeCtx, wr, outbox, logger)

		readLoop(r.Context(), wr, coord, connID, logger)
	}
}

func writeLoop(ctx context.Context, wr *writer, outbox <-chan session.OutboundEvent, logger *zap.Logger) {
	for evt := range outbox {
		payload, err := json.Marshal(response{Type: evt.Type, Payload: evt.Payload})
		if err != nil {
			logger.Error("ws: failed to marshal outbound event", zap.Error(err))
			continue
		}
		_ = wr.write(ctx, payload)
	}
}

func readLoop(ctx context.Context, wr *writer, coord *session.Coordinator, connID string, logger *zap.Logger) {
	for {
		rctx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := wr.conn.Read(rctx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				logger.Debug("ws: read loop exiting", zap.Error(err))
			}
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			writeAck(ctx, wr, "", "InvalidMessage", "malformed request", logger)
			continue
		}

		action, args, ok := toAction(req)
		if !ok {
			writeAck(ctx, wr, req.ID, "UnknownAction", "unrecognized action type", logger)
			continue
		}

		ack := coord.Dispatch(connID, action, args)
		writeAck(ctx, wr, req.ID, ack.ErrorName, ack.ErrorMessage, logger)
	}
}

func toAction(req request) (session.Action, session.ActionArgs, bool) {
	args := session.ActionArgs{
		Token:          req.Token,
		ToID:           req.ToUserID,
		FromID:         req.FromUserID,
		Inventory:      req.Inventory,
		OtherInventory: req.OtherInventory,
	}
	switch session.Action(req.Type) {
	case session.ActionAuthenticate, session.ActionLogOut, session.ActionSendInvite,
		session.ActionCancelInvite, session.ActionAcceptInvite, session.ActionRejectInvite,
		session.ActionUpdateInventory, session.ActionLockIn, session.ActionUnlock,
		session.ActionCancelTrade, session.ActionCompleteTrade:
		return session.Action(req.Type), args, true
	default:
		return "", session.ActionArgs{}, false
	}
}

func writeAck(ctx context.Context, wr *writer, id, errName, errMsg string, logger *zap.Logger) {
	payload, err := json.Marshal(response{Type: "ack", ID: id, ErrorName: errName, ErrorMessage: errMsg})
	if err != nil {
		logger.Error("ws: failed to marshal ack", zap.Error(err))
		return
	}
	_ = wr.write(ctx, payload)
}

func randID(n int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "fallback-connection-id"
	}
	for i, v := range buf {
		b[i] = charset[int(v)%len(charset)]
	}
	return string(b)
}
