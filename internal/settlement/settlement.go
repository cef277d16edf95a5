// Package settlement dispatches completed trades to the external
// settlement endpoint. It fires once, after the coordinator has already
// committed and notified both peers, and never retries — a failed
// delivery is logged and left for the external system to reconcile.
//
// Grounded on Erick-Chen1-execution-hub-seed's webhook dispatcher
// (modules/ids/internal/application/notification/service.go): build a
// signed request, run it through a timeout-bounded client, and log the
// status code rather than propagate the error back into the caller's
// critical path.
package settlement

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const requestTimeout = 5 * time.Second

// TradeInfo is one side of a settled trade, as the external endpoint
// expects it.
type TradeInfo struct {
	UserID    string   `json:"userId"`
	Inventory []string `json:"inventory"`
	LockedIn  bool     `json:"lockedIn"`
	Accepted  bool     `json:"accepted"`
}

type requestBody struct {
	TradeInfo []TradeInfo `json:"tradeInfo"`
}

type bearerClaims struct {
	UserIDs []string `json:"userIds"`
	jwt.RegisteredClaims
}

// Dispatcher posts settled trades to the configured endpoint.
type Dispatcher struct {
	endpoint   string
	privateKey *rsa.PrivateKey
	client     *http.Client
	logger     *zap.Logger
}

// New builds a Dispatcher. privateKey signs the bearer token sent with
// every settlement request; endpoint is the URL to POST to.
func New(endpoint string, privateKey *rsa.PrivateKey, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		endpoint:   endpoint,
		privateKey: privateKey,
		client:     &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// Settle POSTs the two sides of a completed trade. It never returns an
// error to the caller; failures are logged and otherwise swallowed,
// matching the fire-and-report dispatch the coordinator expects from
// its settle callback.
func (d *Dispatcher) Settle(ctx context.Context, sides []TradeInfo) {
	userIDs := make([]string, len(sides))
	for i, s := range sides {
		userIDs[i] = s.UserID
	}

	token, err := d.sign(userIDs)
	if err != nil {
		d.logger.Error("settlement: failed to sign bearer token", zap.Error(err))
		return
	}

	body, err := json.Marshal(requestBody{TradeInfo: sides})
	if err != nil {
		d.logger.Error("settlement: failed to marshal request body", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("settlement: failed to build request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("settlement: request failed", zap.Strings("userIds", userIDs), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 300 {
		d.logger.Error("settlement: endpoint rejected trade",
			zap.Strings("userIds", userIDs),
			zap.Int("statusCode", resp.StatusCode),
			zap.ByteString("body", respBody))
		return
	}

	d.logger.Info("settlement: trade delivered", zap.Strings("userIds", userIDs), zap.Int("statusCode", resp.StatusCode))
}

func (d *Dispatcher) sign(userIDs []string) (string, error) {
	claims := bearerClaims{
		UserIDs: userIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(d.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign settlement token: %w", err)
	}
	return signed, nil
}
