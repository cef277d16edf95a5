package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/tradebridge/tradebridge/internal/audit"
	"github.com/tradebridge/tradebridge/internal/auth"
	"github.com/tradebridge/tradebridge/internal/config"
	"github.com/tradebridge/tradebridge/internal/httpapi"
	"github.com/tradebridge/tradebridge/internal/logging"
	"github.com/tradebridge/tradebridge/internal/session"
	"github.com/tradebridge/tradebridge/internal/settlement"
	"github.com/tradebridge/tradebridge/internal/trade"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Development)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	verifier, err := auth.NewVerifier(cfg.BackendPublicKeyPEM)
	if err != nil {
		logger.Fatal("failed to build verifier", zap.Error(err))
	}
	if verifier.DevMode() {
		logger.Warn("running with authentication disabled: BACKEND_PUBLIC_KEY is not set")
	}

	auditLog, err := audit.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to open audit log", zap.Error(err))
	}

	ctx := context.Background()

	var settle session.Settler
	if cfg.SettlementEnabled() {
		dispatcher := settlement.New(cfg.PerformTradeEndpoint, cfg.PrivateKey, logger)
		settle = func(pair *trade.Pair) {
			dispatcher.Settle(ctx, []settlement.TradeInfo{
				{UserID: pair.A.UserID, Inventory: pair.A.Inventory, LockedIn: pair.A.LockedIn, Accepted: pair.A.Accepted},
				{UserID: pair.B.UserID, Inventory: pair.B.Inventory, LockedIn: pair.B.LockedIn, Accepted: pair.B.Accepted},
			})
		}
	} else {
		logger.Warn("settlement is disabled: PRIVATE_KEY or PERFORM_TRADE_ENDPOINT is not set")
	}

	coord := session.New(ctx, verifier.Verify, settle, auditLog, logger)
	defer coord.Shutdown()

	handler := httpapi.SetupRoutes(coord, logger)

	logger.Info("listening", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
