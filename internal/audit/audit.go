// Package audit keeps a write-only, append-only record of completed
// trades. It is a supplement the protocol itself never asked for: once
// a trade pair is removed from memory its terms are gone for good,
// which makes after-the-fact disputes impossible to investigate. This
// package exists purely so a completed trade leaves a row behind.
//
// Column shape grounded on ellavondegurechaff-gohye's Trade model
// (two user ids, terms, a timestamp); persistence mechanics use
// gorm.io/gorm and gorm.io/driver/postgres, the teacher's already
// declared but previously unused database dependencies.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tradebridge/tradebridge/internal/inventory"
)

// Entry is one completed trade, as stored.
type Entry struct {
	ID          uint      `gorm:"primaryKey"`
	UserAID     string    `gorm:"column:user_a_id;not null;index"`
	UserAGoods  string    `gorm:"column:user_a_goods;not null"` // JSON-encoded inventory.Inventory
	UserBID     string    `gorm:"column:user_b_id;not null;index"`
	UserBGoods  string    `gorm:"column:user_b_goods;not null"` // JSON-encoded inventory.Inventory
	CompletedAt time.Time `gorm:"column:completed_at;not null"`
}

// TableName pins the table name so schema migrations stay predictable
// across gorm versions.
func (Entry) TableName() string { return "completed_trades" }

// Side is one half of a completed trade, ready to persist.
type Side struct {
	UserID    string
	Inventory inventory.Inventory
}

// Log appends completed trades to a database. A nil Log is valid and
// silently discards every write — used when DATABASE_URL is unset,
// since the audit trail is a supplement, not a requirement.
type Log struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to dsn and migrates the completed_trades table. An
// empty dsn returns (nil, nil): callers should treat a nil *Log as a
// no-op sink rather than an error.
func Open(dsn string, logger *zap.Logger) (*Log, error) {
	if dsn == "" {
		logger.Warn("audit: DATABASE_URL not set, completed trades will not be recorded")
		return nil, nil
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Log{db: db, logger: logger}, nil
}

// Record appends a completed trade. Failures are logged, not returned:
// a broken audit trail must never block or unwind a settled trade.
func (l *Log) Record(a, b Side) {
	if l == nil {
		return
	}

	aGoods, err := json.Marshal(a.Inventory)
	if err != nil {
		l.logger.Error("audit: failed to marshal inventory", zap.Error(err))
		return
	}
	bGoods, err := json.Marshal(b.Inventory)
	if err != nil {
		l.logger.Error("audit: failed to marshal inventory", zap.Error(err))
		return
	}

	entry := Entry{
		UserAID:     a.UserID,
		UserAGoods:  string(aGoods),
		UserBID:     b.UserID,
		UserBGoods:  string(bGoods),
		CompletedAt: time.Now().UTC(),
	}
	if err := l.db.Create(&entry).Error; err != nil {
		l.logger.Error("audit: failed to record completed trade", zap.Error(err))
	}
}
