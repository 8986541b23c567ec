package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"angelone_tickstream/config"
	"angelone_tickstream/middleware"
	"angelone_tickstream/models"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS market_ticks (
    timestamp DateTime64(3),
    exchange_timestamp DateTime64(3),
    token String,
    symbol String,
    exchange LowCardinality(String),
    mode LowCardinality(String),
    sequence_number Int64,
    last_price Float64,
    volume Int64,
    avg_price Float64,
    buy_quantity Float64,
    sell_quantity Float64,
    open_price Float64,
    high_price Float64,
    low_price Float64,
    close_price Float64,
    open_interest Int64
) ENGINE = MergeTree()
ORDER BY (token, exchange_timestamp)
`

type ClickHouseDB struct {
	conn    driver.Conn
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewClickHouseDB(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*ClickHouseDB, error) {
	ch := cfg.ClickHouse
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", ch.Host, ch.Port)},
		Auth: clickhouse.Auth{
			Database: ch.Database,
			Username: ch.User,
			Password: ch.Password,
		},
		Protocol:        clickhouse.Native,
		Debug:           ch.Debug,
		Debugf:          log.Named("clickhouse").Debugf,
		MaxOpenConns:    ch.MaxOpenConns,
		MaxIdleConns:    ch.MaxIdleConns,
		ConnMaxLifetime: ch.ConnMaxLifetime,
		DialTimeout:     ch.QueryTimeout,
		Settings: clickhouse.Settings{
			"max_execution_time": int(ch.QueryTimeout.Seconds()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	db := &ClickHouseDB{
		conn:    conn,
		breaker: middleware.NewBreaker("clickhouse", middleware.BreakerSettings{}, log),
		timeout: ch.QueryTimeout,
	}
	if err := db.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := db.createTable(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *ClickHouseDB) createTable(ctx context.Context) error {
	if err := db.conn.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create market_ticks: %w", err)
	}
	return nil
}

func (db *ClickHouseDB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()
	if err := db.conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	return nil
}

// InsertTicks writes one batch. Calls fail fast while the breaker is open.
func (db *ClickHouseDB) InsertTicks(ctx context.Context, ticks []models.MarketTick) error {
	return middleware.WithCircuitBreaker(db.breaker, func() error {
		batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO market_ticks")
		if err != nil {
			return err
		}
		for i := range ticks {
			if err := batch.AppendStruct(&ticks[i]); err != nil {
				_ = batch.Abort()
				return err
			}
		}
		return batch.Send()
	})
}

func (db *ClickHouseDB) Close() error {
	return db.conn.Close()
}
