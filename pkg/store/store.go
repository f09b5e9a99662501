// Package store remembers which SKUs already got a production voucher
// today, so a rerun of the same request file does not double-produce.
//
// Callers treat the store as best-effort: a failed lookup means "not
// processed" and a failed write is only logged.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/stockpilot/pkg/config"
)

// Store is the idempotency collaborator of a batch run.
type Store interface {
	AlreadyProcessedToday(ctx context.Context, sku string) (bool, error)
	RecordProcessed(ctx context.Context, sku, name string, quantity float64) error
	Close() error
}

// Nop never reports anything as processed.
type Nop struct{}

func (Nop) AlreadyProcessedToday(context.Context, string) (bool, error) { return false, nil }

func (Nop) RecordProcessed(context.Context, string, string, float64) error { return nil }

func (Nop) Close() error { return nil }

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreNone, "":
		return Nop{}, nil
	case config.StoreSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case config.StoreRedis:
		return OpenRedis(ctx, RedisOptions{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			TTL:      cfg.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// day is the calendar date key used by every backend.
func day(t time.Time) string {
	return t.Format("2006-01-02")
}
