// Package storage defines the persistence layer for market data series.
// These interfaces provide abstractions over different storage backends
// while maintaining contract compatibility and enabling dependency injection.
// All writes are idempotent upserts keyed on the natural identity of each
// record, so re-ingesting an overlapping window never duplicates rows.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

// CandleStore handles candle persistence and retrieval.
type CandleStore interface {
	// UpsertCandles writes a batch of candles, updating rows whose
	// (exchange, market_type, symbol, interval, open_time) identity already
	// exists. Returns the number of records processed.
	UpsertCandles(ctx context.Context, candles []models.Candle) (int, error)

	// QueryCandles retrieves candles matching the query in ascending
	// open-time order.
	QueryCandles(ctx context.Context, q CandleQuery) ([]models.Candle, error)

	// CountCandles returns the number of stored candles matching the query.
	CountCandles(ctx context.Context, q CandleQuery) (int64, error)

	// CandleDateRange returns the earliest and latest open times matching
	// the query, or nil when nothing matches.
	CandleDateRange(ctx context.Context, q CandleQuery) (*DateRange, error)
}

// OpenInterestStore handles open interest snapshot persistence and retrieval.
type OpenInterestStore interface {
	// UpsertOpenInterest writes a batch of snapshots, updating rows whose
	// (exchange, symbol, timestamp) identity already exists.
	UpsertOpenInterest(ctx context.Context, snapshots []models.OpenInterestSnapshot) (int, error)

	// QueryOpenInterest retrieves snapshots matching the query in ascending
	// timestamp order.
	QueryOpenInterest(ctx context.Context, q SeriesQuery) ([]models.OpenInterestSnapshot, error)

	// CountOpenInterest returns the number of stored snapshots matching the
	// query.
	CountOpenInterest(ctx context.Context, q SeriesQuery) (int64, error)
}

// FundingStore handles funding rate persistence and retrieval.
type FundingStore interface {
	// UpsertFundingRates writes a batch of rates, updating rows whose
	// (exchange, symbol, funding_time) identity already exists.
	UpsertFundingRates(ctx context.Context, rates []models.FundingRate) (int, error)

	// QueryFundingRates retrieves rates matching the query in ascending
	// funding-time order.
	QueryFundingRates(ctx context.Context, q SeriesQuery) ([]models.FundingRate, error)

	// CountFundingRates returns the number of stored rates matching the
	// query.
	CountFundingRates(ctx context.Context, q SeriesQuery) (int64, error)
}

// StoreManager handles storage lifecycle and operational concerns.
type StoreManager interface {
	// Initialize prepares the backend for operation, creating tables and
	// indexes. Idempotent and safe to call multiple times.
	Initialize(ctx context.Context) error

	// Close gracefully shuts down the backend. The store must not be used
	// after Close returns.
	Close() error

	// HealthCheck verifies that the backend is operational with a
	// lightweight probe.
	HealthCheck(ctx context.Context) error
}

// MarketStore combines all market data persistence capabilities into the
// single interface backends implement.
type MarketStore interface {
	CandleStore
	OpenInterestStore
	FundingStore
	StoreManager
}

// CandleQuery filters candle reads. Zero-valued fields match everything.
type CandleQuery struct {
	Exchange   string
	MarketType models.MarketType
	Symbol     string
	Interval   string

	// Start and End bound the open time, both inclusive. Zero bounds are
	// open.
	Start time.Time
	End   time.Time

	// Limit caps the number of results (0 = no limit).
	Limit int
}

// SeriesQuery filters open interest and funding reads. Zero-valued fields
// match everything; Start and End are inclusive.
type SeriesQuery struct {
	Exchange string
	Symbol   string
	Start    time.Time
	End      time.Time
	Limit    int
}

// DateRange describes the time span covered by stored data.
type DateRange struct {
	Earliest time.Time
	Latest   time.Time
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "insert",
	// "query").
	Operation string

	// Table is the table involved in the operation.
	Table string

	// Err is the underlying error that caused the failure.
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Err: err}
}

// NewInsertError creates a StorageError for upsert operations.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{Operation: "insert", Table: table, Err: err}
}

// NewQueryError creates a StorageError for query operations.
func NewQueryError(table string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Err: err}
}
