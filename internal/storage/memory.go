package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

// candleKey is the natural identity of a stored candle.
type candleKey struct {
	exchange   string
	marketType models.MarketType
	symbol     string
	interval   string
	openTime   time.Time
}

// seriesKey is the natural identity of an open interest snapshot or funding
// rate.
type seriesKey struct {
	exchange string
	symbol   string
	ts       time.Time
}

// MemoryStore provides an in-memory implementation of the MarketStore
// interface. It is primarily used in tests and for ephemeral runs where no
// database file is wanted.
type MemoryStore struct {
	mu sync.RWMutex

	candles      map[candleKey]models.Candle
	openInterest map[seriesKey]models.OpenInterestSnapshot
	fundingRates map[seriesKey]models.FundingRate

	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles:      make(map[candleKey]models.Candle),
		openInterest: make(map[seriesKey]models.OpenInterestSnapshot),
		fundingRates: make(map[seriesKey]models.FundingRate),
	}
}

// Initialize implements StoreManager.Initialize. Nothing to prepare for an
// in-memory backend.
func (m *MemoryStore) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// UpsertCandles implements CandleStore.UpsertCandles, overwriting rows with
// the same identity.
func (m *MemoryStore) UpsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if ctx.Err() != nil {
		return 0, NewInsertError("candles", ctx.Err())
	}
	if len(candles) == 0 {
		return 0, nil
	}

	for i, candle := range candles {
		if err := candle.Validate(); err != nil {
			return 0, NewInsertError("candles", fmt.Errorf("invalid candle at index %d: %w", i, err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, NewInsertError("candles", errors.New("store is closed"))
	}

	for _, candle := range candles {
		key := candleKey{
			exchange:   candle.Exchange,
			marketType: candle.MarketType,
			symbol:     candle.Symbol,
			interval:   candle.Interval,
			openTime:   candle.OpenTime.UTC(),
		}
		m.candles[key] = candle
	}
	return len(candles), nil
}

// QueryCandles implements CandleStore.QueryCandles.
func (m *MemoryStore) QueryCandles(ctx context.Context, q CandleQuery) ([]models.Candle, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("candles", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("candles", errors.New("store is closed"))
	}

	var result []models.Candle
	for _, candle := range m.candles {
		if matchCandle(candle, q) {
			result = append(result, candle)
		}
	}

	models.SortCandles(result)
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// CountCandles implements CandleStore.CountCandles.
func (m *MemoryStore) CountCandles(ctx context.Context, q CandleQuery) (int64, error) {
	if ctx.Err() != nil {
		return 0, NewQueryError("candles", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, candle := range m.candles {
		if matchCandle(candle, q) {
			count++
		}
	}
	return count, nil
}

// CandleDateRange implements CandleStore.CandleDateRange.
func (m *MemoryStore) CandleDateRange(ctx context.Context, q CandleQuery) (*DateRange, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("candles", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var dr *DateRange
	for _, candle := range m.candles {
		if !matchCandle(candle, q) {
			continue
		}
		t := candle.OpenTime.UTC()
		if dr == nil {
			dr = &DateRange{Earliest: t, Latest: t}
			continue
		}
		if t.Before(dr.Earliest) {
			dr.Earliest = t
		}
		if t.After(dr.Latest) {
			dr.Latest = t
		}
	}
	return dr, nil
}

func matchCandle(candle models.Candle, q CandleQuery) bool {
	if q.Exchange != "" && candle.Exchange != q.Exchange {
		return false
	}
	if q.MarketType != "" && candle.MarketType != q.MarketType {
		return false
	}
	if q.Symbol != "" && candle.Symbol != q.Symbol {
		return false
	}
	if q.Interval != "" && candle.Interval != q.Interval {
		return false
	}
	return inWindow(candle.OpenTime, q.Start, q.End)
}

// UpsertOpenInterest implements OpenInterestStore.UpsertOpenInterest.
func (m *MemoryStore) UpsertOpenInterest(ctx context.Context, snapshots []models.OpenInterestSnapshot) (int, error) {
	if ctx.Err() != nil {
		return 0, NewInsertError("open_interest", ctx.Err())
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	for i, snap := range snapshots {
		if err := snap.Validate(); err != nil {
			return 0, NewInsertError("open_interest", fmt.Errorf("invalid snapshot at index %d: %w", i, err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, NewInsertError("open_interest", errors.New("store is closed"))
	}

	for _, snap := range snapshots {
		key := seriesKey{exchange: snap.Exchange, symbol: snap.Symbol, ts: snap.Timestamp.UTC()}
		m.openInterest[key] = snap
	}
	return len(snapshots), nil
}

// QueryOpenInterest implements OpenInterestStore.QueryOpenInterest.
func (m *MemoryStore) QueryOpenInterest(ctx context.Context, q SeriesQuery) ([]models.OpenInterestSnapshot, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("open_interest", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.OpenInterestSnapshot
	for _, snap := range m.openInterest {
		if matchSeries(snap.Exchange, snap.Symbol, snap.Timestamp, q) {
			result = append(result, snap)
		}
	}

	models.SortOpenInterest(result)
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// CountOpenInterest implements OpenInterestStore.CountOpenInterest.
func (m *MemoryStore) CountOpenInterest(ctx context.Context, q SeriesQuery) (int64, error) {
	if ctx.Err() != nil {
		return 0, NewQueryError("open_interest", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, snap := range m.openInterest {
		if matchSeries(snap.Exchange, snap.Symbol, snap.Timestamp, q) {
			count++
		}
	}
	return count, nil
}

// UpsertFundingRates implements FundingStore.UpsertFundingRates.
func (m *MemoryStore) UpsertFundingRates(ctx context.Context, rates []models.FundingRate) (int, error) {
	if ctx.Err() != nil {
		return 0, NewInsertError("funding_rates", ctx.Err())
	}
	if len(rates) == 0 {
		return 0, nil
	}

	for i, rate := range rates {
		if err := rate.Validate(); err != nil {
			return 0, NewInsertError("funding_rates", fmt.Errorf("invalid funding rate at index %d: %w", i, err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, NewInsertError("funding_rates", errors.New("store is closed"))
	}

	for _, rate := range rates {
		key := seriesKey{exchange: rate.Exchange, symbol: rate.Symbol, ts: rate.FundingTime.UTC()}
		m.fundingRates[key] = rate
	}
	return len(rates), nil
}

// QueryFundingRates implements FundingStore.QueryFundingRates.
func (m *MemoryStore) QueryFundingRates(ctx context.Context, q SeriesQuery) ([]models.FundingRate, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("funding_rates", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.FundingRate
	for _, rate := range m.fundingRates {
		if matchSeries(rate.Exchange, rate.Symbol, rate.FundingTime, q) {
			result = append(result, rate)
		}
	}

	models.SortFundingRates(result)
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// CountFundingRates implements FundingStore.CountFundingRates.
func (m *MemoryStore) CountFundingRates(ctx context.Context, q SeriesQuery) (int64, error) {
	if ctx.Err() != nil {
		return 0, NewQueryError("funding_rates", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, rate := range m.fundingRates {
		if matchSeries(rate.Exchange, rate.Symbol, rate.FundingTime, q) {
			count++
		}
	}
	return count, nil
}

func matchSeries(exchange, symbol string, ts time.Time, q SeriesQuery) bool {
	if q.Exchange != "" && exchange != q.Exchange {
		return false
	}
	if q.Symbol != "" && symbol != q.Symbol {
		return false
	}
	return inWindow(ts, q.Start, q.End)
}

// inWindow reports whether t falls inside [start, end]; zero bounds are open.
func inWindow(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

// HealthCheck implements StoreManager.HealthCheck.
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return NewStorageError("health_check", "", errors.New("store is closed"))
	}
	return nil
}

// Close implements StoreManager.Close.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.candles = nil
	m.openInterest = nil
	m.fundingRates = nil
	return nil
}

// Compile-time interface compliance check
var _ MarketStore = (*MemoryStore)(nil)
