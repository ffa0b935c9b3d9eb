package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

// DuckDBStore implements the MarketStore interface using DuckDB as the
// backend. Upserts rely on the primary key of each table, so conflicting
// writes overwrite the stored row instead of duplicating it.
type DuckDBStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewDuckDBStore creates a new DuckDB store. The dbPath can be ":memory:"
// for an in-memory database or a file path for persistent storage.
func NewDuckDBStore(dbPath string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// Single writer pattern as recommended for DuckDB
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStore{
		db:     db,
		dbPath: dbPath,
		logger: logger,
	}, nil
}

// Initialize implements StoreManager.Initialize, creating the schema and
// lookup indexes.
func (d *DuckDBStore) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("initializing DuckDB store", "db_path", d.dbPath)

	if err := d.createCandlesTable(ctx); err != nil {
		return NewStorageError("initialize", "candles", err)
	}
	if err := d.createOpenInterestTable(ctx); err != nil {
		return NewStorageError("initialize", "open_interest", err)
	}
	if err := d.createFundingRatesTable(ctx); err != nil {
		return NewStorageError("initialize", "funding_rates", err)
	}
	if err := d.createIndexes(ctx); err != nil {
		return NewStorageError("initialize", "", err)
	}

	d.logger.Info("DuckDB store initialized")
	return nil
}

func (d *DuckDBStore) createCandlesTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS candles (
		exchange VARCHAR NOT NULL,
		market_type VARCHAR NOT NULL CHECK (market_type IN ('spot', 'perp')),
		symbol VARCHAR NOT NULL,
		interval VARCHAR NOT NULL,
		open_time TIMESTAMPTZ NOT NULL,
		open DOUBLE NOT NULL,
		high DOUBLE NOT NULL,
		low DOUBLE NOT NULL,
		close DOUBLE NOT NULL,
		volume DOUBLE NOT NULL,
		quote_volume DOUBLE NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT candles_pk PRIMARY KEY (exchange, market_type, symbol, interval, open_time),
		CONSTRAINT candles_ohlc_valid CHECK (high >= open AND high >= close AND low <= open AND low <= close),
		CONSTRAINT candles_prices_positive CHECK (open > 0 AND high > 0 AND low > 0 AND close > 0),
		CONSTRAINT candles_volume_non_negative CHECK (volume >= 0 AND quote_volume >= 0)
	)`

	_, err := d.db.ExecContext(ctx, query)
	return err
}

func (d *DuckDBStore) createOpenInterestTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS open_interest (
		exchange VARCHAR NOT NULL,
		symbol VARCHAR NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		open_interest DOUBLE NOT NULL CHECK (open_interest >= 0),
		open_interest_value DOUBLE NOT NULL CHECK (open_interest_value >= 0),
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT open_interest_pk PRIMARY KEY (exchange, symbol, ts)
	)`

	_, err := d.db.ExecContext(ctx, query)
	return err
}

func (d *DuckDBStore) createFundingRatesTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS funding_rates (
		exchange VARCHAR NOT NULL,
		symbol VARCHAR NOT NULL,
		funding_time TIMESTAMPTZ NOT NULL,
		funding_rate DOUBLE NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT funding_rates_pk PRIMARY KEY (exchange, symbol, funding_time)
	)`

	_, err := d.db.ExecContext(ctx, query)
	return err
}

func (d *DuckDBStore) createIndexes(ctx context.Context) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_candles_symbol_interval_time ON candles (symbol, interval, open_time)",
		"CREATE INDEX IF NOT EXISTS idx_candles_exchange_time ON candles (exchange, open_time)",
		"CREATE INDEX IF NOT EXISTS idx_oi_symbol_time ON open_interest (symbol, ts)",
		"CREATE INDEX IF NOT EXISTS idx_funding_symbol_time ON funding_rates (symbol, funding_time)",
	}

	for _, indexQuery := range indexes {
		if _, err := d.db.ExecContext(ctx, indexQuery); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// UpsertCandles implements CandleStore.UpsertCandles using a prepared
// ON CONFLICT statement inside a single transaction.
func (d *DuckDBStore) UpsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	start := time.Now()

	for i, candle := range candles {
		if err := candle.Validate(); err != nil {
			return 0, NewInsertError("candles", fmt.Errorf("invalid candle at index %d: %w", i, err))
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewInsertError("candles", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (exchange, market_type, symbol, interval, open_time, open, high, low, close, volume, quote_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (exchange, market_type, symbol, interval, open_time)
		DO UPDATE SET open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume, quote_volume = excluded.quote_volume`)
	if err != nil {
		return 0, NewInsertError("candles", fmt.Errorf("failed to prepare upsert: %w", err))
	}
	defer stmt.Close()

	for _, candle := range candles {
		open, high, low, closePrice, volume, quoteVolume, err := candleFloats(candle)
		if err != nil {
			return 0, NewInsertError("candles", fmt.Errorf("candle %s: %w", candle.String(), err))
		}
		if _, err := stmt.ExecContext(ctx,
			candle.Exchange,
			string(candle.MarketType),
			candle.Symbol,
			candle.Interval,
			candle.OpenTime,
			open, high, low, closePrice, volume, quoteVolume,
		); err != nil {
			return 0, NewInsertError("candles", fmt.Errorf("failed to upsert candle %s: %w", candle.String(), err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, NewInsertError("candles", fmt.Errorf("failed to commit: %w", err))
	}

	d.logger.Debug("upserted candles", "count", len(candles), "duration", time.Since(start))
	return len(candles), nil
}

// candleFloats parses the candle's decimal string fields for the DOUBLE
// columns.
func candleFloats(candle models.Candle) (open, high, low, closePrice, volume, quoteVolume float64, err error) {
	fields := []struct {
		name  string
		value string
		out   *float64
	}{
		{"open", candle.Open, &open},
		{"high", candle.High, &high},
		{"low", candle.Low, &low},
		{"close", candle.Close, &closePrice},
		{"volume", candle.Volume, &volume},
		{"quote volume", candle.QuoteVolume, &quoteVolume},
	}
	for _, f := range fields {
		dec, parseErr := decimal.NewFromString(f.value)
		if parseErr != nil {
			err = fmt.Errorf("invalid %s: %w", f.name, parseErr)
			return
		}
		*f.out, _ = dec.Float64()
	}
	return
}

// QueryCandles implements CandleStore.QueryCandles, returning rows in
// ascending open-time order.
func (d *DuckDBStore) QueryCandles(ctx context.Context, q CandleQuery) ([]models.Candle, error) {
	query, args := buildCandleQuery("SELECT exchange, market_type, symbol, interval, open_time, open, high, low, close, volume, quote_volume FROM candles", q, true)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError("candles", fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var candle models.Candle
		var marketType string
		var open, high, low, closePrice, volume, quoteVolume float64

		if err := rows.Scan(
			&candle.Exchange,
			&marketType,
			&candle.Symbol,
			&candle.Interval,
			&candle.OpenTime,
			&open, &high, &low, &closePrice, &volume, &quoteVolume,
		); err != nil {
			return nil, NewQueryError("candles", fmt.Errorf("failed to scan row: %w", err))
		}

		candle.MarketType = models.MarketType(marketType)
		candle.OpenTime = candle.OpenTime.UTC()
		candle.Open = formatFloat(open)
		candle.High = formatFloat(high)
		candle.Low = formatFloat(low)
		candle.Close = formatFloat(closePrice)
		candle.Volume = formatFloat(volume)
		candle.QuoteVolume = formatFloat(quoteVolume)

		candles = append(candles, candle)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("candles", fmt.Errorf("row iteration error: %w", err))
	}
	return candles, nil
}

// CountCandles implements CandleStore.CountCandles.
func (d *DuckDBStore) CountCandles(ctx context.Context, q CandleQuery) (int64, error) {
	query, args := buildCandleQuery("SELECT COUNT(*) FROM candles", q, false)

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, NewQueryError("candles", fmt.Errorf("failed to count: %w", err))
	}
	return count, nil
}

// CandleDateRange implements CandleStore.CandleDateRange.
func (d *DuckDBStore) CandleDateRange(ctx context.Context, q CandleQuery) (*DateRange, error) {
	query, args := buildCandleQuery("SELECT MIN(open_time), MAX(open_time) FROM candles", q, false)

	var earliest, latest sql.NullTime
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&earliest, &latest); err != nil {
		return nil, NewQueryError("candles", fmt.Errorf("failed to read date range: %w", err))
	}
	if !earliest.Valid || !latest.Valid {
		return nil, nil
	}
	return &DateRange{Earliest: earliest.Time.UTC(), Latest: latest.Time.UTC()}, nil
}

// buildCandleQuery appends the WHERE clause for a candle query to the given
// SELECT prefix. Ordering and limits only apply to row reads.
func buildCandleQuery(prefix string, q CandleQuery, ordered bool) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if q.Exchange != "" {
		conds = append(conds, "exchange = ?")
		args = append(args, q.Exchange)
	}
	if q.MarketType != "" {
		conds = append(conds, "market_type = ?")
		args = append(args, string(q.MarketType))
	}
	if q.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, q.Symbol)
	}
	if q.Interval != "" {
		conds = append(conds, "interval = ?")
		args = append(args, q.Interval)
	}
	if !q.Start.IsZero() {
		conds = append(conds, "open_time >= ?")
		args = append(args, q.Start)
	}
	if !q.End.IsZero() {
		conds = append(conds, "open_time <= ?")
		args = append(args, q.End)
	}

	query := prefix
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if ordered {
		query += " ORDER BY open_time ASC"
		if q.Limit > 0 {
			query += fmt.Sprintf(" LIMIT %d", q.Limit)
		}
	}
	return query, args
}

// UpsertOpenInterest implements OpenInterestStore.UpsertOpenInterest.
func (d *DuckDBStore) UpsertOpenInterest(ctx context.Context, snapshots []models.OpenInterestSnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	for i, snap := range snapshots {
		if err := snap.Validate(); err != nil {
			return 0, NewInsertError("open_interest", fmt.Errorf("invalid snapshot at index %d: %w", i, err))
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewInsertError("open_interest", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO open_interest (exchange, symbol, ts, open_interest, open_interest_value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (exchange, symbol, ts)
		DO UPDATE SET open_interest = excluded.open_interest, open_interest_value = excluded.open_interest_value`)
	if err != nil {
		return 0, NewInsertError("open_interest", fmt.Errorf("failed to prepare upsert: %w", err))
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		oi, err := decimal.NewFromString(snap.OpenInterest)
		if err != nil {
			return 0, NewInsertError("open_interest", fmt.Errorf("invalid open interest: %w", err))
		}
		value, err := decimal.NewFromString(snap.OpenInterestValue)
		if err != nil {
			return 0, NewInsertError("open_interest", fmt.Errorf("invalid open interest value: %w", err))
		}
		oiFloat, _ := oi.Float64()
		valueFloat, _ := value.Float64()

		if _, err := stmt.ExecContext(ctx, snap.Exchange, snap.Symbol, snap.Timestamp, oiFloat, valueFloat); err != nil {
			return 0, NewInsertError("open_interest", fmt.Errorf("failed to upsert snapshot %s: %w", snap.String(), err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, NewInsertError("open_interest", fmt.Errorf("failed to commit: %w", err))
	}
	return len(snapshots), nil
}

// QueryOpenInterest implements OpenInterestStore.QueryOpenInterest.
func (d *DuckDBStore) QueryOpenInterest(ctx context.Context, q SeriesQuery) ([]models.OpenInterestSnapshot, error) {
	query, args := buildSeriesQuery("SELECT exchange, symbol, ts, open_interest, open_interest_value FROM open_interest", "ts", q, true)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError("open_interest", fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	var snapshots []models.OpenInterestSnapshot
	for rows.Next() {
		var snap models.OpenInterestSnapshot
		var oi, value float64

		if err := rows.Scan(&snap.Exchange, &snap.Symbol, &snap.Timestamp, &oi, &value); err != nil {
			return nil, NewQueryError("open_interest", fmt.Errorf("failed to scan row: %w", err))
		}
		snap.Timestamp = snap.Timestamp.UTC()
		snap.OpenInterest = formatFloat(oi)
		snap.OpenInterestValue = formatFloat(value)
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("open_interest", fmt.Errorf("row iteration error: %w", err))
	}
	return snapshots, nil
}

// CountOpenInterest implements OpenInterestStore.CountOpenInterest.
func (d *DuckDBStore) CountOpenInterest(ctx context.Context, q SeriesQuery) (int64, error) {
	query, args := buildSeriesQuery("SELECT COUNT(*) FROM open_interest", "ts", q, false)

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, NewQueryError("open_interest", fmt.Errorf("failed to count: %w", err))
	}
	return count, nil
}

// UpsertFundingRates implements FundingStore.UpsertFundingRates.
func (d *DuckDBStore) UpsertFundingRates(ctx context.Context, rates []models.FundingRate) (int, error) {
	if len(rates) == 0 {
		return 0, nil
	}

	for i, rate := range rates {
		if err := rate.Validate(); err != nil {
			return 0, NewInsertError("funding_rates", fmt.Errorf("invalid funding rate at index %d: %w", i, err))
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewInsertError("funding_rates", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO funding_rates (exchange, symbol, funding_time, funding_rate)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (exchange, symbol, funding_time)
		DO UPDATE SET funding_rate = excluded.funding_rate`)
	if err != nil {
		return 0, NewInsertError("funding_rates", fmt.Errorf("failed to prepare upsert: %w", err))
	}
	defer stmt.Close()

	for _, rate := range rates {
		dec, err := decimal.NewFromString(rate.FundingRate)
		if err != nil {
			return 0, NewInsertError("funding_rates", fmt.Errorf("invalid funding rate: %w", err))
		}
		rateFloat, _ := dec.Float64()

		if _, err := stmt.ExecContext(ctx, rate.Exchange, rate.Symbol, rate.FundingTime, rateFloat); err != nil {
			return 0, NewInsertError("funding_rates", fmt.Errorf("failed to upsert funding rate: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, NewInsertError("funding_rates", fmt.Errorf("failed to commit: %w", err))
	}
	return len(rates), nil
}

// QueryFundingRates implements FundingStore.QueryFundingRates.
func (d *DuckDBStore) QueryFundingRates(ctx context.Context, q SeriesQuery) ([]models.FundingRate, error) {
	query, args := buildSeriesQuery("SELECT exchange, symbol, funding_time, funding_rate FROM funding_rates", "funding_time", q, true)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError("funding_rates", fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	var rates []models.FundingRate
	for rows.Next() {
		var rate models.FundingRate
		var value float64

		if err := rows.Scan(&rate.Exchange, &rate.Symbol, &rate.FundingTime, &value); err != nil {
			return nil, NewQueryError("funding_rates", fmt.Errorf("failed to scan row: %w", err))
		}
		rate.FundingTime = rate.FundingTime.UTC()
		rate.FundingRate = formatFloat(value)
		rates = append(rates, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("funding_rates", fmt.Errorf("row iteration error: %w", err))
	}
	return rates, nil
}

// CountFundingRates implements FundingStore.CountFundingRates.
func (d *DuckDBStore) CountFundingRates(ctx context.Context, q SeriesQuery) (int64, error) {
	query, args := buildSeriesQuery("SELECT COUNT(*) FROM funding_rates", "funding_time", q, false)

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, NewQueryError("funding_rates", fmt.Errorf("failed to count: %w", err))
	}
	return count, nil
}

// buildSeriesQuery appends the WHERE clause for an open interest or funding
// query. Ordering and limits only apply to row reads.
func buildSeriesQuery(prefix, timeColumn string, q SeriesQuery, ordered bool) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if q.Exchange != "" {
		conds = append(conds, "exchange = ?")
		args = append(args, q.Exchange)
	}
	if q.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, q.Symbol)
	}
	if !q.Start.IsZero() {
		conds = append(conds, timeColumn+" >= ?")
		args = append(args, q.Start)
	}
	if !q.End.IsZero() {
		conds = append(conds, timeColumn+" <= ?")
		args = append(args, q.End)
	}

	query := prefix
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if ordered {
		query += " ORDER BY " + timeColumn + " ASC"
		if q.Limit > 0 {
			query += fmt.Sprintf(" LIMIT %d", q.Limit)
		}
	}
	return query, args
}

// formatFloat renders a DOUBLE column value back into the model's decimal
// string form.
func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// HealthCheck implements StoreManager.HealthCheck.
func (d *DuckDBStore) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return NewStorageError("health_check", "", fmt.Errorf("database connection is closed"))
	}
	var one int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return NewStorageError("health_check", "", err)
	}
	return nil
}

// Close implements StoreManager.Close.
func (d *DuckDBStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Compile-time interface compliance check
var _ MarketStore = (*DuckDBStore)(nil)
