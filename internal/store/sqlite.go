// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"zerodha-strategy/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Open positions, rewritten as a whole on every change
	CREATE TABLE IF NOT EXISTS positions (
		instrument_token INTEGER PRIMARY KEY,
		symbol TEXT NOT NULL,
		option_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		entry_time DATETIME NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		exchange TEXT NOT NULL,
		exchange_segment TEXT NOT NULL,
		expiry DATETIME,
		reason TEXT
	);

	-- Trade journal; ids are ULIDs so they sort by event time
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		event_id TEXT,
		timestamp DATETIME NOT NULL,
		instrument_token INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		option_type TEXT NOT NULL,
		action TEXT NOT NULL,
		price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		stop_loss REAL,
		take_profit REAL,
		realized_pnl REAL,
		reason TEXT,
		daily_pnl REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Candle cache for history seeding
	CREATE TABLE IF NOT EXISTS candles (
		instrument_token INTEGER NOT NULL,
		interval_seconds INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		UNIQUE(instrument_token, interval_seconds, timestamp)
	);

	-- Instrument catalog
	CREATE TABLE IF NOT EXISTS instruments (
		instrument_token INTEGER PRIMARY KEY,
		symbol TEXT NOT NULL,
		name TEXT,
		exchange TEXT NOT NULL,
		segment TEXT,
		lot_size INTEGER,
		tick_size REAL,
		expiry DATETIME,
		strike REAL,
		instrument_type TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_token ON trades(instrument_token);
	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_candles_token ON candles(instrument_token, interval_seconds);
	CREATE INDEX IF NOT EXISTS idx_instruments_symbol ON instruments(symbol);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Positions
// ============================================================================

// LoadPositions returns all persisted positions ordered by token.
func (s *SQLiteStore) LoadPositions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument_token, symbol, option_type, quantity, entry_price, entry_time,
		       stop_loss, take_profit, exchange, exchange_segment, expiry, reason
		FROM positions
		ORDER BY instrument_token ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var p models.Position
		var expiry sql.NullTime
		var reason sql.NullString
		if err := rows.Scan(&p.Token, &p.Symbol, &p.OptionType, &p.Quantity, &p.EntryPrice, &p.EntryTime,
			&p.StopLoss, &p.TakeProfit, &p.Exchange, &p.Segment, &expiry, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if expiry.Valid {
			exp := expiry.Time
			p.Expiry = &exp
		}
		p.Reason = reason.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return out, nil
}

// SavePositions replaces the persisted position set in one transaction.
func (s *SQLiteStore) SavePositions(ctx context.Context, positions []models.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions (instrument_token, symbol, option_type, quantity, entry_price, entry_time,
		                       stop_loss, take_profit, exchange, exchange_segment, expiry, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		var expiry interface{}
		if p.Expiry != nil {
			expiry = p.Expiry.UTC()
		}
		if _, err := stmt.ExecContext(ctx, p.Token, p.Symbol, string(p.OptionType), p.Quantity, p.EntryPrice,
			p.EntryTime.UTC(), p.StopLoss, p.TakeProfit, string(p.Exchange), p.Segment, expiry, p.Reason); err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ============================================================================
// Trade journal
// ============================================================================

// AppendTrade journals a trade event and returns its journal id.
func (s *SQLiteStore) AppendTrade(ctx context.Context, event models.TradeEvent) (string, error) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	id := ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy()).String()

	var pnl interface{}
	if event.RealizedPnL != nil {
		pnl = *event.RealizedPnL
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, event_id, timestamp, instrument_token, symbol, option_type, action, price,
		                    quantity, stop_loss, take_profit, realized_pnl, reason, daily_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, event.ID, ts.UTC(), event.Token, event.Symbol, string(event.OptionType), string(event.Action), event.Price,
		event.Quantity, event.StopLoss, event.TakeProfit, pnl, event.Reason, event.DailyPnL)
	if err != nil {
		return "", fmt.Errorf("failed to log trade: %w", err)
	}
	return id, nil
}

// GetTrades retrieves journaled trades, newest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.JournalEntry, error) {
	query := `SELECT id, event_id, timestamp, instrument_token, symbol, option_type, action, price, quantity,
	                 stop_loss, take_profit, realized_pnl, reason, daily_pnl
	          FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.Token != 0 {
		query += " AND instrument_token = ?"
		args = append(args, filter.Token)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, string(filter.Action))
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var eventID, reason sql.NullString
		var pnl sql.NullFloat64
		ev := &e.Event
		if err := rows.Scan(&e.ID, &eventID, &ev.Timestamp, &ev.Token, &ev.Symbol, &ev.OptionType, &ev.Action,
			&ev.Price, &ev.Quantity, &ev.StopLoss, &ev.TakeProfit, &pnl, &reason, &ev.DailyPnL); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		ev.ID = eventID.String
		ev.Reason = reason.String
		if pnl.Valid {
			v := pnl.Float64
			ev.RealizedPnL = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return entries, nil
}

// ============================================================================
// Candle cache
// ============================================================================

// SaveCandles saves candles to the database.
func (s *SQLiteStore) SaveCandles(ctx context.Context, token uint32, interval time.Duration, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (instrument_token, interval_seconds, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	secs := int64(interval / time.Second)
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, token, secs, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetCandles retrieves candles from the database in time order.
func (s *SQLiteStore) GetCandles(ctx context.Context, token uint32, interval time.Duration, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE instrument_token = ? AND interval_seconds = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, token, int64(interval/time.Second), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}
	return candles, nil
}

// GetCandlesFreshness returns the timestamp of the most recent cached candle.
func (s *SQLiteStore) GetCandlesFreshness(ctx context.Context, token uint32, interval time.Duration) (time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM candles WHERE instrument_token = ? AND interval_seconds = ?
	`, token, int64(interval/time.Second)).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to get candles freshness: %w", err)
	}
	if !raw.Valid {
		return time.Time{}, nil
	}
	return parseSQLiteTime(raw.String)
}

// sqliteTimestampFormats mirrors the layouts the driver writes.
var sqliteTimestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// parseSQLiteTime parses aggregate results, which lose the column type.
func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range sqliteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ============================================================================
// Instrument catalog
// ============================================================================

// SaveInstruments upserts catalog rows.
func (s *SQLiteStore) SaveInstruments(ctx context.Context, instruments []models.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO instruments (instrument_token, symbol, name, exchange, segment, lot_size,
		                                    tick_size, expiry, strike, instrument_type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, inst := range instruments {
		var expiry interface{}
		if !inst.Expiry.IsZero() {
			expiry = inst.Expiry.UTC()
		}
		if _, err := stmt.ExecContext(ctx, inst.Token, inst.Symbol, inst.Name, string(inst.Exchange), inst.Segment,
			inst.LotSize, inst.TickSize, expiry, inst.Strike, inst.InstrType, now); err != nil {
			return fmt.Errorf("failed to insert instrument: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Lookup returns the catalog row for token.
func (s *SQLiteStore) Lookup(token uint32) (models.Instrument, bool) {
	var inst models.Instrument
	var name, segment, instrType sql.NullString
	var lotSize sql.NullInt64
	var tickSize, strike sql.NullFloat64
	var expiry sql.NullTime

	err := s.db.QueryRow(`
		SELECT instrument_token, symbol, name, exchange, segment, lot_size, tick_size, expiry, strike, instrument_type
		FROM instruments WHERE instrument_token = ?
	`, token).Scan(&inst.Token, &inst.Symbol, &name, &inst.Exchange, &segment, &lotSize, &tickSize, &expiry, &strike, &instrType)
	if err != nil {
		return models.Instrument{}, false
	}

	inst.Name = name.String
	inst.Segment = segment.String
	inst.LotSize = int(lotSize.Int64)
	inst.TickSize = tickSize.Float64
	inst.Strike = strike.Float64
	inst.InstrType = instrType.String
	if expiry.Valid {
		inst.Expiry = expiry.Time
	}
	return inst, true
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}
