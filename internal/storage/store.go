// Package storage persists enriched filings and threshold exits to a
// relational database, batching writes so one poisoned row cannot take
// down an entire run.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"filings-pipeline/internal/common/errors"
	"filings-pipeline/internal/common/logging"
	"filings-pipeline/internal/models"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const dateLayout = "2006-01-02"

// Config holds storage configuration.
type Config struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string
	// DSN is the database path for SQLite or a connection string for
	// PostgreSQL.
	DSN string
	// BatchSize is the number of records written per transaction.
	BatchSize int
}

// Store writes and reads pipeline output. All writes are transactional
// per batch.
type Store struct {
	db        *sql.DB
	driver    string
	batchSize int
	logger    logging.Logger
}

// Open connects to the configured database and applies migrations.
func Open(config Config, logger logging.Logger) (*Store, error) {
	var driverName string
	switch config.Driver {
	case DriverSQLite:
		driverName = "sqlite3"
	case DriverPostgres:
		driverName = "pgx"
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown storage driver %q", config.Driver))
	}
	if config.DSN == "" {
		return nil, errors.ConfigError("storage DSN is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}

	db, err := sql.Open(driverName, config.DSN)
	if err != nil {
		return nil, errors.StorageError("opening database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.StorageError("pinging database", err)
	}

	store := &Store{
		db:        db,
		driver:    config.Driver,
		batchSize: config.BatchSize,
		logger:    logger,
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *Store) Health() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS filings (
			id %s,
			cik TEXT NOT NULL,
			cusip TEXT DEFAULT '',
			company_name TEXT DEFAULT '',
			ticker TEXT DEFAULT '',
			form_type TEXT NOT NULL,
			filing_date DATE NOT NULL,
			shares_owned BIGINT DEFAULT 0,
			ownership_percentage DOUBLE PRECISION DEFAULT 0,
			market_cap DOUBLE PRECISION,
			current_price DOUBLE PRECISION,
			performance TEXT DEFAULT '{}',
			failure_reason TEXT DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS threshold_exits (
			id %s,
			cik TEXT NOT NULL,
			cusip TEXT DEFAULT '',
			ticker TEXT DEFAULT '',
			company_name TEXT DEFAULT '',
			exit_date DATE NOT NULL,
			previous_percentage DOUBLE PRECISION NOT NULL,
			current_percentage DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, serial),
		`CREATE INDEX IF NOT EXISTS idx_filings_cik ON filings(cik)`,
		`CREATE INDEX IF NOT EXISTS idx_filings_cusip ON filings(cusip)`,
		`CREATE INDEX IF NOT EXISTS idx_filings_ticker ON filings(ticker)`,
		`CREATE INDEX IF NOT EXISTS idx_filings_filing_date ON filings(filing_date)`,
		`CREATE INDEX IF NOT EXISTS idx_exits_cik ON threshold_exits(cik)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return errors.StorageError("running migration", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $N for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PersistFilings writes records in batches, one transaction per batch. A
// failed batch is rolled back and aborts the call; earlier batches stay
// committed and later batches are not attempted. Returns the number of
// records written.
func (s *Store) PersistFilings(ctx context.Context, records []models.EnrichedRecord) (int, error) {
	written := 0
	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.writeFilingBatch(ctx, records[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}

	s.logger.Info("persisted filings",
		logging.Int("records", written),
		logging.Int("batch_size", s.batchSize),
	)
	return written, nil
}

func (s *Store) writeFilingBatch(ctx context.Context, batch []models.EnrichedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("beginning transaction", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO filings
		(cik, cusip, company_name, ticker, form_type, filing_date, shares_owned,
		 ownership_percentage, market_cap, current_price, performance, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		tx.Rollback()
		return errors.StorageError("preparing insert", err)
	}
	defer stmt.Close()

	for _, record := range batch {
		performance, err := json.Marshal(record.Performance)
		if err != nil {
			tx.Rollback()
			return errors.StorageError("encoding performance metrics", err)
		}
		_, err = stmt.ExecContext(ctx,
			record.CIK,
			record.CUSIP,
			record.CompanyName,
			record.Ticker,
			record.FilingKind,
			record.FilingDate.Format(dateLayout),
			record.SharesOwned,
			record.OwnershipPct,
			record.MarketCap,
			record.CurrentPrice,
			string(performance),
			record.FailureReason,
		)
		if err != nil {
			tx.Rollback()
			return errors.StorageError("inserting filing", err).
				WithContext("cik", record.CIK)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError("committing batch", err)
	}
	return nil
}

// PersistThresholdExits writes detected exits in batches with the same
// transactional discipline as filings.
func (s *Store) PersistThresholdExits(ctx context.Context, exits []models.ThresholdExit) (int, error) {
	written := 0
	for start := 0; start < len(exits); start += s.batchSize {
		end := start + s.batchSize
		if end > len(exits) {
			end = len(exits)
		}
		if err := s.writeExitBatch(ctx, exits[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}

func (s *Store) writeExitBatch(ctx context.Context, batch []models.ThresholdExit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("beginning transaction", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO threshold_exits
		(cik, cusip, ticker, company_name, exit_date, previous_percentage, current_percentage)
		VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		tx.Rollback()
		return errors.StorageError("preparing insert", err)
	}
	defer stmt.Close()

	for _, exit := range batch {
		_, err := stmt.ExecContext(ctx,
			exit.CIK,
			exit.CUSIP,
			exit.Ticker,
			exit.CompanyName,
			exit.ExitDate.Format(dateLayout),
			exit.PreviousPct,
			exit.CurrentPct,
		)
		if err != nil {
			tx.Rollback()
			return errors.StorageError("inserting threshold exit", err).
				WithContext("cik", exit.CIK)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError("committing batch", err)
	}
	return nil
}

// Filter narrows QueryFilings results. Zero values mean no constraint.
type Filter struct {
	CIK      string
	Ticker   string
	FormType string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// QueryFilings returns stored filings matching the filter, newest first.
func (s *Store) QueryFilings(ctx context.Context, filter Filter) ([]models.EnrichedRecord, error) {
	var conditions []string
	var args []interface{}

	if filter.CIK != "" {
		conditions = append(conditions, "cik = ?")
		args = append(args, filter.CIK)
	}
	if filter.Ticker != "" {
		conditions = append(conditions, "ticker = ?")
		args = append(args, filter.Ticker)
	}
	if filter.FormType != "" {
		conditions = append(conditions, "form_type = ?")
		args = append(args, filter.FormType)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "filing_date >= ?")
		args = append(args, filter.Since.Format(dateLayout))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "filing_date <= ?")
		args = append(args, filter.Until.Format(dateLayout))
	}

	query := `SELECT cik, cusip, company_name, ticker, form_type, filing_date,
		shares_owned, ownership_percentage, market_cap, current_price,
		performance, failure_reason FROM filings`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY filing_date DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.StorageError("querying filings", err)
	}
	defer rows.Close()

	var records []models.EnrichedRecord
	for rows.Next() {
		var record models.EnrichedRecord
		var filingDate string
		var performance string
		err := rows.Scan(
			&record.CIK,
			&record.CUSIP,
			&record.CompanyName,
			&record.Ticker,
			&record.FilingKind,
			&filingDate,
			&record.SharesOwned,
			&record.OwnershipPct,
			&record.MarketCap,
			&record.CurrentPrice,
			&performance,
			&record.FailureReason,
		)
		if err != nil {
			return nil, errors.StorageError("scanning filing row", err)
		}
		record.FilingDate = parseStoredDate(filingDate)
		if err := json.Unmarshal([]byte(performance), &record.Performance); err != nil {
			record.Performance = models.PerformanceMetrics{}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("iterating filing rows", err)
	}
	return records, nil
}

// QueryThresholdExits returns stored exits, newest first.
func (s *Store) QueryThresholdExits(ctx context.Context, limit int) ([]models.ThresholdExit, error) {
	query := `SELECT cik, cusip, ticker, company_name, exit_date,
		previous_percentage, current_percentage FROM threshold_exits
		ORDER BY exit_date DESC, id DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.StorageError("querying threshold exits", err)
	}
	defer rows.Close()

	var exits []models.ThresholdExit
	for rows.Next() {
		var exit models.ThresholdExit
		var exitDate string
		err := rows.Scan(
			&exit.CIK,
			&exit.CUSIP,
			&exit.Ticker,
			&exit.CompanyName,
			&exitDate,
			&exit.PreviousPct,
			&exit.CurrentPct,
		)
		if err != nil {
			return nil, errors.StorageError("scanning exit row", err)
		}
		exit.ExitDate = parseStoredDate(exitDate)
		exits = append(exits, exit)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("iterating exit rows", err)
	}
	return exits, nil
}

// CountFilings returns the total number of stored filings.
func (s *Store) CountFilings(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM filings").Scan(&count); err != nil {
		return 0, errors.StorageError("counting filings", err)
	}
	return count, nil
}

// parseStoredDate tolerates both plain dates and the timestamp forms the
// drivers hand back.
func parseStoredDate(value string) time.Time {
	for _, layout := range []string{dateLayout, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
