package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/model"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so stored timestamps sort as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqlDialect struct {
	driver string
	schema []string
}

var dialects = map[string]sqlDialect{
	"postgres": {
		driver: "postgres",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS contracts (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				uploaded_by_user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				storage_key TEXT NOT NULL UNIQUE,
				mime_type TEXT NOT NULL,
				size_bytes BIGINT NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				analysis_results JSONB,
				analysis_error TEXT,
				title TEXT,
				counterparty TEXT,
				contract_type TEXT,
				risk_level TEXT,
				value TEXT,
				effective_date DATE,
				expiry_date DATE,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS contracts_org_created_idx ON contracts (organization_id, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS contracts_status_updated_idx ON contracts (status, updated_at)`,
		},
	},
	"sqlite": {
		driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS contracts (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				uploaded_by_user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				storage_key TEXT NOT NULL UNIQUE,
				mime_type TEXT NOT NULL,
				size_bytes INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				analysis_results TEXT,
				analysis_error TEXT,
				title TEXT,
				counterparty TEXT,
				contract_type TEXT,
				risk_level TEXT,
				value TEXT,
				effective_date TEXT,
				expiry_date TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS contracts_org_created_idx ON contracts (organization_id, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS contracts_status_updated_idx ON contracts (status, updated_at)`,
		},
	},
}

const contractColumns = `id, organization_id, uploaded_by_user_id, name, storage_key, mime_type, size_bytes,
	status, analysis_results, analysis_error, title, counterparty, contract_type, risk_level, value,
	effective_date, expiry_date, created_at, updated_at`

// SQLContractStore is the ContractStore over database/sql, for PostgreSQL
// (lib/pq) and SQLite (modernc.org/sqlite).
type SQLContractStore struct {
	db      *sql.DB
	dialect sqlDialect
	now     func() time.Time
}

// OpenSQLContractStore opens cfg.DSN with the configured driver and
// migrates the schema.
func OpenSQLContractStore(ctx context.Context, cfg *config.StoreConfig) (*SQLContractStore, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		// single writer; also keeps a :memory: database alive across calls
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	store, err := NewSQLContractStore(ctx, db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("contract store initialized", "driver", cfg.Driver)
	return store, nil
}

// NewSQLContractStore wraps an open database and migrates the schema.
func NewSQLContractStore(ctx context.Context, db *sql.DB, driver string) (*SQLContractStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	s := &SQLContractStore{db: db, dialect: d, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate contracts schema: %w", err)
	}
	return s, nil
}

func (s *SQLContractStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $N for PostgreSQL.
func (s *SQLContractStore) rebind(query string) string {
	if s.dialect.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLContractStore) timeArg(t time.Time) any {
	if s.dialect.driver == "sqlite" {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

func (s *SQLContractStore) dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	if s.dialect.driver == "sqlite" {
		return t.Format(model.DateLayout)
	}
	return *t
}

func (s *SQLContractStore) Create(ctx context.Context, c *model.Contract) error {
	results, err := encodeResults(c.AnalysisResults)
	if err != nil {
		return err
	}

	query := s.rebind(`INSERT INTO contracts (` + contractColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.OrganizationID, c.UploadedByUserID, c.Name, c.StorageKey, c.MIMEType, c.SizeBytes,
		string(c.Status), results, c.AnalysisError, c.Title, c.Counterparty, c.ContractType, c.RiskLevel, c.Value,
		s.dateArg(c.EffectiveDate), s.dateArg(c.ExpiryDate), s.timeArg(c.CreatedAt), s.timeArg(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert contract: %w", err)
	}
	return nil
}

func (s *SQLContractStore) Get(ctx context.Context, tenantID, id string) (*model.Contract, error) {
	query := s.rebind(`SELECT ` + contractColumns + ` FROM contracts WHERE id = ? AND organization_id = ?`)
	return s.queryOne(ctx, query, id, tenantID)
}

func (s *SQLContractStore) GetByID(ctx context.Context, id string) (*model.Contract, error) {
	query := s.rebind(`SELECT ` + contractColumns + ` FROM contracts WHERE id = ?`)
	return s.queryOne(ctx, query, id)
}

func (s *SQLContractStore) List(ctx context.Context, tenantID string) ([]*model.Contract, error) {
	query := s.rebind(`SELECT ` + contractColumns + ` FROM contracts
		WHERE organization_id = ? ORDER BY created_at DESC, id DESC`)
	return s.queryMany(ctx, query, tenantID)
}

func (s *SQLContractStore) ListProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.Contract, error) {
	query := s.rebind(`SELECT ` + contractColumns + ` FROM contracts
		WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`)
	return s.queryMany(ctx, query, string(model.StatusProcessing), s.timeArg(updatedBefore), limit)
}

func (s *SQLContractStore) MarkActive(ctx context.Context, id string, result *model.AnalysisResult) error {
	var c model.Contract
	c.ApplyResult(result, s.now())

	results, err := encodeResults(result)
	if err != nil {
		return err
	}

	query := s.rebind(`UPDATE contracts SET status = ?, analysis_results = ?, analysis_error = NULL,
		title = ?, counterparty = ?, contract_type = ?, risk_level = ?, value = ?,
		effective_date = ?, expiry_date = ?, updated_at = ?
		WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(model.StatusActive), results,
		c.Title, c.Counterparty, c.ContractType, c.RiskLevel, c.Value,
		s.dateArg(c.EffectiveDate), s.dateArg(c.ExpiryDate), s.timeArg(c.UpdatedAt),
		id, string(model.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark contract active: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

func (s *SQLContractStore) MarkFailed(ctx context.Context, id, diagnostic string) error {
	query := s.rebind(`UPDATE contracts SET status = ?, analysis_results = NULL, analysis_error = ?, updated_at = ?
		WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(model.StatusFailed), diagnostic, s.timeArg(s.now()),
		id, string(model.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark contract failed: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// checkTransition tells a missing record apart from a settled one when a
// conditional update touched no rows.
func (s *SQLContractStore) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT status FROM contracts WHERE id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrNotProcessing
}

func (s *SQLContractStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM contracts WHERE id = ? AND organization_id = ?`), id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete contract: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLContractStore) Close() error {
	return s.db.Close()
}

func (s *SQLContractStore) queryOne(ctx context.Context, query string, args ...any) (*model.Contract, error) {
	c, err := scanContract(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLContractStore) queryMany(ctx context.Context, query string, args ...any) ([]*model.Contract, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	contracts := []*model.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contracts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*model.Contract, error) {
	var (
		c       model.Contract
		status  string
		results []byte
		created *time.Time
		updated *time.Time
	)
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.UploadedByUserID, &c.Name, &c.StorageKey, &c.MIMEType, &c.SizeBytes,
		&status, &results, &c.AnalysisError, &c.Title, &c.Counterparty, &c.ContractType, &c.RiskLevel, &c.Value,
		timeScanner{&c.EffectiveDate}, timeScanner{&c.ExpiryDate}, timeScanner{&created}, timeScanner{&updated},
	)
	if err != nil {
		return nil, err
	}

	c.Status = model.Status(status)
	if created != nil {
		c.CreatedAt = *created
	}
	if updated != nil {
		c.UpdatedAt = *updated
	}
	if len(results) > 0 {
		var r model.AnalysisResult
		if err := json.Unmarshal(results, &r); err != nil {
			return nil, fmt.Errorf("failed to decode analysis results for %s: %w", c.ID, err)
		}
		c.AnalysisResults = &r
	}
	return &c, nil
}

func encodeResults(r *model.AnalysisResult) (any, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis results: %w", err)
	}
	return string(data), nil
}

// timeScanner reads timestamps and dates stored either natively or as
// text.
type timeScanner struct {
	dst **time.Time
}

func (ts timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts.dst = nil
		return nil
	case time.Time:
		t := v.UTC()
		*ts.dst = &t
		return nil
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	}
	return fmt.Errorf("unsupported time value %T", src)
}

func (ts timeScanner) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, model.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			*ts.dst = &t
			return nil
		}
	}
	return fmt.Errorf("unparsable time %q", s)
}
