package sql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bcnelson/stack-traffic-manager/internal/directory"
	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/bcnelson/stack-traffic-manager/internal/records"
	"github.com/bcnelson/stack-traffic-manager/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var (
	_ storage.Storage     = (*Store)(nil)
	_ directory.Directory = (*Store)(nil)
	_ records.Store       = (*Store)(nil)
)

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store and runs the embedded migrations.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if driver == "sqlite3" {
		// One writer keeps SQLite from returning SQLITE_BUSY under concurrent batches.
		db.SetMaxOpenConns(1)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_by, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedBy, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := s.db.GetContext(ctx, &key,
		`SELECT id, name, key_hash, key_prefix, created_by, created_at, last_used_at FROM api_keys WHERE key_hash = $1`, keyHash)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := s.db.SelectContext(ctx, &keys,
		`SELECT id, name, key_hash, key_prefix, created_by, created_at, last_used_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

// ============================================
// Version inventory
// ============================================

func (s *Store) RegisterVersion(ctx context.Context, v *domain.StackVersion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stack_versions (application, version, domain, endpoint, stack_name, registered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (application, version) DO UPDATE SET
		   domain = excluded.domain, endpoint = excluded.endpoint, stack_name = excluded.stack_name`,
		v.Application, v.Version, domain.NormalizeDomain(v.Domain), v.Endpoint, v.StackName, time.Now())
	return err
}

func (s *Store) DeregisterVersion(ctx context.Context, application, version string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM stack_versions WHERE application = $1 AND version = $2`, application, version)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListVersions(ctx context.Context, application string) ([]domain.StackVersion, error) {
	var versions []domain.StackVersion
	err := s.db.SelectContext(ctx, &versions,
		`SELECT application, version, domain, endpoint, stack_name FROM stack_versions
		 WHERE application = $1 ORDER BY version`, application)
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// ============================================
// Weighted zone
// ============================================

// recordRow is the database form of a weighted record.
type recordRow struct {
	Identifier string         `db:"identifier"`
	DNSName    string         `db:"dns_name"`
	Type       string         `db:"record_type"`
	TTL        int64          `db:"ttl"`
	Weight     int            `db:"weight"`
	Values     string         `db:"record_values"`
	Alias      sql.NullString `db:"alias"`
}

func (r recordRow) toDomain() (domain.WeightedRecord, error) {
	rec := domain.WeightedRecord{
		Identifier: r.Identifier,
		DNSName:    r.DNSName,
		Type:       r.Type,
		TTL:        r.TTL,
		Weight:     r.Weight,
	}
	if err := json.Unmarshal([]byte(r.Values), &rec.Values); err != nil {
		return rec, fmt.Errorf("decoding values of record %s: %w", r.Identifier, err)
	}
	if r.Alias.Valid {
		rec.Alias = &domain.AliasTarget{}
		if err := json.Unmarshal([]byte(r.Alias.String), rec.Alias); err != nil {
			return rec, fmt.Errorf("decoding alias of record %s: %w", r.Identifier, err)
		}
	}
	return rec, nil
}

func serial(ctx context.Context, db dbInterface, name string) (int64, error) {
	var n int64
	err := db.GetContext(ctx, &n, `SELECT serial FROM zones WHERE domain = $1`, name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

func readRecords(ctx context.Context, db dbInterface, name string) ([]domain.WeightedRecord, error) {
	var rows []recordRow
	err := db.SelectContext(ctx, &rows,
		`SELECT identifier, dns_name, record_type, ttl, weight, record_values, alias
		 FROM zone_records WHERE domain = $1 ORDER BY position, identifier`, name)
	if err != nil {
		return nil, err
	}
	recs := make([]domain.WeightedRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Store) ReadRecords(ctx context.Context, domainName string) (*domain.RecordSet, error) {
	name := domain.NormalizeDomain(domainName)
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: s.driver != "sqlite3"})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := serial(ctx, tx, name)
	if err != nil {
		return nil, fmt.Errorf("reading zone serial: %w", err)
	}
	recs, err := readRecords(ctx, tx, name)
	if err != nil {
		return nil, fmt.Errorf("reading zone records: %w", err)
	}
	return &domain.RecordSet{
		Domain:   name,
		Records:  recs,
		Revision: strconv.FormatInt(n, 10),
	}, nil
}

// ApplyChanges applies the batch in one transaction. The serial bump is a
// conditional update, so concurrent writers holding the same revision see
// exactly one success.
func (s *Store) ApplyChanges(ctx context.Context, batch *domain.ChangeBatch) (string, error) {
	name := domain.NormalizeDomain(batch.Domain)
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO zones (domain, serial, updated_at) VALUES ($1, 0, $2) ON CONFLICT (domain) DO NOTHING`,
		name, now); err != nil {
		return "", fmt.Errorf("ensuring zone %s: %w", name, err)
	}

	var result sql.Result
	if batch.Revision != "" {
		expected, err := strconv.ParseInt(batch.Revision, 10, 64)
		if err != nil {
			return "", fmt.Errorf("zone %s revision %q: %w", name, batch.Revision, domain.ErrRevisionMismatch)
		}
		result, err = tx.ExecContext(ctx,
			`UPDATE zones SET serial = serial + 1, updated_at = $1 WHERE domain = $2 AND serial = $3`,
			now, name, expected)
		if err != nil {
			return "", err
		}
	} else {
		result, err = tx.ExecContext(ctx,
			`UPDATE zones SET serial = serial + 1, updated_at = $1 WHERE domain = $2`, now, name)
		if err != nil {
			return "", err
		}
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return "", fmt.Errorf("zone %s: %w", name, domain.ErrRevisionMismatch)
	}

	for _, c := range batch.Changes {
		if err := applyChange(ctx, tx, name, c); err != nil {
			return "", err
		}
	}

	n, err := serial(ctx, tx, name)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func applyChange(ctx context.Context, db dbInterface, name string, c domain.Change) error {
	rec := c.Record
	values, err := json.Marshal(rec.Values)
	if err != nil {
		return err
	}
	var alias sql.NullString
	if rec.Alias != nil {
		b, err := json.Marshal(rec.Alias)
		if err != nil {
			return err
		}
		alias = sql.NullString{String: string(b), Valid: true}
	}

	switch c.Action {
	case domain.ChangeCreate:
		_, err = db.ExecContext(ctx,
			`INSERT INTO zone_records (domain, identifier, position, dns_name, record_type, ttl, weight, record_values, alias)
			 VALUES ($1, $2, (SELECT COALESCE(MAX(position), -1) + 1 FROM zone_records WHERE domain = $1), $3, $4, $5, $6, $7, $8)`,
			name, rec.Identifier, rec.DNSName, rec.Type, rec.TTL, rec.Weight, string(values), alias)
		if err = wrapUniqueError(err); err != nil {
			return fmt.Errorf("record %s: %w", rec.Identifier, err)
		}
	case domain.ChangeUpsert:
		_, err = db.ExecContext(ctx,
			`INSERT INTO zone_records (domain, identifier, position, dns_name, record_type, ttl, weight, record_values, alias)
			 VALUES ($1, $2, (SELECT COALESCE(MAX(position), -1) + 1 FROM zone_records WHERE domain = $1), $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (domain, identifier) DO UPDATE SET
			   dns_name = excluded.dns_name, record_type = excluded.record_type, ttl = excluded.ttl,
			   weight = excluded.weight, record_values = excluded.record_values, alias = excluded.alias`,
			name, rec.Identifier, rec.DNSName, rec.Type, rec.TTL, rec.Weight, string(values), alias)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.Identifier, err)
		}
	default:
		return fmt.Errorf("%w: unsupported change action %q", domain.ErrInvalidInput, c.Action)
	}
	return nil
}
