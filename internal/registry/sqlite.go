package registry

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type (
	// SQLite stores records in a single table whose primary key is
	// (network, node); the insert itself is the compare-and-swap.
	SQLite struct {
		db *sqlx.DB
	}

	recordRow struct {
		Network         string `db:"network"`
		Node            string `db:"node"`
		Artifact        string `db:"artifact"`
		Address         string `db:"address"`
		Args            string `db:"args"`
		TransactionHash string `db:"transaction_hash"`
		BlockNumber     int64  `db:"block_number"`
		CreatedAt       string `db:"created_at"`
		PendingCalls    int    `db:"pending_calls"`
	}
)

const (
	insertRecord = `
		INSERT INTO records (
			network, node, artifact, address, args, transaction_hash, block_number, created_at, pending_calls
		) VALUES (
			:network, :node, :artifact, :address, :args, :transaction_hash, :block_number, :created_at, :pending_calls
		)`

	upsertSuffix = `
		ON CONFLICT (network, node) DO UPDATE SET
			artifact = excluded.artifact,
			address = excluded.address,
			args = excluded.args,
			transaction_hash = excluded.transaction_hash,
			block_number = excluded.block_number,
			created_at = excluded.created_at,
			pending_calls = excluded.pending_calls`

	selectColumns = `network, node, artifact, address, args, transaction_hash, block_number, created_at, pending_calls`
)

// NewSQLite opens the database at dsn and runs the embedded migrations. Use
// ":memory:" for a throwaway registry.
func NewSQLite(dsn string) (*SQLite, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	db, err := sqlx.Open("sqlite3", dsn+sep+"_busy_timeout=5000")
	if err != nil {
		return nil, newError("open", "", "", errors.Join(ErrStorage, err))
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, newError("open", "", "", errors.Join(ErrStorage, fmt.Errorf("failed to ping database: %w", err)))
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, newError("open", "", "", errors.Join(ErrStorage, err))
	}

	return &SQLite{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *SQLite) Lookup(ctx context.Context, network, node string) (Record, bool, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+selectColumns+` FROM records WHERE network = ? AND node = ?`, network, node)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, newError("lookup", network, node, errors.Join(ErrStorage, err))
	}

	rec, err := row.toRecord()
	if err != nil {
		return Record{}, false, newError("lookup", network, node, err)
	}

	return rec, true, nil
}

func (s *SQLite) Record(ctx context.Context, rec Record, force bool) error {
	if err := rec.validate(); err != nil {
		return err
	}

	row, err := fromRecord(rec)
	if err != nil {
		return newError("record", rec.Network, rec.Node, err)
	}

	query := insertRecord
	if force {
		query += upsertSuffix
	}

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if isConstraintViolation(err) {
			return newError("record", rec.Network, rec.Node, ErrDuplicateRecord)
		}
		return newError("record", rec.Network, rec.Node, errors.Join(ErrStorage, err))
	}

	return nil
}

func (s *SQLite) Forget(ctx context.Context, network, node string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE network = ? AND node = ?`, network, node)
	if err != nil {
		return newError("forget", network, node, errors.Join(ErrStorage, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return newError("forget", network, node, errors.Join(ErrStorage, err))
	}
	if n == 0 {
		return newError("forget", network, node, ErrNotFound)
	}

	return nil
}

func (s *SQLite) List(ctx context.Context, network string) ([]Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+selectColumns+` FROM records WHERE network = ? ORDER BY node`, network)
	if err != nil {
		return nil, newError("list", network, "", errors.Join(ErrStorage, err))
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, newError("list", network, row.Node, err)
		}
		out = append(out, rec)
	}

	return out, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func fromRecord(rec Record) (recordRow, error) {
	args := rec.Args
	if args == nil {
		args = []any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return recordRow{}, fmt.Errorf("%w: failed to serialize args: %v", ErrInvalidRecord, err)
	}

	return recordRow{
		Network:         rec.Network,
		Node:            rec.Node,
		Artifact:        rec.Artifact,
		Address:         rec.Address.Hex(),
		Args:            string(argsJSON),
		TransactionHash: rec.TransactionHash.Hex(),
		BlockNumber:     int64(rec.Block),
		CreatedAt:       rec.Timestamp.UTC().Format(time.RFC3339Nano),
		PendingCalls:    rec.PendingCalls,
	}, nil
}

func (r recordRow) toRecord() (Record, error) {
	var args []any
	if err := json.Unmarshal([]byte(r.Args), &args); err != nil {
		return Record{}, errors.Join(ErrStorage, fmt.Errorf("failed to parse args: %w", err))
	}

	ts, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return Record{}, errors.Join(ErrStorage, fmt.Errorf("failed to parse timestamp: %w", err))
	}

	return Record{
		Network:         r.Network,
		Node:            r.Node,
		Artifact:        r.Artifact,
		Address:         common.HexToAddress(r.Address),
		Args:            args,
		TransactionHash: common.HexToHash(r.TransactionHash),
		Block:           uint64(r.BlockNumber),
		Timestamp:       ts,
		PendingCalls:    r.PendingCalls,
	}, nil
}
