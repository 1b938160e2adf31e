package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/pion/logging"
	"github.com/pressly/goose/v3"

	"github.com/backkem/blemesh/pkg/message"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// File is the database path, or ":memory:".
	File string

	MaxOpenConns int
	MaxIdleConns int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	log logging.LeveledLogger
}

/*
CREATE TABLE IF NOT EXISTS "network_state" (
    "node" INTEGER PRIMARY KEY,
    "seq" INTEGER NOT NULL,
    "iv_index" INTEGER NOT NULL,
    "updated_at" INTEGER NOT NULL
);
*/
type networkStateRow struct {
	Node      uint16 `db:"node"`
	Seq       uint32 `db:"seq"`
	IVIndex   uint32 `db:"iv_index"`
	UpdatedAt int64  `db:"updated_at"`
}

// OpenSQLite opens the database and applies the embedded schema.
func OpenSQLite(config SQLiteConfig) (*SQLiteStore, error) {
	if config.File == "" {
		config.File = ":memory:"
	}

	db, err := sqlx.Open("sqlite", config.File)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", config.File, err)
	}

	// Every connection to :memory: is a separate database.
	if config.File == ":memory:" {
		config.MaxOpenConns = 1
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	s := &SQLiteStore{db: db}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("store")
	}

	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, err
	}
	if s.log != nil {
		s.log.Infof("opened network state database %s", config.File)
	}
	return s, nil
}

func (s *SQLiteStore) applySchema() error {
	goose.SetBaseFS(schemaFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: schema dialect: %w", err)
	}
	if err := goose.Up(s.db.DB, "schema"); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}

// runTx runs fn in a transaction, rolling back if it fails.
func (s *SQLiteStore) runTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LoadNetworkState returns the state stored for node.
func (s *SQLiteStore) LoadNetworkState(node message.Address) (NetworkState, error) {
	var row networkStateRow
	err := s.db.Get(&row, `SELECT node, seq, iv_index, updated_at FROM network_state WHERE node = $1`, uint16(node))
	if errors.Is(err, sql.ErrNoRows) {
		return NetworkState{}, ErrNotFound
	}
	if err != nil {
		return NetworkState{}, fmt.Errorf("store: load %s: %w", node, err)
	}
	return NetworkState{
		SequenceNumber: row.Seq,
		IVIndex:        row.IVIndex,
		UpdatedAt:      time.UnixMilli(row.UpdatedAt),
	}, nil
}

// SaveNetworkState stores or replaces the state of node.
func (s *SQLiteStore) SaveNetworkState(node message.Address, state NetworkState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	err := s.runTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO network_state (node, seq, iv_index, updated_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT(node) DO UPDATE SET
				seq = excluded.seq,
				iv_index = excluded.iv_index,
				updated_at = excluded.updated_at`,
			uint16(node), state.SequenceNumber, state.IVIndex, state.UpdatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: save %s: %w", node, err)
	}
	if s.log != nil {
		s.log.Tracef("saved %s seq=%d iv=%d", node, state.SequenceNumber, state.IVIndex)
	}
	return nil
}

// DeleteNetworkState removes the state of node.
func (s *SQLiteStore) DeleteNetworkState(node message.Address) error {
	return s.runTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`DELETE FROM network_state WHERE node = $1`, uint16(node))
		return err
	})
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
