// Package reorgstore implements the reorg-tracking store (C5): shadow
// tables, capture triggers, and the revert/finalize operations that let the
// indexing executor (C6) keep user tables consistent across a reorg.
//
// Schema is consumed as a declarative TableSchema list (SPEC_FULL.md §6's
// "schema interface"); this package derives the shadow DDL and trigger DDL
// from it rather than from any fixed Go struct, which is why it talks to
// database/sql directly instead of through meddler: meddler maps a table to
// one known Go struct, but shadow tables here are generic over whatever
// columns the caller declares.
package reorgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ordinalworks/chainweave/internal/db"
	"github.com/ordinalworks/chainweave/internal/engerrs"
	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
)

// Mode selects the transaction discipline C6 uses around a Store. It has no
// effect on shadow schema shape, only on how callers size/time transactions.
type Mode int

const (
	Historical Mode = iota
	Realtime
)

// TableSchema declares one user table's shape to the store: its name,
// column list (in declaration order, used for every generated DDL/DML
// statement) and primary key column subset.
type TableSchema struct {
	Name       string
	Columns    []string
	PrimaryKey []string
}

func shadowTableName(t string) string { return "_reorg_" + t }

const ponderCheckpointTable = "PONDER_CHECKPOINT"
const ponderMetaTable = "PONDER_META"

// Store owns the shadow tables, triggers and checkpoint bookkeeping for a
// fixed set of user tables under one namespace.
type Store struct {
	db        *sql.DB
	log       *logger.Logger
	tables    []TableSchema
	maint     db.Maintenance
	namespace string
}

// New creates a Store. namespace distinguishes PONDER_CHECKPOINT rows when
// multiple indexers share one database.
func New(sqlDB *sql.DB, tables []TableSchema, maint db.Maintenance, log *logger.Logger, namespace string) *Store {
	return &Store{
		db:        sqlDB,
		log:       log.WithComponent("reorg-store"),
		tables:    tables,
		maint:     maint,
		namespace: namespace,
	}
}

// EnsureSchema creates every shadow table, the checkpoint/meta tables and
// the capture triggers if they do not already exist. Called once at engine
// start after user-schema migration.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &engerrs.NonRetryableEngine{Reason: "begin schema setup", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			namespace TEXT PRIMARY KEY,
			safe_checkpoint TEXT NOT NULL,
			latest_checkpoint TEXT NOT NULL
		)`, ponderCheckpointTable)); err != nil {
		return &engerrs.NonRetryableEngine{Reason: "create PONDER_CHECKPOINT", Err: err}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (build_id TEXT PRIMARY KEY)`, ponderMetaTable)); err != nil {
		return &engerrs.NonRetryableEngine{Reason: "create PONDER_META", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (namespace, safe_checkpoint, latest_checkpoint) VALUES (?, ?, ?)`, ponderCheckpointTable),
		s.namespace, string(checkpoint.Zero), string(checkpoint.Zero)); err != nil {
		return &engerrs.NonRetryableEngine{Reason: "seed PONDER_CHECKPOINT row", Err: err}
	}

	for _, t := range s.tables {
		if err := s.createShadowTableTx(ctx, tx, t); err != nil {
			return err
		}
		if err := s.createTriggersTx(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &engerrs.NonRetryableEngine{Reason: "commit schema setup", Err: err}
	}
	return nil
}

func (s *Store) createShadowTableTx(ctx context.Context, tx *sql.Tx, t TableSchema) error {
	var cols strings.Builder
	for _, c := range t.Columns {
		fmt.Fprintf(&cols, "%s ANY, ", c)
	}
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			operation_id INTEGER PRIMARY KEY AUTOINCREMENT,
			%s
			operation INTEGER NOT NULL,
			checkpoint TEXT NOT NULL
		)`, shadowTableName(t.Name), cols.String())
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("create shadow table for %s", t.Name), Err: err}
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_checkpoint ON %s (checkpoint)`, shadowTableName(t.Name), shadowTableName(t.Name))
	if _, err := tx.ExecContext(ctx, idx); err != nil {
		return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("create shadow index for %s", t.Name), Err: err}
	}
	return nil
}

// createTriggersTx installs the three AFTER triggers described in
// SPEC_FULL.md §4.5: every mutation of T is captured into _reorg_T stamped
// with MAX_CHECKPOINT until a later Stamp rewrites it.
func (s *Store) createTriggersTx(ctx context.Context, tx *sql.Tx, t TableSchema) error {
	colList := strings.Join(t.Columns, ", ")

	insertTrigger := fmt.Sprintf(
		`CREATE TRIGGER IF NOT EXISTS %s
		AFTER INSERT ON %s FOR EACH ROW
		BEGIN
			INSERT INTO %s (%s, operation, checkpoint)
			VALUES (%s, 0, '%s');
		END`,
		triggerName(t.Name, "insert"), t.Name, shadowTableName(t.Name), colList,
		newPrefixed(t.Columns), string(checkpoint.Max))

	updateTrigger := fmt.Sprintf(
		`CREATE TRIGGER IF NOT EXISTS %s
		AFTER UPDATE ON %s FOR EACH ROW
		BEGIN
			INSERT INTO %s (%s, operation, checkpoint)
			VALUES (%s, 1, '%s');
		END`,
		triggerName(t.Name, "update"), t.Name, shadowTableName(t.Name), colList,
		oldPrefixed(t.Columns), string(checkpoint.Max))

	deleteTrigger := fmt.Sprintf(
		`CREATE TRIGGER IF NOT EXISTS %s
		AFTER DELETE ON %s FOR EACH ROW
		BEGIN
			INSERT INTO %s (%s, operation, checkpoint)
			VALUES (%s, 2, '%s');
		END`,
		triggerName(t.Name, "delete"), t.Name, shadowTableName(t.Name), colList,
		oldPrefixed(t.Columns), string(checkpoint.Max))

	for _, stmt := range []string{insertTrigger, updateTrigger, deleteTrigger} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("create trigger for %s", t.Name), Err: err}
		}
	}
	return nil
}

func triggerName(table, op string) string { return fmt.Sprintf("_reorg_trg_%s_%s", table, op) }

func newPrefixed(cols []string) string { return prefixed("NEW", cols) }
func oldPrefixed(cols []string) string { return prefixed("OLD", cols) }

func prefixed(alias string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}

// DropTriggers removes every capture trigger. Used to bracket a revert so
// the restorative writes don't themselves populate the shadow tables.
func (s *Store) DropTriggers(ctx context.Context, tx *sql.Tx) error {
	for _, t := range s.tables {
		for _, op := range []string{"insert", "update", "delete"} {
			stmt := fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(t.Name, op))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("drop trigger for %s", t.Name), Err: err}
			}
		}
	}
	return nil
}

// RecreateTriggers restores every capture trigger dropped by DropTriggers.
func (s *Store) RecreateTriggers(ctx context.Context, tx *sql.Tx) error {
	for _, t := range s.tables {
		if err := s.createTriggersTx(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}
