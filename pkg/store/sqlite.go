// Copyright 2026 Dancan Sandys
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
)

// Entities are stored as JSON documents per table. Lookup fields are read
// back with json_extract, which keeps the schema one migration away from
// nothing while still letting SQLite index what matters.
var sqliteTables = []string{
	`CREATE TABLE IF NOT EXISTS processes (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stages (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stages_process ON stages (json_extract(data, '$.processId'))`,
	`CREATE TABLE IF NOT EXISTS requirements (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requirements_stage ON requirements (json_extract(data, '$.stageId'))`,
	`CREATE TABLE IF NOT EXISTS log_entries (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_log_entries_stage ON log_entries (json_extract(data, '$.stageId'))`,
	`CREATE TABLE IF NOT EXISTS transition_records (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
}

type sqliteStore struct {
	db *sql.DB
}

var _ Store = (*sqliteStore)(nil)

// NewSQLiteStore opens (and if necessary initializes) the database at dbPath.
func NewSQLiteStore(dbPath string) (Store, error) {
	db, err := sql.Open("sqlite3", buildConnectionString(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range sqliteTables {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &sqliteStore{db: db}, nil
}

func buildConnectionString(dbPath string) string {
	baseParams := "?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_cache_size=-64000"

	if runtime.GOOS == "darwin" {
		baseParams += "&_fullfsync=1"
	}

	return dbPath + baseParams
}

// querier is satisfied by both *sql.DB and *sql.Tx so the store and its
// transactions share one implementation.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlOps struct {
	q querier
}

func insertDoc[T any](ctx context.Context, q querier, table, id string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	_, err = q.ExecContext(ctx, `INSERT INTO `+table+` (id, data) VALUES (?, ?)`, id, data)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	return nil
}

func getDoc[T any](ctx context.Context, q querier, table, id string) (*T, error) {
	var data []byte

	err := q.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", table, id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from %s: %w", table, err)
	}

	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	return v, nil
}

func updateDoc[T any](ctx context.Context, q querier, table, id string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	res, err := q.ExecContext(ctx, `UPDATE `+table+` SET data = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, models.ErrNotFound)
	}

	return nil
}

func findDocs[T any](ctx context.Context, q querier, table, field, value string) ([]*T, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT data FROM `+table+` WHERE json_extract(data, ?) = ?`, "$."+field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}

		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document: %w", err)
		}
		out = append(out, v)
	}

	return out, rows.Err()
}

func (o sqlOps) InsertProcess(ctx context.Context, p *models.ProcessInstance) error {
	return insertDoc(ctx, o.q, "processes", p.ID, p)
}

func (o sqlOps) GetProcess(ctx context.Context, id string) (*models.ProcessInstance, error) {
	return getDoc[models.ProcessInstance](ctx, o.q, "processes", id)
}

func (o sqlOps) FindActiveProcessByBatch(ctx context.Context, batchID string) (*models.ProcessInstance, error) {
	procs, err := findDocs[models.ProcessInstance](ctx, o.q, "processes", "batchId", batchID)
	if err != nil {
		return nil, err
	}

	for _, p := range procs {
		if p.Status != models.ProcessStatusCompleted {
			return p, nil
		}
	}

	return nil, fmt.Errorf("active process for batch %s: %w", batchID, models.ErrNotFound)
}

func (o sqlOps) UpdateProcess(ctx context.Context, p *models.ProcessInstance) error {
	next := *p
	next.Version = p.Version + 1

	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	// Optimistic concurrency: the row must still carry the caller's version.
	res, err := o.q.ExecContext(ctx,
		`UPDATE processes SET data = ? WHERE id = ? AND json_extract(data, '$.version') = ?`,
		data, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("failed to update process: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update process: %w", err)
	}
	if n == 0 {
		if _, getErr := o.GetProcess(ctx, p.ID); getErr != nil {
			return getErr
		}

		return fmt.Errorf("process %s: %w", p.ID, models.ErrVersionConflict)
	}

	p.Version = next.Version

	return nil
}

func (o sqlOps) InsertStage(ctx context.Context, s *models.Stage) error {
	return insertDoc(ctx, o.q, "stages", s.ID, s)
}

func (o sqlOps) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	return getDoc[models.Stage](ctx, o.q, "stages", id)
}

func (o sqlOps) ListStages(ctx context.Context, processID string) ([]*models.Stage, error) {
	stages, err := findDocs[models.Stage](ctx, o.q, "stages", "processId", processID)
	if err != nil {
		return nil, err
	}

	sort.Slice(stages, func(i, j int) bool { return stages[i].SequenceOrder < stages[j].SequenceOrder })

	return stages, nil
}

func (o sqlOps) UpdateStage(ctx context.Context, s *models.Stage) error {
	return updateDoc(ctx, o.q, "stages", s.ID, s)
}

func (o sqlOps) InsertRequirement(ctx context.Context, r *models.MonitoringRequirement) error {
	return insertDoc(ctx, o.q, "requirements", r.ID, r)
}

func (o sqlOps) ListRequirements(ctx context.Context, stageID string) ([]*models.MonitoringRequirement, error) {
	return findDocs[models.MonitoringRequirement](ctx, o.q, "requirements", "stageId", stageID)
}

func (o sqlOps) AppendLogEntry(ctx context.Context, e *models.MonitoringLogEntry) error {
	stage, err := o.GetStage(ctx, e.StageID)
	if err != nil {
		return err
	}
	if stage.Status != models.StageStatusInProgress {
		return fmt.Errorf("stage %s is %s, not in_progress: %w",
			e.StageID, stage.Status, models.ErrInvalidState)
	}

	return insertDoc(ctx, o.q, "log_entries", e.ID, e)
}

func (o sqlOps) ListLogEntries(ctx context.Context, stageID string, since time.Time) ([]*models.MonitoringLogEntry, error) {
	entries, err := findDocs[models.MonitoringLogEntry](ctx, o.q, "log_entries", "stageId", stageID)
	if err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, e := range entries {
		if !e.RecordedAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })

	return out, nil
}

func (o sqlOps) InsertTransitionRecord(ctx context.Context, r *models.TransitionRecord) error {
	return insertDoc(ctx, o.q, "transition_records", r.ID, r)
}

func (o sqlOps) ListTransitionRecords(ctx context.Context, processID string) ([]*models.TransitionRecord, error) {
	records, err := findDocs[models.TransitionRecord](ctx, o.q, "transition_records", "processId", processID)
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })

	return records, nil
}

func (o sqlOps) InsertApproval(ctx context.Context, a *models.ApprovalRequest) error {
	return insertDoc(ctx, o.q, "approvals", a.ID, a)
}

func (o sqlOps) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return getDoc[models.ApprovalRequest](ctx, o.q, "approvals", id)
}

func (o sqlOps) UpdateApproval(ctx context.Context, a *models.ApprovalRequest) error {
	return updateDoc(ctx, o.q, "approvals", a.ID, a)
}

func (o sqlOps) ListPendingApprovals(ctx context.Context, processID string) ([]*models.ApprovalRequest, error) {
	approvals, err := findDocs[models.ApprovalRequest](ctx, o.q, "approvals", "status", models.ApprovalStatusPending)
	if err != nil {
		return nil, err
	}

	out := approvals[:0]
	for _, a := range approvals {
		if processID == "" || a.ProcessID == processID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (s *sqliteStore) ops() sqlOps { return sqlOps{q: s.db} }

func (s *sqliteStore) InsertProcess(ctx context.Context, p *models.ProcessInstance) error {
	return s.ops().InsertProcess(ctx, p)
}

func (s *sqliteStore) GetProcess(ctx context.Context, id string) (*models.ProcessInstance, error) {
	return s.ops().GetProcess(ctx, id)
}

func (s *sqliteStore) FindActiveProcessByBatch(ctx context.Context, batchID string) (*models.ProcessInstance, error) {
	return s.ops().FindActiveProcessByBatch(ctx, batchID)
}

func (s *sqliteStore) UpdateProcess(ctx context.Context, p *models.ProcessInstance) error {
	return s.ops().UpdateProcess(ctx, p)
}

func (s *sqliteStore) InsertStage(ctx context.Context, st *models.Stage) error {
	return s.ops().InsertStage(ctx, st)
}

func (s *sqliteStore) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	return s.ops().GetStage(ctx, id)
}

func (s *sqliteStore) ListStages(ctx context.Context, processID string) ([]*models.Stage, error) {
	return s.ops().ListStages(ctx, processID)
}

func (s *sqliteStore) UpdateStage(ctx context.Context, st *models.Stage) error {
	return s.ops().UpdateStage(ctx, st)
}

func (s *sqliteStore) InsertRequirement(ctx context.Context, r *models.MonitoringRequirement) error {
	return s.ops().InsertRequirement(ctx, r)
}

func (s *sqliteStore) ListRequirements(ctx context.Context, stageID string) ([]*models.MonitoringRequirement, error) {
	return s.ops().ListRequirements(ctx, stageID)
}

func (s *sqliteStore) AppendLogEntry(ctx context.Context, e *models.MonitoringLogEntry) error {
	return s.ops().AppendLogEntry(ctx, e)
}

func (s *sqliteStore) ListLogEntries(ctx context.Context, stageID string, since time.Time) ([]*models.MonitoringLogEntry, error) {
	return s.ops().ListLogEntries(ctx, stageID, since)
}

func (s *sqliteStore) InsertTransitionRecord(ctx context.Context, r *models.TransitionRecord) error {
	return s.ops().InsertTransitionRecord(ctx, r)
}

func (s *sqliteStore) ListTransitionRecords(ctx context.Context, processID string) ([]*models.TransitionRecord, error) {
	return s.ops().ListTransitionRecords(ctx, processID)
}

func (s *sqliteStore) InsertApproval(ctx context.Context, a *models.ApprovalRequest) error {
	return s.ops().InsertApproval(ctx, a)
}

func (s *sqliteStore) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return s.ops().GetApproval(ctx, id)
}

func (s *sqliteStore) UpdateApproval(ctx context.Context, a *models.ApprovalRequest) error {
	return s.ops().UpdateApproval(ctx, a)
}

func (s *sqliteStore) ListPendingApprovals(ctx context.Context, processID string) ([]*models.ApprovalRequest, error) {
	return s.ops().ListPendingApprovals(ctx, processID)
}

func (s *sqliteStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTx{sqlOps: sqlOps{q: tx}, tx: tx}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	sqlOps
	tx *sql.Tx
}

var _ Tx = (*sqliteTx)(nil)

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}
