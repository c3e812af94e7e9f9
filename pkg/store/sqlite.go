package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/preview"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists approvals state in a single SQLite database.
// This is the daemon's default backend.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates it.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// database/sql pools connections; a second connection to :memory:
	// would see a different empty database, and concurrent writers fight
	// over the file lock anyway.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing handle and migrates the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS previews (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_execution_id TEXT,
			tool TEXT NOT NULL,
			action TEXT NOT NULL,
			summary TEXT,
			detail JSON,
			original_args JSON,
			created_at DATETIME,
			hash TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME,
			resolved_at DATETIME,
			resolved_by TEXT,
			auto_reason TEXT,
			feedback_text TEXT,
			feedback_meta JSON
		);`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id TEXT PRIMARY KEY,
			preview_id TEXT,
			session_id TEXT,
			tool TEXT,
			action TEXT,
			args JSON,
			created_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS preferences (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT,
			updated_at DATETIME,
			PRIMARY KEY (session_id, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_previews_session ON previews(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_session ON approvals(session_id);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

// InsertPreview implements approvals.Store.
func (s *SQLiteStore) InsertPreview(ctx context.Context, env *preview.Envelope) error {
	query := `INSERT INTO previews (
		id, session_id, tool_execution_id, tool, action, summary, detail, original_args, created_at, hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	detailJSON, _ := json.Marshal(env.Detail)
	argsJSON, _ := json.Marshal(env.OriginalArgs)

	_, err := s.db.ExecContext(ctx, query,
		env.ID, env.SessionID, env.ToolExecutionID, string(env.Tool), env.Action, env.Summary,
		string(detailJSON), string(argsJSON), fmtTime(env.CreatedAt), env.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert preview: %w", err)
	}
	return nil
}

// GetPreviewByID implements approvals.Store.
func (s *SQLiteStore) GetPreviewByID(ctx context.Context, id string) (*preview.Envelope, error) {
	query := `
		SELECT id, session_id, tool_execution_id, tool, action, summary, detail, original_args, created_at, hash
		FROM previews
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)

	env, err := scanPreviewRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("preview %s: %w", id, approvals.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

// InsertApproval implements approvals.Store.
func (s *SQLiteStore) InsertApproval(ctx context.Context, a *approvals.Approval) error {
	query := `INSERT INTO approvals (
		id, session_id, status, created_at, resolved_at, resolved_by, auto_reason, feedback_text, feedback_meta
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	metaJSON, _ := json.Marshal(a.FeedbackMeta)

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.SessionID, string(a.Status), fmtTime(a.CreatedAt), fmtNullTime(a.ResolvedAt),
		a.ResolvedBy, a.AutoReason, a.FeedbackText, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

// GetApprovalByID implements approvals.Store.
func (s *SQLiteStore) GetApprovalByID(ctx context.Context, id string) (*approvals.Approval, error) {
	query := `
		SELECT id, session_id, status, created_at, resolved_at, resolved_by, auto_reason, feedback_text, feedback_meta
		FROM approvals
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)

	a, err := scanApprovalRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval %s: %w", id, approvals.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateApprovalStatus implements approvals.Store.
func (s *SQLiteStore) UpdateApprovalStatus(ctx context.Context, id string, status approvals.Status, resolvedBy, autoReason string, resolvedAt *time.Time) error {
	query := `UPDATE approvals SET status = ?, resolved_by = ?, auto_reason = ?, resolved_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query, string(status), resolvedBy, autoReason, fmtNullTime(resolvedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update approval status: %w", err)
	}
	return requireRow(res, id)
}

// UpdateApprovalFeedback implements approvals.Store.
func (s *SQLiteStore) UpdateApprovalFeedback(ctx context.Context, id, feedbackText string, feedbackMeta map[string]interface{}) error {
	query := `UPDATE approvals SET feedback_text = ?, feedback_meta = ? WHERE id = ?`

	metaJSON, _ := json.Marshal(feedbackMeta)
	res, err := s.db.ExecContext(ctx, query, feedbackText, string(metaJSON), id)
	if err != nil {
		return fmt.Errorf("failed to update approval feedback: %w", err)
	}
	return requireRow(res, id)
}

// ListApprovalsForExport implements approvals.Store.
func (s *SQLiteStore) ListApprovalsForExport(ctx context.Context, sessionID string) ([]approvals.Pair, error) {
	query := `
		SELECT a.id, a.session_id, a.status, a.created_at, a.resolved_at, a.resolved_by, a.auto_reason, a.feedback_text, a.feedback_meta,
		       p.id, p.session_id, p.tool_execution_id, p.tool, p.action, p.summary, p.detail, p.original_args, p.created_at, p.hash
		FROM approvals a
		LEFT JOIN previews p ON p.id = a.id
	`
	var (
		rows *sql.Rows
		err  error
	)
	if sessionID == "" {
		rows, err = s.db.QueryContext(ctx, query+` ORDER BY a.created_at ASC, a.id ASC`)
	} else {
		rows, err = s.db.QueryContext(ctx, query+` WHERE a.session_id = ? ORDER BY a.created_at ASC, a.id ASC`, sessionID)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var pairs []approvals.Pair
	for rows.Next() {
		pair, err := scanPairRow(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// InsertToolExecution implements approvals.Store.
func (s *SQLiteStore) InsertToolExecution(ctx context.Context, rec approvals.ToolExecution) error {
	query := `INSERT INTO tool_executions (id, preview_id, session_id, tool, action, args, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	argsJSON, _ := json.Marshal(rec.Args)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.PreviewID, rec.SessionID, string(rec.Tool), rec.Action, string(argsJSON), fmtTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tool execution: %w", err)
	}
	return nil
}

// GetPreference implements policy.PreferenceSource.
func (s *SQLiteStore) GetPreference(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE session_id = ? AND key = ?`, sessionID, key)

	var value sql.NullString
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(value.String), true, nil
}

// SetPreference implements policy.PreferenceStore.
func (s *SQLiteStore) SetPreference(ctx context.Context, sessionID, key string, value []byte) error {
	query := `INSERT INTO preferences (session_id, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, sessionID, key, string(value), fmtTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	return nil
}

// scanFn abstracts sql.Row.Scan and sql.Rows.Scan.
type scanFn func(dest ...interface{}) error

func scanPreviewRow(scan scanFn) (*preview.Envelope, error) {
	var (
		id, sessionID, tool, action string
		toolExecutionID             sql.NullString
		summary                     sql.NullString
		detailJSON                  sql.NullString
		argsJSON                    sql.NullString
		createdAt                   string
		hash                        sql.NullString
	)
	if err := scan(&id, &sessionID, &toolExecutionID, &tool, &action, &summary, &detailJSON, &argsJSON, &createdAt, &hash); err != nil {
		return nil, err
	}

	env := &preview.Envelope{
		ID:              id,
		SessionID:       sessionID,
		ToolExecutionID: toolExecutionID.String,
		Tool:            preview.Tool(tool),
		Action:          action,
		Summary:         summary.String,
		CreatedAt:       parseTime(createdAt),
		Hash:            hash.String,
	}
	if detailJSON.Valid && detailJSON.String != "" {
		_ = json.Unmarshal([]byte(detailJSON.String), &env.Detail)
	}
	if argsJSON.Valid && argsJSON.String != "" {
		_ = json.Unmarshal([]byte(argsJSON.String), &env.OriginalArgs)
	}
	return env, nil
}

func scanApprovalRow(scan scanFn) (*approvals.Approval, error) {
	var (
		id, sessionID, status string
		createdAt             string
		resolvedAt            sql.NullString
		resolvedBy            sql.NullString
		autoReason            sql.NullString
		feedbackText          sql.NullString
		feedbackMeta          sql.NullString
	)
	if err := scan(&id, &sessionID, &status, &createdAt, &resolvedAt, &resolvedBy, &autoReason, &feedbackText, &feedbackMeta); err != nil {
		return nil, err
	}

	a := &approvals.Approval{
		ID:           id,
		SessionID:    sessionID,
		Status:       approvals.Status(status),
		CreatedAt:    parseTime(createdAt),
		ResolvedBy:   resolvedBy.String,
		AutoReason:   autoReason.String,
		FeedbackText: feedbackText.String,
	}
	if resolvedAt.Valid && resolvedAt.String != "" {
		ts := parseTime(resolvedAt.String)
		a.ResolvedAt = &ts
	}
	if feedbackMeta.Valid && feedbackMeta.String != "" && feedbackMeta.String != "null" {
		_ = json.Unmarshal([]byte(feedbackMeta.String), &a.FeedbackMeta)
	}
	return a, nil
}

func scanPairRow(rows *sql.Rows) (approvals.Pair, error) {
	var (
		aID, aSession, aStatus string
		aCreated               string
		aResolvedAt            sql.NullString
		aResolvedBy            sql.NullString
		aAutoReason            sql.NullString
		aFeedbackText          sql.NullString
		aFeedbackMeta          sql.NullString

		pID, pSession, pToolExec, pTool, pAction, pSummary sql.NullString
		pDetail, pArgs, pCreated, pHash                    sql.NullString
	)
	err := rows.Scan(
		&aID, &aSession, &aStatus, &aCreated, &aResolvedAt, &aResolvedBy, &aAutoReason, &aFeedbackText, &aFeedbackMeta,
		&pID, &pSession, &pToolExec, &pTool, &pAction, &pSummary, &pDetail, &pArgs, &pCreated, &pHash,
	)
	if err != nil {
		return approvals.Pair{}, err
	}

	a := &approvals.Approval{
		ID:           aID,
		SessionID:    aSession,
		Status:       approvals.Status(aStatus),
		CreatedAt:    parseTime(aCreated),
		ResolvedBy:   aResolvedBy.String,
		AutoReason:   aAutoReason.String,
		FeedbackText: aFeedbackText.String,
	}
	if aResolvedAt.Valid && aResolvedAt.String != "" {
		ts := parseTime(aResolvedAt.String)
		a.ResolvedAt = &ts
	}
	if aFeedbackMeta.Valid && aFeedbackMeta.String != "" && aFeedbackMeta.String != "null" {
		_ = json.Unmarshal([]byte(aFeedbackMeta.String), &a.FeedbackMeta)
	}

	pair := approvals.Pair{Approval: a}
	if pID.Valid {
		env := &preview.Envelope{
			ID:              pID.String,
			SessionID:       pSession.String,
			ToolExecutionID: pToolExec.String,
			Tool:            preview.Tool(pTool.String),
			Action:          pAction.String,
			Summary:         pSummary.String,
			CreatedAt:       parseTime(pCreated.String),
			Hash:            pHash.String,
		}
		if pDetail.Valid && pDetail.String != "" {
			_ = json.Unmarshal([]byte(pDetail.String), &env.Detail)
		}
		if pArgs.Valid && pArgs.String != "" {
			_ = json.Unmarshal([]byte(pArgs.String), &env.OriginalArgs)
		}
		pair.Preview = env
	}
	return pair, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("approval %s: %w", id, approvals.ErrNotFound)
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtNullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
