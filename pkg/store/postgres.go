package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/preview"
)

// PostgresStore persists approvals state in Postgres for deployments
// where more than one daemon shares the same history. The caller opens
// the handle (and imports the driver); see cmd/agentgated.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open handle and migrates the schema.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS previews (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_execution_id TEXT,
			tool TEXT NOT NULL,
			action TEXT NOT NULL,
			summary TEXT,
			detail JSONB,
			original_args JSONB,
			created_at TIMESTAMPTZ,
			hash TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ,
			resolved_at TIMESTAMPTZ,
			resolved_by TEXT,
			auto_reason TEXT,
			feedback_text TEXT,
			feedback_meta JSONB
		);`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id TEXT PRIMARY KEY,
			preview_id TEXT,
			session_id TEXT,
			tool TEXT,
			action TEXT,
			args JSONB,
			created_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS preferences (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT,
			updated_at TIMESTAMPTZ,
			PRIMARY KEY (session_id, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_previews_session ON previews(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_session ON approvals(session_id);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// InsertPreview implements approvals.Store.
func (s *PostgresStore) InsertPreview(ctx context.Context, env *preview.Envelope) error {
	query := `
		INSERT INTO previews (id, session_id, tool_execution_id, tool, action, summary, detail, original_args, created_at, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	detailJSON, _ := json.Marshal(env.Detail)
	argsJSON, _ := json.Marshal(env.OriginalArgs)

	_, err := s.db.ExecContext(ctx, query,
		env.ID, env.SessionID, env.ToolExecutionID, string(env.Tool), env.Action, env.Summary,
		detailJSON, argsJSON, env.CreatedAt.UTC(), env.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert preview: %w", err)
	}
	return nil
}

// GetPreviewByID implements approvals.Store.
func (s *PostgresStore) GetPreviewByID(ctx context.Context, id string) (*preview.Envelope, error) {
	query := `
		SELECT id, session_id, tool_execution_id, tool, action, summary, detail, original_args, created_at, hash
		FROM previews
		WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, id)

	var (
		envID, sessionID, tool, action string
		toolExecutionID                sql.NullString
		summary                        sql.NullString
		detailJSON, argsJSON           []byte
		createdAt                      sql.NullTime
		hash                           sql.NullString
	)
	err := row.Scan(&envID, &sessionID, &toolExecutionID, &tool, &action, &summary, &detailJSON, &argsJSON, &createdAt, &hash)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("preview %s: %w", id, approvals.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	env := &preview.Envelope{
		ID:              envID,
		SessionID:       sessionID,
		ToolExecutionID: toolExecutionID.String,
		Tool:            preview.Tool(tool),
		Action:          action,
		Summary:         summary.String,
		CreatedAt:       createdAt.Time,
		Hash:            hash.String,
	}
	if len(detailJSON) > 0 {
		_ = json.Unmarshal(detailJSON, &env.Detail)
	}
	if len(argsJSON) > 0 {
		_ = json.Unmarshal(argsJSON, &env.OriginalArgs)
	}
	return env, nil
}

// InsertApproval implements approvals.Store.
func (s *PostgresStore) InsertApproval(ctx context.Context, a *approvals.Approval) error {
	query := `
		INSERT INTO approvals (id, session_id, status, created_at, resolved_at, resolved_by, auto_reason, feedback_text, feedback_meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	metaJSON, _ := json.Marshal(a.FeedbackMeta)

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.SessionID, string(a.Status), a.CreatedAt.UTC(), nullTime(a.ResolvedAt),
		a.ResolvedBy, a.AutoReason, a.FeedbackText, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

// GetApprovalByID implements approvals.Store.
func (s *PostgresStore) GetApprovalByID(ctx context.Context, id string) (*approvals.Approval, error) {
	query := `
		SELECT id, session_id, status, created_at, resolved_at, resolved_by, auto_reason, feedback_text, feedback_meta
		FROM approvals
		WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, id)

	a, err := scanPostgresApproval(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval %s: %w", id, approvals.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateApprovalStatus implements approvals.Store.
func (s *PostgresStore) UpdateApprovalStatus(ctx context.Context, id string, status approvals.Status, resolvedBy, autoReason string, resolvedAt *time.Time) error {
	query := `UPDATE approvals SET status = $1, resolved_by = $2, auto_reason = $3, resolved_at = $4 WHERE id = $5`

	res, err := s.db.ExecContext(ctx, query, string(status), resolvedBy, autoReason, nullTime(resolvedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update approval status: %w", err)
	}
	return requireRow(res, id)
}

// UpdateApprovalFeedback implements approvals.Store.
func (s *PostgresStore) UpdateApprovalFeedback(ctx context.Context, id, feedbackText string, feedbackMeta map[string]interface{}) error {
	query := `UPDATE approvals SET feedback_text = $1, feedback_meta = $2 WHERE id = $3`

	metaJSON, _ := json.Marshal(feedbackMeta)
	res, err := s.db.ExecContext(ctx, query, feedbackText, metaJSON, id)
	if err != nil {
		return fmt.Errorf("failed to update approval feedback: %w", err)
	}
	return requireRow(res, id)
}

// ListApprovalsForExport implements approvals.Store.
func (s *PostgresStore) ListApprovalsForExport(ctx context.Context, sessionID string) ([]approvals.Pair, error) {
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
		rows, err = s.db.QueryContext(ctx, query+` WHERE a.session_id = $1 ORDER BY a.created_at ASC, a.id ASC`, sessionID)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var pairs []approvals.Pair
	for rows.Next() {
		var (
			aID, aSession, aStatus string
			aCreated               sql.NullTime
			aResolvedAt            sql.NullTime
			aResolvedBy            sql.NullString
			aAutoReason            sql.NullString
			aFeedbackText          sql.NullString
			aFeedbackMeta          []byte

			pID, pSession, pToolExec, pTool, pAction, pSummary sql.NullString
			pDetail, pArgs                                     []byte
			pCreated                                           sql.NullTime
			pHash                                              sql.NullString
		)
		if err := rows.Scan(
			&aID, &aSession, &aStatus, &aCreated, &aResolvedAt, &aResolvedBy, &aAutoReason, &aFeedbackText, &aFeedbackMeta,
			&pID, &pSession, &pToolExec, &pTool, &pAction, &pSummary, &pDetail, &pArgs, &pCreated, &pHash,
		); err != nil {
			return nil, err
		}

		a := &approvals.Approval{
			ID:           aID,
			SessionID:    aSession,
			Status:       approvals.Status(aStatus),
			CreatedAt:    aCreated.Time,
			ResolvedBy:   aResolvedBy.String,
			AutoReason:   aAutoReason.String,
			FeedbackText: aFeedbackText.String,
		}
		if aResolvedAt.Valid {
			ts := aResolvedAt.Time
			a.ResolvedAt = &ts
		}
		if len(aFeedbackMeta) > 0 {
			_ = json.Unmarshal(aFeedbackMeta, &a.FeedbackMeta)
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
				CreatedAt:       pCreated.Time,
				Hash:            pHash.String,
			}
			if len(pDetail) > 0 {
				_ = json.Unmarshal(pDetail, &env.Detail)
			}
			if len(pArgs) > 0 {
				_ = json.Unmarshal(pArgs, &env.OriginalArgs)
			}
			pair.Preview = env
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// InsertToolExecution implements approvals.Store.
func (s *PostgresStore) InsertToolExecution(ctx context.Context, rec approvals.ToolExecution) error {
	query := `
		INSERT INTO tool_executions (id, preview_id, session_id, tool, action, args, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	argsJSON, _ := json.Marshal(rec.Args)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.PreviewID, rec.SessionID, string(rec.Tool), rec.Action, argsJSON, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tool execution: %w", err)
	}
	return nil
}

// GetPreference implements policy.PreferenceSource.
func (s *PostgresStore) GetPreference(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE session_id = $1 AND key = $2`, sessionID, key)

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
func (s *PostgresStore) SetPreference(ctx context.Context, sessionID, key string, value []byte) error {
	query := `
		INSERT INTO preferences (session_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, sessionID, key, string(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	return nil
}

func scanPostgresApproval(scan scanFn) (*approvals.Approval, error) {
	var (
		id, sessionID, status string
		createdAt             sql.NullTime
		resolvedAt            sql.NullTime
		resolvedBy            sql.NullString
		autoReason            sql.NullString
		feedbackText          sql.NullString
		feedbackMeta          []byte
	)
	if err := scan(&id, &sessionID, &status, &createdAt, &resolvedAt, &resolvedBy, &autoReason, &feedbackText, &feedbackMeta); err != nil {
		return nil, err
	}

	a := &approvals.Approval{
		ID:           id,
		SessionID:    sessionID,
		Status:       approvals.Status(status),
		CreatedAt:    createdAt.Time,
		ResolvedBy:   resolvedBy.String,
		AutoReason:   autoReason.String,
		FeedbackText: feedbackText.String,
	}
	if resolvedAt.Valid {
		ts := resolvedAt.Time
		a.ResolvedAt = &ts
	}
	if len(feedbackMeta) > 0 {
		_ = json.Unmarshal(feedbackMeta, &a.FeedbackMeta)
	}
	return a, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
