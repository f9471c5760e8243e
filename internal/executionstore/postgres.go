package executionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/jackc/pgx/v5"

	commondb "github.com/celerity/runtime-go/common/db"
	"github.com/celerity/runtime-go/common/logger"
	"github.com/celerity/runtime-go/internal/workflow"
)

// PostgresStore persists the latest execution snapshot per id in
// workflow_executions, and a seq-numbered RFC6902 diff against the
// previous snapshot in workflow_execution_patches on every update,
// grounded on the teacher's run_patches repository
// (cmd/orchestrator/repository/run_patch.go) and its
// evanphx/json-patch/v5 use in cmd/orchestrator/service/materializer.go.
type PostgresStore struct {
	db  *commondb.DB
	log *logger.Logger
}

func NewPostgresStore(db *commondb.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// SaveWorkflowExecution upserts the full snapshot and, when a previous
// snapshot existed, appends the JSON Patch that transforms it into the
// new one.
func (s *PostgresStore) SaveWorkflowExecution(id string, payload workflow.Execution) error {
	ctx := context.Background()
	newJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal execution %q: %w", id, err)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldJSON []byte
	err = tx.QueryRow(ctx, `SELECT snapshot FROM workflow_executions WHERE id = $1`, id).Scan(&oldJSON)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx,
			`INSERT INTO workflow_executions (id, snapshot, updated_at) VALUES ($1, $2, now())`,
			id, newJSON); err != nil {
			return fmt.Errorf("insert execution snapshot %q: %w", id, err)
		}
	case err != nil:
		return fmt.Errorf("load existing snapshot %q: %w", id, err)
	default:
		patch, err := jsonpatch.CreatePatch(oldJSON, newJSON)
		if err != nil {
			return fmt.Errorf("diff execution %q: %w", id, err)
		}
		patchJSON, err := json.Marshal(patch)
		if err != nil {
			return fmt.Errorf("marshal patch for execution %q: %w", id, err)
		}

		var nextSeq int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM workflow_execution_patches WHERE execution_id = $1`,
			id).Scan(&nextSeq); err != nil {
			return fmt.Errorf("get next patch seq for execution %q: %w", id, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO workflow_execution_patches (execution_id, seq, patch, created_at) VALUES ($1, $2, $3, now())`,
			id, nextSeq, patchJSON); err != nil {
			return fmt.Errorf("insert patch for execution %q: %w", id, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE workflow_executions SET snapshot = $2, updated_at = now() WHERE id = $1`,
			id, newJSON); err != nil {
			return fmt.Errorf("update execution snapshot %q: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit execution save %q: %w", id, err)
	}
	return nil
}

// GetWorkflowExecution returns the latest persisted snapshot for id.
func (s *PostgresStore) GetWorkflowExecution(id string) (workflow.Execution, error) {
	ctx := context.Background()
	var snapshot []byte
	err := s.db.Pool.QueryRow(ctx, `SELECT snapshot FROM workflow_executions WHERE id = $1`, id).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.Execution{}, fmt.Errorf("execution %q not found", id)
	}
	if err != nil {
		return workflow.Execution{}, fmt.Errorf("load execution %q: %w", id, err)
	}

	var exec workflow.Execution
	if err := json.Unmarshal(snapshot, &exec); err != nil {
		return workflow.Execution{}, fmt.Errorf("unmarshal execution %q: %w", id, err)
	}
	return exec, nil
}

// PatchHistory returns the ordered sequence of RFC6902 patches recorded
// for id, for audit/debugging purposes.
func (s *PostgresStore) PatchHistory(ctx context.Context, id string) ([]json.RawMessage, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT patch FROM workflow_execution_patches WHERE execution_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("load patch history for execution %q: %w", id, err)
	}
	defer rows.Close()

	var patches []json.RawMessage
	for rows.Next() {
		var patch json.RawMessage
		if err := rows.Scan(&patch); err != nil {
			return nil, fmt.Errorf("scan patch row for execution %q: %w", id, err)
		}
		patches = append(patches, patch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patch history for execution %q: %w", id, err)
	}
	return patches, nil
}
