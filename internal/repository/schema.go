package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"entgo.io/ent/dialect"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
)

// EnsureSchema creates the jobs table and its indexes when missing.
func EnsureSchema(ctx context.Context, db *DB, logger *slog.Logger) error {
	for _, stmt := range schemaStatements(db.Dialect) {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			logger.Error("schema statement failed", "error", err)
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	logger.Info("job schema ready", "dialect", db.Dialect)
	return nil
}

func schemaStatements(d string) []string {
	outputType := "TEXT"
	if d == dialect.Postgres {
		outputType = "JSONB"
	}
	statuses := make([]string, 0, len(constants.AllJobStatuses))
	for _, s := range constants.AllJobStatuses {
		statuses = append(statuses, "'"+string(s)+"'")
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	artifact_ref TEXT NOT NULL,
	status       TEXT NOT NULL CHECK (status IN (` + strings.Join(statuses, ", ") + `)),
	output       ` + outputType + `,
	error        TEXT,
	created_at   BIGINT NOT NULL,
	updated_at   BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS jobs_status_created_at_idx ON jobs (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS jobs_owner_created_at_idx ON jobs (owner_id, created_at)`,
	}
}
