package runner

import (
	"context"
	"fmt"

	"github.com/weftdata/weft/pkg/database"
	"github.com/weftdata/weft/pkg/model"
)

const ledgerTable = "weft_runs"

const ledgerDDL = `
	CREATE TABLE IF NOT EXISTS weft_runs (
		run_id      uuid        not null,
		identity    text        not null,
		status      text        not null,
		row_count   integer     not null default 0,
		duration_ms bigint      not null default 0,
		error       text,
		finished_at timestamptz not null default now()
	)
`

// recordRun appends one ledger row per node so past runs stay inspectable
// from the destination database itself.
func recordRun(ctx context.Context, db *database.DB, report *model.RunReport) error {
	if _, err := db.Exec(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("ensure %s: %w", ledgerTable, err)
	}

	const insert = `
		INSERT INTO weft_runs (run_id, identity, status, row_count, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, res := range report.Results {
		var errText *string
		if res.Err != nil {
			msg := res.Err.Error()
			errText = &msg
		}
		_, err := db.Exec(ctx, insert,
			report.RunID, res.Identity, string(res.Status), res.Rows,
			res.Duration.Milliseconds(), errText)
		if err != nil {
			return fmt.Errorf("record %s: %w", res.Identity, err)
		}
	}
	return nil
}
