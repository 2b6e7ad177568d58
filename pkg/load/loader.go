// Package load persists result sets into PostgreSQL with create-or-replace
// semantics.
package load

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/weftdata/weft/pkg/apperrors"
	"github.com/weftdata/weft/pkg/database"
	"github.com/weftdata/weft/pkg/model"
)

// Loader writes result sets to destination tables. Writes to the same table
// are serialized with a per-table lock; different tables load concurrently
// over the shared pool.
type Loader struct {
	db     *database.DB
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a loader over the destination pool.
func New(db *database.DB, logger *zap.Logger) *Loader {
	return &Loader{
		db:     db,
		logger: logger.Named("load"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Load creates the destination table if absent, reconciles schema drift by
// widening (never narrowing), and writes the rows idempotently inside a
// single transaction: an upsert keyed by the natural key, or a full replace
// when the identity column is synthesized. Returns the row count written.
func (l *Loader) Load(ctx context.Context, schema *model.TableSchema, rs *model.ResultSet) (int, error) {
	lock := l.tableLock(schema.Table)
	lock.Lock()
	defer lock.Unlock()

	effective, err := l.ensureTable(ctx, schema)
	if err != nil {
		return 0, err
	}

	count, err := l.write(ctx, schema, effective, rs)
	if err != nil {
		if _, ok := err.(*apperrors.LoadError); ok {
			return 0, err
		}
		return 0, &apperrors.LoadError{Table: schema.Table, Rows: len(rs.Rows), Err: err}
	}

	l.logger.Info("table loaded",
		zap.String("table", schema.Table),
		zap.Int("rows", count))
	return count, nil
}

func (l *Loader) tableLock(table string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[table]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[table] = lock
	}
	return lock
}

// write stages the rows in a temp table and moves them into the target in
// one transaction, so an interrupted run never leaves a half-written table.
func (l *Loader) write(ctx context.Context, schema *model.TableSchema, effective []model.ColumnSpec, rs *model.ResultSet) (int, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	staging := "weft_staging_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	columnDefs := make([]string, len(effective))
	names := make([]string, len(effective))
	for i, col := range effective {
		columnDefs[i] = pgx.Identifier{col.Name}.Sanitize() + " " + col.Type
		names[i] = pgx.Identifier{col.Name}.Sanitize()
	}

	createStaging := fmt.Sprintf("CREATE TEMP TABLE %s (%s) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), strings.Join(columnDefs, ", "))
	if _, err := tx.Exec(ctx, createStaging); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}

	source, err := copySource(effective, rs)
	if err != nil {
		return 0, err
	}
	copyColumns := make([]string, len(effective))
	for i, col := range effective {
		copyColumns[i] = col.Name
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, copyColumns, source)
	if err != nil {
		return 0, fmt.Errorf("copy into staging: %w", err)
	}

	target := pgx.Identifier{schema.Table}.Sanitize()
	columnList := strings.Join(names, ", ")

	if schema.Synthesized {
		// No stable per-row key: replace the table contents wholesale.
		if _, err := tx.Exec(ctx, "DELETE FROM "+target); err != nil {
			return 0, fmt.Errorf("clear %s: %w", schema.Table, err)
		}
		insert := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			target, columnList, columnList,
			pgx.Identifier{staging}.Sanitize())
		if _, err := tx.Exec(ctx, insert); err != nil {
			return 0, fmt.Errorf("insert into %s: %w", schema.Table, err)
		}
	} else {
		keyName := pgx.Identifier{schema.Key}.Sanitize()
		assignments := make([]string, 0, len(names))
		for _, name := range names {
			if name == keyName {
				continue
			}
			assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", name, name))
		}
		upsert := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
			target, columnList, columnList,
			pgx.Identifier{staging}.Sanitize(),
			pgx.Identifier{schema.Key}.Sanitize(),
			strings.Join(assignments, ", "))
		if len(assignments) == 0 {
			upsert = fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING",
				target, columnList, columnList,
				pgx.Identifier{staging}.Sanitize(),
				pgx.Identifier{schema.Key}.Sanitize())
		}
		if _, err := tx.Exec(ctx, upsert); err != nil {
			return 0, fmt.Errorf("upsert into %s: %w", schema.Table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(copied), nil
}

// copySource adapts rows into a pgx CopyFromSource, encoding each value for
// the effective (possibly widened) column type.
func copySource(effective []model.ColumnSpec, rs *model.ResultSet) (pgx.CopyFromSource, error) {
	tuples := make([][]any, len(rs.Rows))
	for i, row := range rs.Rows {
		tuple := make([]any, len(effective))
		for j, col := range effective {
			encoded, err := encodeValue(row[col.Name], col.Type)
			if err != nil {
				return nil, fmt.Errorf("row %d field %s: %w", i, col.Name, err)
			}
			tuple[j] = encoded
		}
		tuples[i] = tuple
	}
	return pgx.CopyFromRows(tuples), nil
}
