package load

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/weftdata/weft/pkg/apperrors"
	"github.com/weftdata/weft/pkg/model"
)

// existingColumn is one column read back from information_schema.
type existingColumn struct {
	name     string
	dataType string
	nullable bool
}

// ensureTable creates the destination table if absent, or reconciles schema
// drift: missing columns are added, known types are widened in place, and
// nothing is ever dropped or narrowed. It returns the effective data-column
// specs of the target after reconciliation, which the staging copy encodes
// against.
func (l *Loader) ensureTable(ctx context.Context, schema *model.TableSchema) ([]model.ColumnSpec, error) {
	existing, err := l.introspect(ctx, schema.Table)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		if err := l.createTable(ctx, schema); err != nil {
			return nil, err
		}
		return schema.Columns, nil
	}
	return l.reconcile(ctx, schema, existing)
}

// introspect returns the target's current columns, empty when the table
// does not exist.
func (l *Loader) introspect(ctx context.Context, table string) (map[string]existingColumn, error) {
	const query = `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`
	rows, err := l.db.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]existingColumn)
	for rows.Next() {
		var c existingColumn
		if err := rows.Scan(&c.name, &c.dataType, &c.nullable); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		c.dataType = normalizeDBType(c.dataType)
		columns[c.name] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %s: %w", table, err)
	}
	return columns, nil
}

func (l *Loader) createTable(ctx context.Context, schema *model.TableSchema) error {
	defs := make([]string, 0, len(schema.Columns)+1)
	if schema.Synthesized {
		defs = append(defs, pgx.Identifier{model.IdentityColumn}.Sanitize()+
			" bigint generated always as identity primary key")
	}
	for _, col := range schema.Columns {
		def := pgx.Identifier{col.Name}.Sanitize() + " " + col.Type
		if col.Name == schema.Key && !schema.Synthesized {
			def += " primary key"
		} else if col.NotNull {
			def += " not null"
		}
		defs = append(defs, def)
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (%s)",
		pgx.Identifier{schema.Table}.Sanitize(), strings.Join(defs, ", "))
	if _, err := l.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", schema.Table, err)
	}

	l.logger.Info("table created",
		zap.String("table", schema.Table),
		zap.Int("columns", len(schema.Columns)))
	return nil
}

// reconcile aligns an existing table with the wanted schema. The effective
// type of a column is the wider of the existing and wanted types; when that
// cannot be decided inside the known widening lattice the drift is unsafe
// and reconciliation fails.
func (l *Loader) reconcile(ctx context.Context, schema *model.TableSchema, existing map[string]existingColumn) ([]model.ColumnSpec, error) {
	target := pgx.Identifier{schema.Table}.Sanitize()
	effective := make([]model.ColumnSpec, 0, len(schema.Columns))

	for _, wanted := range schema.Columns {
		current, ok := existing[wanted.Name]
		if !ok {
			// Additive drift: new column, always nullable since existing
			// rows cannot satisfy a constraint.
			ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
				target, pgx.Identifier{wanted.Name}.Sanitize(), wanted.Type)
			if _, err := l.db.Exec(ctx, ddl); err != nil {
				return nil, fmt.Errorf("add column %s.%s: %w", schema.Table, wanted.Name, err)
			}
			l.logger.Info("column added",
				zap.String("table", schema.Table),
				zap.String("column", wanted.Name),
				zap.String("type", wanted.Type))
			effective = append(effective, wanted)
			continue
		}

		// Declared types may carry modifiers the information_schema strips,
		// so "numeric(10,2)" must reconcile against an introspected
		// "numeric" instead of tripping a conflict on weft's own table.
		wantedBase := declaredBaseType(wanted.Type)

		switch {
		case current.dataType == wantedBase:
			effective = append(effective, model.NewColumn(wanted.Name, wanted.Type, !current.nullable))

		case model.CanWiden(wantedBase, current.dataType):
			// Existing column is already wide enough; keep it and encode
			// the new values into it.
			effective = append(effective, model.NewColumn(wanted.Name, current.dataType, !current.nullable))

		case model.CanWiden(current.dataType, wantedBase):
			ddl := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
				target, pgx.Identifier{wanted.Name}.Sanitize(), wanted.Type,
				pgx.Identifier{wanted.Name}.Sanitize(), wanted.Type)
			if _, err := l.db.Exec(ctx, ddl); err != nil {
				return nil, fmt.Errorf("widen column %s.%s: %w", schema.Table, wanted.Name, err)
			}
			l.logger.Info("column widened",
				zap.String("table", schema.Table),
				zap.String("column", wanted.Name),
				zap.String("from", current.dataType),
				zap.String("to", wanted.Type))
			effective = append(effective, model.NewColumn(wanted.Name, wanted.Type, !current.nullable))

		default:
			return nil, &apperrors.SchemaConflictError{
				Table:  schema.Table,
				Column: wanted.Name,
				From:   current.dataType,
				To:     wanted.Type,
			}
		}
	}

	// Incoming nulls must not trip an existing NOT NULL constraint.
	for i, col := range effective {
		current := existing[col.Name]
		if !current.nullable && col.Name != schema.Key && columnHasNull(schema, col.Name) {
			ddl := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL",
				target, pgx.Identifier{col.Name}.Sanitize())
			if _, err := l.db.Exec(ctx, ddl); err != nil {
				return nil, fmt.Errorf("relax column %s.%s: %w", schema.Table, col.Name, err)
			}
			effective[i] = model.NewColumn(col.Name, col.Type, false)
		}
	}
	return effective, nil
}

// columnHasNull reports whether the wanted schema considers the column
// nullable.
func columnHasNull(schema *model.TableSchema, name string) bool {
	if spec, ok := schema.Column(name); ok {
		return !spec.NotNull
	}
	return true
}

// normalizeDBType folds information_schema spellings onto the names the
// inference engine produces.
func normalizeDBType(dataType string) string {
	switch strings.ToLower(dataType) {
	case "timestamp with time zone":
		return model.TypeTimestamp
	case "character varying", "character", "varchar", "char":
		return model.TypeText
	default:
		return strings.ToLower(dataType)
	}
}

// declaredBaseType reduces a declared column type to the bare name the
// information_schema reports back: "numeric(10,2)" becomes "numeric",
// "varchar(50)" folds to text. Types without a modifier pass through
// normalization unchanged.
func declaredBaseType(typ string) string {
	if i := strings.IndexByte(typ, '('); i >= 0 {
		if j := strings.LastIndexByte(typ, ')'); j > i {
			typ = strings.TrimSpace(typ[:i] + typ[j+1:])
		}
	}
	return normalizeDBType(typ)
}
