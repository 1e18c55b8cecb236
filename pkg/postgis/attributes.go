package postgis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/NERVsystems/geogate/pkg/monitoring"
)

// One row whose single column is the whole response: the table's column
// names from information_schema plus the first rows as a JSON array.
const attributesSQLFormat = `
SELECT json_build_object(
    'columns', (
        SELECT array_agg(column_name)
        FROM information_schema.columns
        WHERE table_schema = $1
          AND table_name = $2
    ),
    'rows', COALESCE((
        SELECT json_agg(t)
        FROM (
            SELECT *
            FROM %s
            %sLIMIT %s
        ) t
    ), '[]'::json)
)
`

func buildAttributesSQL(ref TableRef, filterField string) string {
	where, limitParam := "", "$3"
	if filterField != "" {
		// The cast keeps the comparison working on non-text columns.
		where = "WHERE CAST(" + quoteIdent(filterField) + " AS text) = $3 "
		limitParam = "$4"
	}
	return fmt.Sprintf(attributesSQLFormat, ref.relName(), where, limitParam)
}

// Attributes returns the column list and first rows of a layer's table as
// raw JSON, optionally restricted to rows where filterField equals
// filterValue. The filter field must pass the identifier grammar and exist
// on the table. Limit is clamped to [1, 1000].
func (s *Store) Attributes(ctx context.Context, layer, filterField, filterValue string, limit int) (json.RawMessage, error) {
	ref, ok := TableFor(layer)
	if !ok {
		return nil, ErrUnknownLayer
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	args := []any{ref.Schema, ref.Table}
	if filterField != "" {
		if !ValidIdent(filterField) {
			return nil, ErrInvalidField
		}
		exists, err := s.columnExists(ctx, ref, filterField)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrUnknownColumn
		}
		args = append(args, filterValue)
	}
	args = append(args, limit)

	start := time.Now()
	var raw []byte
	err := s.db.QueryRowContext(ctx, buildAttributesSQL(ref, filterField), args...).Scan(&raw)
	monitoring.RecordUpstreamRequest(postgresService, outcomeLabel(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

const distinctSQLFormat = `
SELECT DISTINCT CAST(%s AS text) AS value
FROM %s
WHERE %s
ORDER BY value
LIMIT %s
`

// DistinctValues lists the distinct non-empty values of a column as text,
// optionally narrowed to values containing match (case-insensitive). Limit
// is clamped to [1, 500].
func (s *Store) DistinctValues(ctx context.Context, layer, field, match string, limit int) ([]string, error) {
	ref, ok := TableFor(layer)
	if !ok {
		return nil, ErrUnknownLayer
	}
	if field == "" || !ValidIdent(field) {
		return nil, ErrInvalidField
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}

	exists, err := s.columnExists(ctx, ref, field)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUnknownColumn
	}

	col := quoteIdent(field)
	conds := []string{
		col + " IS NOT NULL",
		"btrim(CAST(" + col + " AS text)) <> ''",
	}
	var args []any
	limitParam := "$1"
	if match != "" {
		conds = append(conds, "CAST("+col+" AS text) ILIKE $1")
		args = append(args, "%"+match+"%")
		limitParam = "$2"
	}
	args = append(args, limit)

	query := fmt.Sprintf(distinctSQLFormat, col, ref.relName(), strings.Join(conds, "\n  AND "), limitParam)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	monitoring.RecordUpstreamRequest(postgresService, outcomeLabel(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			values = append(values, v.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
