// Package postgis runs the spatial SQL the gateway exposes: buffer
// computation, layer attribute dumps, and distinct value lookups. Every
// query is parameterized; the only strings ever interpolated into SQL are
// identifiers from the compile-time layer allow-list or caller fields that
// passed the identifier grammar.
package postgis

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/NERVsystems/geogate/pkg/monitoring"
)

const postgresService = "postgres"

// Sentinel errors the HTTP layer maps onto response codes.
var (
	// ErrUnknownLayer means the layer key is not in the table allow-list.
	ErrUnknownLayer = errors.New("layer is not in the table allow-list")
	// ErrInvalidField means a caller-supplied field fails the identifier grammar.
	ErrInvalidField = errors.New("field fails the identifier grammar")
	// ErrUnknownColumn means a grammatical field is absent from the table.
	ErrUnknownColumn = errors.New("column not present on table")
)

// identPattern is the grammar caller-supplied identifiers must match before
// they may be quoted into SQL. It rejects quotes, dots, and whitespace.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableRef names a Postgres relation by schema and table.
type TableRef struct {
	Schema string
	Table  string
}

func (r TableRef) relName() string {
	return quoteIdent(r.Schema) + "." + quoteIdent(r.Table)
}

// layerTables is the compile-time allow-list of layers the attribute
// endpoints may read. Keys match the web client's layer identifiers.
var layerTables = map[string]TableRef{
	"roads":     {Schema: "public", Table: "tbl_roads_pcmc"},
	"waterbody": {Schema: "public", Table: "tbl_rivers_pcmc"},
	"landuse":   {Schema: "public", Table: "tbl_landuse"},
	"landmarks": {Schema: "public", Table: "tbl_landmarks"},
}

// TableFor resolves a layer key against the allow-list.
func TableFor(layer string) (TableRef, bool) {
	ref, ok := layerTables[layer]
	return ref, ok
}

// ValidIdent reports whether s matches the identifier grammar.
func ValidIdent(s string) bool {
	return identPattern.MatchString(s)
}

// quoteIdent wraps an identifier for interpolation. Callers validate with
// ValidIdent first; the doubling keeps a stray quote inert regardless.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Store runs the gateway's PostGIS queries over a shared connection pool.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore wraps db. A nil logger falls back to slog.Default.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const columnExistsSQL = `
SELECT 1
FROM information_schema.columns
WHERE table_schema = $1
  AND table_name = $2
  AND column_name = $3
LIMIT 1
`

// columnExists reports whether the table carries the named column.
func (s *Store) columnExists(ctx context.Context, ref TableRef, column string) (bool, error) {
	start := time.Now()
	var one int
	err := s.db.QueryRowContext(ctx, columnExistsSQL, ref.Schema, ref.Table, column).Scan(&one)
	monitoring.RecordUpstreamRequest(postgresService, outcomeLabel(err), time.Since(start))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func outcomeLabel(err error) string {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "error"
	}
	return "success"
}
