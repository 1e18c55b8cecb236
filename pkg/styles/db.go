package styles

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/NERVsystems/geogate/pkg/monitoring"
)

const (
	postgresService = "postgres"

	// configKey is the single shared row all clients read and write.
	configKey = "default"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS style_config (
    key text PRIMARY KEY,
    named_styles jsonb NOT NULL DEFAULT '[]'::jsonb,
    layer_styles jsonb NOT NULL DEFAULT '{}'::jsonb,
    layer_style_selections jsonb NOT NULL DEFAULT '{}'::jsonb,
    updated_at timestamptz NOT NULL DEFAULT now()
)
`

const loadSQL = `
SELECT named_styles, layer_styles, layer_style_selections
FROM style_config
WHERE key = $1
`

const saveSQL = `
INSERT INTO style_config (key, named_styles, layer_styles, layer_style_selections, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (key) DO UPDATE
SET named_styles = EXCLUDED.named_styles,
    layer_styles = EXCLUDED.layer_styles,
    layer_style_selections = EXCLUDED.layer_style_selections,
    updated_at = now()
`

// DBStore keeps the configuration in the style_config table.
type DBStore struct {
	db *sql.DB
}

// NewDBStore wraps db.
func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

// EnsureSchema creates the style_config table when it does not exist.
// Callers treat failure as advisory; reads and writes fall back to the
// file store anyway.
func (s *DBStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// Load reads the shared row. A missing row yields the defaults.
func (s *DBStore) Load(ctx context.Context) (Payload, error) {
	start := time.Now()
	var p Payload
	err := s.db.QueryRowContext(ctx, loadSQL, configKey).
		Scan(&p.NamedStyles, &p.LayerStyles, &p.LayerStyleSelections)
	monitoring.RecordUpstreamRequest(postgresService, dbOutcome(err), time.Since(start))
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPayload(), nil
	}
	if err != nil {
		return Payload{}, err
	}
	return p.normalized(), nil
}

// Save upserts the shared row.
func (s *DBStore) Save(ctx context.Context, p Payload) error {
	p = p.normalized()
	start := time.Now()
	_, err := s.db.ExecContext(ctx, saveSQL, configKey,
		[]byte(p.NamedStyles), []byte(p.LayerStyles), []byte(p.LayerStyleSelections))
	monitoring.RecordUpstreamRequest(postgresService, dbOutcome(err), time.Since(start))
	return err
}

func dbOutcome(err error) string {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "error"
	}
	return "success"
}
