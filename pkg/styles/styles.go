// Package styles persists the shared map style configuration: named style
// presets, per-layer style documents, and the active selection per layer.
// The primary store is Postgres; a JSON file under the data directory takes
// over when the database is unreachable or the table is missing, so the web
// client keeps a working style editor on a degraded deployment.
package styles

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/NERVsystems/geogate/pkg/monitoring"
)

// Payload is the whole shared configuration as stored and served. The
// field values are opaque JSON owned by the web client.
type Payload struct {
	NamedStyles          json.RawMessage `json:"named_styles"`
	LayerStyles          json.RawMessage `json:"layer_styles"`
	LayerStyleSelections json.RawMessage `json:"layer_style_selections"`
}

// DefaultPayload is the configuration served before anything is saved.
func DefaultPayload() Payload {
	return Payload{
		NamedStyles:          json.RawMessage(`[]`),
		LayerStyles:          json.RawMessage(`{}`),
		LayerStyleSelections: json.RawMessage(`{}`),
	}
}

// normalized fills empty fields with their defaults so responses and stored
// rows never carry JSON null.
func (p Payload) normalized() Payload {
	if len(p.NamedStyles) == 0 {
		p.NamedStyles = json.RawMessage(`[]`)
	}
	if len(p.LayerStyles) == 0 {
		p.LayerStyles = json.RawMessage(`{}`)
	}
	if len(p.LayerStyleSelections) == 0 {
		p.LayerStyleSelections = json.RawMessage(`{}`)
	}
	return p
}

// Update carries the fields a PUT provided. Nil fields are left untouched.
type Update struct {
	NamedStyles          json.RawMessage
	LayerStyles          json.RawMessage
	LayerStyleSelections json.RawMessage
}

func (p Payload) merge(u Update) Payload {
	if u.NamedStyles != nil {
		p.NamedStyles = u.NamedStyles
	}
	if u.LayerStyles != nil {
		p.LayerStyles = u.LayerStyles
	}
	if u.LayerStyleSelections != nil {
		p.LayerStyleSelections = u.LayerStyleSelections
	}
	return p.normalized()
}

// A ValidationError reports a malformed update payload. Its text is served
// verbatim to the client.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// jsonKind returns the first significant byte of a JSON value: '[' for
// arrays, '{' for objects, 'n' for null.
func jsonKind(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
		default:
			return b
		}
	}
	return 0
}

// ParseUpdate validates a PUT body. Each field is optional; when present,
// named_styles must be a JSON array and the other two JSON objects. A body
// that is valid JSON but not an object carries no updates.
func ParseUpdate(body []byte) (Update, error) {
	var u Update
	if len(bytes.TrimSpace(body)) == 0 {
		return u, nil
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		var probe any
		if json.Unmarshal(body, &probe) != nil {
			return Update{}, &ValidationError{"Invalid JSON body."}
		}
		fields = nil
	}

	if raw, ok := fields["named_styles"]; ok && jsonKind(raw) != 'n' {
		if jsonKind(raw) != '[' {
			return Update{}, &ValidationError{"named_styles must be a list."}
		}
		u.NamedStyles = raw
	}
	if raw, ok := fields["layer_styles"]; ok && jsonKind(raw) != 'n' {
		if jsonKind(raw) != '{' {
			return Update{}, &ValidationError{"layer_styles must be an object."}
		}
		u.LayerStyles = raw
	}
	if raw, ok := fields["layer_style_selections"]; ok && jsonKind(raw) != 'n' {
		if jsonKind(raw) != '{' {
			return Update{}, &ValidationError{"layer_style_selections must be an object."}
		}
		u.LayerStyleSelections = raw
	}
	return u, nil
}

// Store is the persistence layer for the shared configuration.
type Store interface {
	Load(ctx context.Context) (Payload, error)
	Save(ctx context.Context, p Payload) error
}

// Service reads and writes the configuration, preferring the database and
// falling back to the JSON file when it fails. db may be nil on deployments
// without Postgres.
type Service struct {
	db     Store
	file   *FileStore
	logger *slog.Logger
}

// NewService wires the two stores. A nil logger falls back to slog.Default.
func NewService(db Store, file *FileStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, file: file, logger: logger}
}

// Get returns the current configuration.
func (s *Service) Get(ctx context.Context) Payload {
	if s.db != nil {
		p, err := s.db.Load(ctx)
		if err == nil {
			return p
		}
		monitoring.RecordError("styles", "db_fallback")
		s.logger.Warn("style config read fell back to file", "error", err)
	}
	return s.file.Load()
}

// Apply merges u into the current configuration, persists it, and returns
// the merged payload. The merge happens against whichever store is serving.
func (s *Service) Apply(ctx context.Context, u Update) (Payload, error) {
	if s.db != nil {
		current, err := s.db.Load(ctx)
		if err == nil {
			merged := current.merge(u)
			if err := s.db.Save(ctx, merged); err != nil {
				return Payload{}, err
			}
			return merged, nil
		}
		monitoring.RecordError("styles", "db_fallback")
		s.logger.Warn("style config write fell back to file", "error", err)
	}

	merged := s.file.Load().merge(u)
	if err := s.file.Save(merged); err != nil {
		return Payload{}, err
	}
	return merged, nil
}
