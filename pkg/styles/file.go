package styles

import (
	"encoding/json"
	"os"
	"sync"
)

// FileStore keeps the configuration in a single JSON file. Reads are
// tolerant: a missing, unreadable, or malformed file yields the defaults,
// and fields of the wrong JSON kind are dropped individually.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore stores the configuration at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file. It never fails; problems degrade to defaults.
func (f *FileStore) Load() Payload {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := DefaultPayload()
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return p
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return p
	}
	if v, ok := fields["named_styles"]; ok && jsonKind(v) == '[' {
		p.NamedStyles = v
	}
	if v, ok := fields["layer_styles"]; ok && jsonKind(v) == '{' {
		p.LayerStyles = v
	}
	if v, ok := fields["layer_style_selections"]; ok && jsonKind(v) == '{' {
		p.LayerStyleSelections = v
	}
	return p
}

// Save writes the whole payload to the file.
func (f *FileStore) Save(p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.Marshal(p.normalized())
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0o644)
}
