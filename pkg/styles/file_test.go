package styles

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreLoadMissing(t *testing.T) {
	f := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))

	p := f.Load()
	if string(p.NamedStyles) != `[]` || string(p.LayerStyles) != `{}` || string(p.LayerStyleSelections) != `{}` {
		t.Errorf("Load() = %+v, want defaults", p)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	f := NewFileStore(filepath.Join(t.TempDir(), "styles.json"))

	in := Payload{
		NamedStyles:          []byte(`[{"name":"dark","fill":"#222"}]`),
		LayerStyles:          []byte(`{"roads":{"stroke":2}}`),
		LayerStyleSelections: []byte(`{"roads":"dark"}`),
	}
	if err := f.Save(in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	out := f.Load()
	if string(out.NamedStyles) != string(in.NamedStyles) {
		t.Errorf("NamedStyles = %s", out.NamedStyles)
	}
	if string(out.LayerStyles) != string(in.LayerStyles) {
		t.Errorf("LayerStyles = %s", out.LayerStyles)
	}
	if string(out.LayerStyleSelections) != string(in.LayerStyleSelections) {
		t.Errorf("LayerStyleSelections = %s", out.LayerStyleSelections)
	}
}

func TestFileStoreToleratesGarbage(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "<html>"},
		{"json scalar", `42`},
		{"wrong field kinds", `{"named_styles":{"a":1},"layer_styles":[1],"layer_style_selections":"x"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "styles.json")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}

			p := NewFileStore(path).Load()
			if string(p.NamedStyles) != `[]` || string(p.LayerStyles) != `{}` || string(p.LayerStyleSelections) != `{}` {
				t.Errorf("Load() = %+v, want defaults", p)
			}
		})
	}
}

func TestFileStoreKeepsValidFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "styles.json")
	content := `{"named_styles":[{"name":"sat"}],"layer_styles":"broken"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewFileStore(path).Load()
	if string(p.NamedStyles) != `[{"name":"sat"}]` {
		t.Errorf("NamedStyles = %s", p.NamedStyles)
	}
	if string(p.LayerStyles) != `{}` {
		t.Errorf("LayerStyles = %s, want default for the broken field", p.LayerStyles)
	}
}

func TestFileStoreSaveNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "styles.json")
	f := NewFileStore(path)

	if err := f.Save(Payload{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"named_styles":[],"layer_styles":{},"layer_style_selections":{}}`
	if string(raw) != want {
		t.Errorf("file = %s, want %s", raw, want)
	}
}
