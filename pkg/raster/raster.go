// Package raster stores uploaded GeoTIFF files under the media directory
// and lists them back with the dataset and timestamp parsed from their
// names. Names are the only metadata store: <dataset>_<datetime>.tif with
// the timestamp's colons flattened to dashes for filesystem safety.
package raster

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	datasetCleaner  = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	datetimeCleaner = regexp.MustCompile(`[^0-9T:-]+`)
)

// A ValidationError reports a rejected upload. Its text is served verbatim.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// UploadResult describes a stored raster.
type UploadResult struct {
	Name     string `json:"name"`
	Dataset  string `json:"dataset"`
	Datetime string `json:"datetime"`
	URL      string `json:"url"`
}

// Entry is one listed raster.
type Entry struct {
	Name     string `json:"name"`
	Dataset  string `json:"dataset"`
	Datetime string `json:"datetime"`
	Display  string `json:"display"`
	URL      string `json:"url"`
}

// Store reads and writes rasters in a single directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore keeps rasters under dir. A nil logger falls back to slog.Default.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the storage directory, for mounting the static file route.
func (s *Store) Dir() string {
	return s.dir
}

func sanitizeDataset(s string) string {
	s = datasetCleaner.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, "_")
}

func hasRasterExt(name string) bool {
	l := strings.ToLower(name)
	return strings.HasSuffix(l, ".tif") || strings.HasSuffix(l, ".tiff") || strings.HasSuffix(l, ".geotiff")
}

// Save stores src as <dataset>_<datetime>.tif, overwriting a previous
// upload of the same dataset and timestamp. originalName is only consulted
// for its extension; mediaBase prefixes the returned URL.
func (s *Store) Save(dataset, datetime, originalName string, src io.Reader, mediaBase string) (*UploadResult, error) {
	datetime = strings.TrimSpace(datetime)
	if datetime == "" {
		return nil, &ValidationError{"Missing date/time."}
	}

	safeDataset := sanitizeDataset(dataset)
	if safeDataset == "" {
		safeDataset = "DEM"
	}
	safeDatetime := datetimeCleaner.ReplaceAllString(datetime, "")
	if safeDatetime == "" {
		return nil, &ValidationError{"Invalid date/time."}
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if ext != ".tif" && ext != ".tiff" && ext != ".geotiff" {
		return nil, &ValidationError{"Unsupported file type."}
	}

	name := safeDataset + "_" + strings.ReplaceAll(safeDatetime, ":", "-") + ".tif"

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return nil, err
	}
	if err := dst.Close(); err != nil {
		return nil, err
	}

	s.logger.Info("stored raster", "name", name, "dataset", safeDataset)

	return &UploadResult{
		Name:     name,
		Dataset:  safeDataset,
		Datetime: safeDatetime,
		URL:      mediaBase + name,
	}, nil
}

// List returns the stored rasters sorted by timestamp, oldest first,
// optionally restricted to one dataset. A missing directory lists empty.
func (s *Store) List(dataset, mediaBase string) ([]Entry, error) {
	filter := sanitizeDataset(dataset)

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, err
	}

	items := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !hasRasterExt(name) {
			continue
		}
		if filter != "" && !strings.HasPrefix(name, filter+"_") {
			continue
		}
		items = append(items, parseEntry(name, mediaBase))
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Datetime < items[j].Datetime })
	return items, nil
}

// parseEntry recovers dataset and timestamp from a stored name. The
// timestamp's dashes after the T are the flattened colons.
func parseEntry(name, mediaBase string) Entry {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	var datasetName, timestamp string
	if i := strings.Index(base, "_"); i >= 0 {
		datasetName, timestamp = base[:i], base[i+1:]
	}

	display := timestamp
	datetime := timestamp
	if i := strings.Index(timestamp, "T"); i >= 0 {
		datePart, timePart := timestamp[:i], strings.ReplaceAll(timestamp[i+1:], "-", ":")
		display = datePart + " " + timePart
		datetime = datePart + "T" + timePart
	}

	return Entry{
		Name:     name,
		Dataset:  datasetName,
		Datetime: datetime,
		Display:  display,
		URL:      mediaBase + name,
	}
}
