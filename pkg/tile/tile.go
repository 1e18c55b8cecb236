package tile

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSize is substituted when a dimension is absent or unparseable.
	DefaultSize = 256

	// MinSize and MaxSize clamp requested dimensions. The upper bound caps
	// worst-case allocation and compression cost regardless of client input.
	MinSize = 1
	MaxSize = 4096

	// DefaultCacheSize bounds the size-keyed placeholder memo. The key
	// space is tiny in practice: map viewports request a handful of tile
	// sizes.
	DefaultCacheSize = 64
)

// ResolveSize extracts tile dimensions from raw WIDTH/HEIGHT query values.
// Each axis is parsed independently: parse failure substitutes the default,
// then the value is clamped into [MinSize, MaxSize].
func ResolveSize(rawWidth, rawHeight string) (int, int) {
	return resolveAxis(rawWidth), resolveAxis(rawHeight)
}

func resolveAxis(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		n = DefaultSize
	}
	if n < MinSize {
		n = MinSize
	}
	if n > MaxSize {
		n = MaxSize
	}
	return n
}

// sizeKey keys the placeholder memo by exact dimensions.
type sizeKey struct {
	width, height int
}

func (k sizeKey) String() string {
	return strconv.Itoa(k.width) + "x" + strconv.Itoa(k.height)
}

// Synthesizer memoizes placeholder tiles by size. Encoding the same size
// twice wastes compression work but is harmless, so concurrent misses for
// one size are collapsed through a singleflight group and the cache itself
// needs no further locking.
type Synthesizer struct {
	cache *lru.Cache[sizeKey, []byte]
	group singleflight.Group
}

// NewSynthesizer creates a placeholder tile synthesizer with a bounded memo.
func NewSynthesizer(cacheSize int) *Synthesizer {
	c, err := lru.New[sizeKey, []byte](cacheSize)
	if err != nil {
		c, _ = lru.New[sizeKey, []byte](16) // Fallback to smaller cache
	}
	return &Synthesizer{cache: c}
}

// Tile returns the transparent placeholder PNG for the given dimensions.
// Degenerate dimensions normalize to 1x1 before the memo lookup so both
// spellings share one entry. The returned slice is shared; callers must not
// modify it.
func (s *Synthesizer) Tile(width, height int) []byte {
	if width <= 0 || height <= 0 {
		width, height = 1, 1
	}
	key := sizeKey{width, height}

	if data, ok := s.cache.Get(key); ok {
		return data
	}

	v, _, _ := s.group.Do(key.String(), func() (any, error) {
		if data, ok := s.cache.Get(key); ok {
			return data, nil
		}
		data := Encode(width, height)
		s.cache.Add(key, data)
		return data, nil
	})
	return v.([]byte)
}

// Len reports how many tile sizes are currently memoized.
func (s *Synthesizer) Len() int {
	return s.cache.Len()
}
