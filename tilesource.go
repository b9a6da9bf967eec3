package tileloader

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tile-loader/tile-loader/cache"
)

// TileSource is a Source for slippy-map tiles addressed by a URL template
// with {z}, {x} and {y} placeholders, e.g.
// "https://tile.example.org/{z}/{x}/{y}.png".
type TileSource struct {
	// Name identifies the tile layer in cache keys. The template is used
	// when empty.
	Name     string
	Template string
	Z, X, Y  int
}

func (s TileSource) URL() (*url.URL, error) {
	if s.Template == "" {
		return nil, nil
	}
	raw := strings.NewReplacer(
		"{z}", strconv.Itoa(s.Z),
		"{x}", strconv.Itoa(s.X),
		"{y}", strconv.Itoa(s.Y),
	).Replace(s.Template)
	return url.Parse(raw)
}

func (s TileSource) CacheKey() string {
	name := s.Name
	if name == "" {
		name = s.Template
	}
	return fmt.Sprintf("%s:%d/%d/%d", name, s.Z, s.X, s.Y)
}

func (s TileSource) NewEntry(content []byte) *cache.Entry {
	return &cache.Entry{Content: content}
}
