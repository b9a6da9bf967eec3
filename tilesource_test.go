package tileloader

import "testing"

func TestTileSourceURL(t *testing.T) {
	src := TileSource{Template: "https://tile.example.org/{z}/{x}/{y}.png", Z: 3, X: 4, Y: 5}
	u, err := src.URL()
	if err != nil {
		t.Fatal(err)
	}
	if u.String() != "https://tile.example.org/3/4/5.png" {
		t.Fatalf("url %q", u)
	}
}

func TestTileSourceURLUnknown(t *testing.T) {
	u, err := TileSource{}.URL()
	if err != nil || u != nil {
		t.Fatalf("empty template should yield no url, got %v, %v", u, err)
	}
}

func TestTileSourceCacheKey(t *testing.T) {
	src := TileSource{Name: "osm", Template: "https://tile.example.org/{z}/{x}/{y}.png", Z: 1, X: 2, Y: 3}
	if src.CacheKey() != "osm:1/2/3" {
		t.Fatalf("key %q", src.CacheKey())
	}
	unnamed := TileSource{Template: "t/{z}/{x}/{y}", Z: 1, X: 2, Y: 3}
	if unnamed.CacheKey() != "t/{z}/{x}/{y}:1/2/3" {
		t.Fatalf("key %q", unnamed.CacheKey())
	}
}
