package tileloader

import (
	"net/http"
	"testing"
	"time"

	"github.com/tile-loader/tile-loader/cache"
)

func TestParseCacheControlMaxAge(t *testing.T) {
	cc := ParseCacheControl("no-store, max-age=60, max-age=120")
	if _, ok := cc.Get("no-store"); !ok {
		t.Fatal("no-store directive not parsed")
	}
	maxAge, ok := cc.MaxAge()
	if !ok || maxAge != 60*time.Second {
		t.Fatalf("MaxAge() = %v, %v; want first token 60s", maxAge, ok)
	}
}

func TestParseCacheControlMalformed(t *testing.T) {
	if _, ok := ParseCacheControl("max-age=soon").MaxAge(); ok {
		t.Fatal("malformed max-age should be ignored")
	}
	if _, ok := ParseCacheControl("").MaxAge(); ok {
		t.Fatal("empty header should have no max-age")
	}
}

func TestParseAttributesPrefersExpires(t *testing.T) {
	now := time.Now()
	expires := now.Add(time.Hour).UTC().Truncate(time.Second)
	header := http.Header{}
	header.Set("Expires", expires.Format(http.TimeFormat))
	header.Set("Cache-Control", "max-age=10")
	header.Set("ETag", `"abc"`)

	attrs := parseAttributes(header, now)

	if !attrs.Expiration.Equal(expires) {
		t.Fatalf("expiration %v, want Expires header value %v", attrs.Expiration, expires)
	}
	if attrs.ETag != `"abc"` {
		t.Fatalf("etag %q", attrs.ETag)
	}
	if !attrs.LastModification.Equal(now) {
		t.Fatalf("last modification %v, want observation time %v", attrs.LastModification, now)
	}
}

func TestParseAttributesMaxAgeFallback(t *testing.T) {
	now := time.Now()
	header := http.Header{}
	header.Set("Cache-Control", "public, max-age=60")

	attrs := parseAttributes(header, now)

	if !attrs.Expiration.Equal(now.Add(60 * time.Second)) {
		t.Fatalf("expiration %v, want now+60s", attrs.Expiration)
	}
}

func TestParseAttributesStable(t *testing.T) {
	now := time.Now()
	header := http.Header{}
	header.Set("Cache-Control", "max-age=60")
	header.Set("ETag", `"v1"`)

	first := parseAttributes(header, now)
	second := parseAttributes(header, now)

	if !first.Expiration.Equal(second.Expiration) || first.ETag != second.ETag ||
		!first.LastModification.Equal(second.LastModification) {
		t.Fatalf("parse not stable: %+v vs %+v", first, second)
	}
}

func TestFreshness(t *testing.T) {
	now := time.Now()
	day := 24 * time.Hour
	tests := []struct {
		name  string
		attrs cache.Attributes
		want  bool
	}{
		{"expiration in the future", cache.Attributes{
			CreateTime: now, Expiration: now.Add(time.Hour),
		}, true},
		{"expiration in the past", cache.Attributes{
			CreateTime: now.Add(-2 * time.Hour), Expiration: now.Add(-time.Hour),
		}, false},
		{"far future expiration capped by create time", cache.Attributes{
			CreateTime: now.Add(-29 * day), Expiration: now.Add(100 * day),
		}, false},
		{"recent modification without expiration", cache.Attributes{
			CreateTime: now.Add(-10 * day), LastModification: now.Add(-day),
		}, true},
		{"old modification without expiration", cache.Attributes{
			CreateTime: now, LastModification: now.Add(-8 * day),
		}, false},
		{"recent creation only", cache.Attributes{
			CreateTime: now.Add(-day),
		}, true},
		{"old creation only", cache.Attributes{
			CreateTime: now.Add(-8 * day),
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fresh(tt.attrs, now); got != tt.want {
				t.Fatalf("fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFreshnessMonotonic(t *testing.T) {
	now := time.Now()
	attrs := cache.Attributes{CreateTime: now.Add(-time.Hour), Expiration: now.Add(time.Hour)}
	if !fresh(attrs, now) {
		t.Fatal("entry should be fresh now")
	}
	if !fresh(attrs, now.Add(-30*time.Minute)) {
		t.Fatal("entry fresh at t must be fresh at all earlier times")
	}
}
