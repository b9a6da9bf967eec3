package tileloader

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tile-loader/tile-loader/cache"
)

const (
	// defaultExpireTime is assumed when the origin sets no expiry.
	defaultExpireTime = 7 * 24 * time.Hour
	// absoluteExpireLimit is the hard age limit. Entries whose last
	// modification is older are never served, not even as stale.
	absoluteExpireLimit = 365 * 24 * time.Hour
)

// parseAttributes builds entry attributes from an origin response observed
// at the given time. The Expires header wins; otherwise the first max-age
// token of Cache-Control is used. The last modification records when the
// response was observed, not the origin's Last-Modified value.
func parseAttributes(header http.Header, now time.Time) cache.Attributes {
	attrs := cache.Attributes{
		LastModification: now,
		ETag:             header.Get("ETag"),
	}
	if expires := header.Get("Expires"); expires != "" {
		if t, err := http.ParseTime(expires); err == nil {
			attrs.Expiration = t
		}
	}
	if attrs.Expiration.IsZero() {
		if maxAge, ok := ParseCacheControl(header.Get("Cache-Control")).MaxAge(); ok {
			attrs.Expiration = now.Add(maxAge)
		}
	}
	return attrs
}

// fresh reports whether the cached attributes are still usable at the given
// time without revalidation. A server-set expiration is capped at the
// create time plus the origin expire cap; without one, the entry is fresh
// for the default expire time counted from its last modification, or from
// its creation when even that is unknown.
func fresh(attrs cache.Attributes, now time.Time) bool {
	if !attrs.Expiration.IsZero() {
		expires := attrs.Expiration
		if limit := attrs.CreateTime.Add(cache.OriginExpireCap); expires.After(limit) {
			expires = limit
		}
		return !now.After(expires)
	}
	if !attrs.LastModification.IsZero() {
		return now.Sub(attrs.LastModification) <= defaultExpireTime
	}
	return now.Sub(attrs.CreateTime) <= defaultExpireTime
}

// CacheControl is a parsed Cache-Control header.
type CacheControl struct {
	m map[string]string
}

func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.m[directive]
	return val, ok
}

// MaxAge returns the max-age directive as a duration. Missing or malformed
// values report false.
func (c CacheControl) MaxAge() (time.Duration, bool) {
	val, ok := c.m["max-age"]
	if !ok {
		return 0, false
	}
	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// ParseCacheControl splits the header into directives. The first occurrence
// of a directive wins.
func ParseCacheControl(header string) CacheControl {
	m := make(map[string]string)
	for _, directive := range strings.Split(header, ",") {
		parts := strings.SplitN(strings.TrimSpace(directive), "=", 2)
		if _, ok := m[parts[0]]; ok {
			continue
		}
		var val string
		if len(parts) > 1 {
			val = parts[1]
		}
		m[parts[0]] = val
	}
	return CacheControl{m}
}
