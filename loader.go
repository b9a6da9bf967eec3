// Package tileloader loads HTTP based artifacts such as map tiles through a
// revalidating cache. Entries carry custom attributes used to check expiry
// according to the HTTP headers sent with the artifact; expired entries are
// verified with ETags or If-Modified-Since / Last-Modified before being
// downloaded again. If the remote server fails, a stale entry is served.
//
// Only one load runs per URL at a time. Concurrent submissions attach their
// listeners to the running load and are all notified from its single outcome.
package tileloader

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tile-loader/tile-loader/cache"
)

// ErrNoURL is returned by Submit when the source cannot derive a URL.
var ErrNoURL = errors.New("no url for source")

const (
	// DefaultMaxWorkers caps the number of concurrent downloads.
	DefaultMaxWorkers = 10

	DefaultConnectTimeout = 15 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// Source derives the URL and cache key for one artifact and constructs its
// cache entries.
type Source interface {
	// URL returns the remote location of the artifact. A nil URL means the
	// location cannot be derived yet (e.g. attribution not loaded).
	URL() (*url.URL, error)
	// CacheKey identifies the artifact in the cache backend.
	CacheKey() string
	// NewEntry builds a cache entry from downloaded content.
	NewEntry(content []byte) *cache.Entry
}

// LoadablePolicy lets a Source override the default check for whether a
// response body should be parsed and returned to listeners. The default
// accepts non-empty bodies with a status below 400.
type LoadablePolicy interface {
	ResponseLoadable(header http.Header, code int, body []byte) bool
}

// EmptyPolicy lets a Source override when a non-loadable response is still
// cached as an empty entry. The default caches everything below 500.
type EmptyPolicy interface {
	CacheAsEmpty(code int) bool
}

// ServerKeyer lets a Source override the key under which discovered origin
// behavior is remembered. The default is the URL host.
type ServerKeyer interface {
	ServerKey(u *url.URL) string
}

// Config configures a Loader.
type Config struct {
	// Storage for cache entries.
	Cache cache.Provider
	// Maximum number of concurrent download workers (default 10).
	MaxWorkers int
	// Timeouts for origin connections.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// Extra request headers sent with every origin request.
	Headers map[string]string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Loader owns the state shared between jobs: the cache backend, the
// in-progress listener registry, the origin profile and the worker pool.
type Loader struct {
	cache      cache.Provider
	cfg        Config
	log        zerolog.Logger
	pool       *workerPool
	inProgress *listenerRegistry
	origins    *originProfile
	client     *http.Client
	backoff    func(attempt int) time.Duration
}

// New initializes a Loader with the given configuration.
func New(cfg Config) *Loader {
	var logger zerolog.Logger
	if cfg.Logger == nil {
		logger = log.Logger
	} else {
		logger = *cfg.Logger
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Loader{
		cache:      cfg.Cache,
		cfg:        cfg,
		log:        logger,
		pool:       newWorkerPool(cfg.MaxWorkers),
		inProgress: newListenerRegistry(),
		origins:    newOriginProfile(),
		client:     newClient(cfg.ConnectTimeout, cfg.ReadTimeout),
		backoff:    backoff503,
	}
}

// CancelOutstandingTasks cancels every job still waiting in the queue.
// Jobs already picked up by a worker run to completion, so a partially
// completed fetch still caches its result.
func (l *Loader) CancelOutstandingTasks() {
	l.pool.cancelOutstanding()
}

// newClient builds the origin HTTP client. Redirects are not followed by
// the client; the fetcher follows 302 responses itself.
func newClient(connect, read time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
			ResponseHeaderTimeout: read,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
