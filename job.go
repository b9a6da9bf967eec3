package tileloader

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/tile-loader/tile-loader/cache"
)

// Job loads one artifact: cache lookup, conditional fetch, stale fallback
// and fan-out to every listener registered for the URL. A job is transient;
// create a new one per submission.
type Job struct {
	loader *Loader
	src    Source

	// now is captured at construction and used for every freshness decision
	// the job makes.
	now   time.Time
	force bool

	// dedupKey is captured at Submit so that the drain at fan-out uses the
	// same key even if the source derives URLs differently later.
	dedupKey string

	loaded bool
	value  *cache.Entry
	attrs  cache.Attributes

	finishTask func()
}

// NewJob creates a job for the given source.
func (l *Loader) NewJob(src Source) *Job {
	return &Job{
		loader: l,
		src:    src,
		now:    time.Now(),
	}
}

// Submit registers the listener for the outcome of this load. The first
// listener for a URL schedules the actual work; later ones just attach.
// With force set, the job is always scheduled and bypasses both the
// freshness check and intermediary caches.
func (j *Job) Submit(listener Listener, force bool) error {
	j.force = force
	u, err := j.src.URL()
	if err != nil || u == nil {
		j.loader.log.Warn().Str("key", j.src.CacheKey()).Msg("no url for source, skipping")
		return ErrNoURL
	}
	j.dedupKey = u.String()

	first := j.loader.inProgress.register(j.dedupKey, listener)
	if first || force {
		// run on the pool so the caller is not blocked on disk I/O
		j.loader.pool.execute(j)
	}
	return nil
}

// Get returns whatever the cache currently holds for this source, without
// fetching.
func (j *Job) Get() *cache.Entry {
	j.ensureElement()
	return j.value
}

// SetFinishedTask registers a hook run when the job finishes execution,
// regardless of outcome.
func (j *Job) SetFinishedTask(fn func()) {
	j.finishTask = fn
}

func (j *Job) ensureElement() {
	if j.loaded {
		return
	}
	key := j.src.CacheKey()
	if key == "" {
		return
	}
	j.loaded = true
	el, err := j.loader.cache.Get(key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			j.loader.log.Error().Err(err).Str("key", key).Msg("cache read failed")
		}
		return
	}
	j.value = el.Value
	j.attrs = el.Attributes
}

// run executes the job on a pool worker.
func (j *Job) run() {
	log := j.loader.log.With().Str("url", j.dedupKey).Logger()
	defer func() {
		if j.finishTask != nil {
			j.finishTask()
		}
	}()

	j.ensureElement()

	if !j.force && fresh(j.attrs, j.now) && j.servable(log) {
		log.Debug().Str("key", j.src.CacheKey()).Msg("returning object from cache")
		j.finishLoading(LoadSuccess)
		return
	}

	if j.loadObject(log) {
		j.finishLoading(LoadSuccess)
		return
	}
	if j.servable(log) {
		log.Debug().Msg("serving stale object after failed refresh")
		j.finishLoading(LoadSuccess)
		return
	}
	j.finishLoading(LoadFailure)
}

// cancel fans out LoadCanceled without touching the cache or the network.
// The pool calls it for jobs removed from the queue before a worker picked
// them up.
func (j *Job) cancel() {
	j.finishLoading(LoadCanceled)
}

// servable reports whether the cached entry may be handed to listeners.
// Entries past the absolute age limit are purged rather than served.
func (j *Job) servable(log zerolog.Logger) bool {
	if !j.value.Loadable() {
		return false
	}
	if j.now.Sub(j.attrs.LastModification) > absoluteExpireLimit {
		log.Debug().Str("key", j.src.CacheKey()).Msg("entry past absolute age limit, purging")
		if err := j.loader.cache.Purge(j.src.CacheKey()); err != nil {
			log.Warn().Err(err).Str("key", j.src.CacheKey()).Msg("cache purge failed")
		}
		return false
	}
	return true
}

// loadObject refreshes the entry from the origin. It reports whether the
// job now holds an entry that can be returned as a success.
func (j *Job) loadObject(log zerolog.Logger) bool {
	u, err := j.src.URL()
	if err != nil || u == nil {
		log.Warn().Msg("url no longer derivable")
		return false
	}
	f := &fetcher{
		client:  j.loader.client,
		headers: j.loader.cfg.Headers,
		force:   j.force,
		log:     log,
		backoff: j.loader.backoff,
	}

	serverKey := j.serverKey(u)
	if j.value.Loadable() && j.loader.origins.needsHead(serverKey) && f.headValid(u, j.attrs) {
		log.Debug().Msg("cache entry verified using HEAD request")
		return true
	}

	res := f.do(u, j.attrs, j.value.Loadable(), j.now, func() {
		log.Info().Str("host", serverKey).
			Msg("origin ignores conditional request headers, switching to HEAD probes")
		j.loader.origins.markNeedsHead(serverKey)
	})

	switch res.kind {
	case fetchNotModified:
		log.Debug().Msg("conditional request: cached version is up to date")
		return true

	case fetchOK:
		attrs := parseAttributes(res.header, j.now)
		attrs.ResponseCode = res.code
		j.attrs = attrs
		if j.responseLoadable(res.header, res.code, res.body) {
			j.value = j.src.NewEntry(res.body)
			j.put(log)
			log.Debug().Int("length", len(res.body)).Msg("downloaded object")
			return true
		}
		if j.cacheAsEmpty(res.code) {
			j.value = j.src.NewEntry(nil)
			j.put(log)
			log.Debug().Int("status", res.code).Msg("caching empty object")
			return true
		}
		log.Debug().Int("status", res.code).Msg("response not loadable and not cached as empty")
		return false

	case fetchNotFound, fetchTransportError:
		j.attrs.ResponseCode = res.code
		j.attrs.ErrorMessage = res.errMsg
		if j.value.Loadable() {
			// keep the stale entry; run serves it as a fallback
			return false
		}
		if j.responseLoadable(nil, res.code, nil) || j.cacheAsEmpty(res.code) {
			j.value = j.src.NewEntry(nil)
			j.put(log)
			log.Debug().Int("status", res.code).Msg("caching empty object after failed fetch")
			return true
		}
		return false

	default:
		if res.errMsg != "" {
			j.attrs.ErrorMessage = res.errMsg
		}
		log.Warn().Int("status", res.code).Str("error", res.errMsg).Msg("download failed")
		return false
	}
}

// finishLoading drains the listeners registered under the dedup key and
// notifies each exactly once.
func (j *Job) finishLoading(result LoadResult) {
	listeners := j.loader.inProgress.drain(j.dedupKey)
	if len(listeners) == 0 {
		j.loader.log.Warn().Str("url", j.dedupKey).Msg("no listeners registered, nobody notified")
		return
	}
	for _, l := range listeners {
		l.LoadingFinished(j.value, j.attrs, result)
	}
}

func (j *Job) put(log zerolog.Logger) {
	if err := j.loader.cache.Put(j.src.CacheKey(), j.value, j.attrs); err != nil {
		log.Warn().Err(err).Str("key", j.src.CacheKey()).Msg("cache write failed")
	}
}

func (j *Job) responseLoadable(header http.Header, code int, body []byte) bool {
	if p, ok := j.src.(LoadablePolicy); ok {
		return p.ResponseLoadable(header, code, body)
	}
	return len(body) > 0 && code < 400
}

func (j *Job) cacheAsEmpty(code int) bool {
	if p, ok := j.src.(EmptyPolicy); ok {
		return p.CacheAsEmpty(code)
	}
	return code < 500
}

func (j *Job) serverKey(u *url.URL) string {
	if p, ok := j.src.(ServerKeyer); ok {
		return p.ServerKey(u)
	}
	return u.Host
}
