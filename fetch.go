package tileloader

import (
	"errors"
	"io"
	"io/fs"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/tile-loader/tile-loader/cache"
)

const (
	defaultAccept = "text/html, image/png, image/jpeg, image/gif, */*"

	// maxRedirects bounds how many 302 responses are followed per request.
	maxRedirects = 5
	// responseAttempts bounds the 503 backoff loop.
	responseAttempts = 5

	// statusTransportError is the dummy code recorded for I/O failures.
	statusTransportError = 499
)

// backoff503 is the polite wait before retrying an overloaded origin.
func backoff503(int) time.Duration {
	return time.Duration(5000+rand.Intn(5000)) * time.Millisecond
}

type fetchKind int

const (
	fetchOK fetchKind = iota
	fetchNotModified
	fetchNotFound
	fetchTransportError
	fetchFailed
)

// fetchResult is the tagged outcome of one network interaction.
type fetchResult struct {
	kind   fetchKind
	code   int
	header http.Header
	body   []byte
	errMsg string
}

// fetcher executes the conditional GET / HEAD protocol for one job run.
type fetcher struct {
	client  *http.Client
	headers map[string]string
	force   bool
	log     zerolog.Logger
	backoff func(attempt int) time.Duration
}

func (f *fetcher) newRequest(method string, u *url.URL) (*http.Request, error) {
	req, err := http.NewRequest(method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", defaultAccept)
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	if f.force {
		// bypass intermediary caches as well
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}
	return req, nil
}

// send issues the request, following up to maxRedirects 302 responses by
// reopening against Location. Conditional headers are not carried across
// redirect hops. Anything left after the limit is returned as-is.
func (f *fetcher) send(req *http.Request) (*http.Response, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	for i := 0; i < maxRedirects && resp.StatusCode == http.StatusFound; i++ {
		location := resp.Header.Get("Location")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		u, err := req.URL.Parse(location)
		if err != nil {
			return nil, err
		}
		next, err := f.newRequest(req.Method, u)
		if err != nil {
			return nil, err
		}
		req = next
		resp, err = f.client.Do(req)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// headValid checks the cached entry against the origin with a HEAD probe.
// The entry is valid when the stored ETag matches the response, or when the
// response carries a Last-Modified no newer than the stored modification.
func (f *fetcher) headValid(u *url.URL, attrs cache.Attributes) bool {
	req, err := f.newRequest(http.MethodHead, u)
	if err != nil {
		return false
	}
	resp, err := f.send(req)
	if err != nil {
		f.log.Debug().Err(err).Msg("HEAD probe failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if attrs.ETag != "" && attrs.ETag == resp.Header.Get("ETag") {
		return true
	}
	lastModified, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	if err != nil {
		return false
	}
	return !lastModified.After(attrs.LastModification)
}

// do performs the conditional GET against u. On 503 it backs off and issues
// a fresh request, up to responseAttempts times. markNonCompliant is called
// when the origin returns a full response despite matching validators.
func (f *fetcher) do(u *url.URL, attrs cache.Attributes, hasLoadable bool, now time.Time, markNonCompliant func()) fetchResult {
	for attempt := 0; attempt < responseAttempts; attempt++ {
		req, err := f.newRequest(http.MethodGet, u)
		if err != nil {
			return fetchResult{kind: fetchFailed, errMsg: err.Error()}
		}
		sentETag := ""
		if hasLoadable {
			if now.Sub(attrs.LastModification) <= absoluteExpireLimit {
				req.Header.Set("If-Modified-Since", attrs.LastModification.UTC().Format(http.TimeFormat))
			}
			if attrs.ETag != "" {
				sentETag = attrs.ETag
				req.Header.Set("If-None-Match", sentETag)
			}
		}

		resp, err := f.send(req)
		if err != nil {
			return classifyTransportError(err)
		}
		f.log.Debug().Str("method", "GET").Str("url", u.String()).Int("status", resp.StatusCode).Msg("origin response")

		if resp.StatusCode == http.StatusServiceUnavailable {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			wait := f.backoff(attempt)
			f.log.Debug().Int("attempt", attempt+1).Dur("wait", wait).Msg("origin overloaded, backing off")
			time.Sleep(wait)
			continue
		}

		if resp.StatusCode == http.StatusNotModified {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return fetchResult{kind: fetchNotModified, code: resp.StatusCode, header: resp.Header}
		}

		if hasLoadable {
			// a full response to a request with matching validators means
			// the origin ignores conditional headers
			respModified, parseErr := http.ParseTime(resp.Header.Get("Last-Modified"))
			if (sentETag != "" && sentETag == resp.Header.Get("ETag")) ||
				(parseErr == nil && respModified.Equal(attrs.LastModification)) {
				markNonCompliant()
			}
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return classifyTransportError(err)
		}
		if resp.StatusCode != http.StatusOK {
			body = nil
		}
		return fetchResult{kind: fetchOK, code: resp.StatusCode, header: resp.Header, body: body}
	}
	return fetchResult{
		kind:   fetchFailed,
		code:   http.StatusServiceUnavailable,
		errMsg: "service unavailable after retries",
	}
}

func classifyTransportError(err error) fetchResult {
	if errors.Is(err, fs.ErrNotExist) {
		return fetchResult{kind: fetchNotFound, code: http.StatusNotFound, errMsg: err.Error()}
	}
	return fetchResult{kind: fetchTransportError, code: statusTransportError, errMsg: err.Error()}
}
