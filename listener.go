package tileloader

import "github.com/tile-loader/tile-loader/cache"

// LoadResult tells a listener how its submission ended.
type LoadResult int

const (
	LoadSuccess LoadResult = iota
	LoadFailure
	LoadCanceled
)

func (r LoadResult) String() string {
	switch r {
	case LoadSuccess:
		return "success"
	case LoadFailure:
		return "failure"
	case LoadCanceled:
		return "canceled"
	}
	return "unknown"
}

// Listener receives the outcome of a submitted load. Every accepted Submit
// results in exactly one LoadingFinished call. Listeners must be comparable
// values, as each one is registered at most once per URL.
type Listener interface {
	LoadingFinished(value *cache.Entry, attrs cache.Attributes, result LoadResult)
}

// Loaded is a load outcome as delivered to a Waiter.
type Loaded struct {
	Value      *cache.Entry
	Attributes cache.Attributes
	Result     LoadResult
}

// Waiter is a Listener for synchronous callers: the outcome is delivered
// on C, which is buffered so fan-out never blocks.
type Waiter struct {
	C chan Loaded
}

func NewWaiter() *Waiter {
	return &Waiter{C: make(chan Loaded, 1)}
}

func (w *Waiter) LoadingFinished(value *cache.Entry, attrs cache.Attributes, result LoadResult) {
	w.C <- Loaded{Value: value, Attributes: attrs, Result: result}
}
