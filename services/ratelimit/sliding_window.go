package ratelimit

import (
	"sort"
	"time"
)

// slidingWindow is an ascending series of admission timestamps
type slidingWindow struct {
	times []time.Time
}

func (w *slidingWindow) add(t time.Time) {
	// clocks can step backwards; keep the series sorted
	if n := len(w.times); n > 0 && t.Before(w.times[n-1]) {
		t = w.times[n-1]
	}
	w.times = append(w.times, t)
}

// countSince returns the number of timestamps strictly after cutoff
func (w *slidingWindow) countSince(cutoff time.Time) int {
	return len(w.times) - w.firstAfter(cutoff)
}

// prune drops timestamps at or before cutoff
func (w *slidingWindow) prune(cutoff time.Time) {
	i := w.firstAfter(cutoff)
	if i == 0 {
		return
	}
	n := copy(w.times, w.times[i:])
	w.times = w.times[:n]
}

func (w *slidingWindow) firstAfter(cutoff time.Time) int {
	return sort.Search(len(w.times), func(i int) bool {
		return w.times[i].After(cutoff)
	})
}

func (w *slidingWindow) size() int {
	return len(w.times)
}

func (w *slidingWindow) oldest() time.Time {
	if len(w.times) == 0 {
		return time.Time{}
	}
	return w.times[0]
}

func (w *slidingWindow) newest() time.Time {
	if len(w.times) == 0 {
		return time.Time{}
	}
	return w.times[len(w.times)-1]
}
