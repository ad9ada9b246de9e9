// Package timeline merges the per-device moment lists into the single
// time-ordered sequence the scanner consumes.
package timeline

import (
	"slices"
	"sort"
	"time"

	"github.com/roach88/phasetrace/internal/moment"
)

// Sources holds the four moment lists of one experiment run.
type Sources struct {
	HostLog         []moment.Moment
	ResolverLog     []moment.Moment
	HostCapture     []moment.Moment
	ResolverCapture []moment.Moment
}

// Merge assembles the run's timeline. Moments with equal timestamps keep
// the order host log, resolver log, host capture, resolver capture.
func (s Sources) Merge() []moment.Moment {
	return Assemble(s.HostLog, s.ResolverLog, s.HostCapture, s.ResolverCapture)
}

// Assemble concatenates sources in argument order and stable-sorts the
// result by time. The inputs are not modified.
func Assemble(sources ...[]moment.Moment) []moment.Moment {
	n := 0
	for _, src := range sources {
		n += len(src)
	}

	out := make([]moment.Moment, 0, n)
	for _, src := range sources {
		out = append(out, src...)
	}
	slices.SortStableFunc(out, func(a, b moment.Moment) int {
		return a.Time.Compare(b.Time)
	})
	return out
}

// Window returns the items with from <= at(item) <= to. A zero bound is
// open. items must be sorted by at; the result shares its backing array.
func Window[T any](items []T, at func(T) time.Time, from, to time.Time) []T {
	lo := 0
	if !from.IsZero() {
		lo = sort.Search(len(items), func(i int) bool {
			return !at(items[i]).Before(from)
		})
	}

	hi := len(items)
	if !to.IsZero() {
		rest := items[lo:]
		hi = lo + sort.Search(len(rest), func(i int) bool {
			return at(rest[i]).After(to)
		})
	}
	return items[lo:hi]
}
