// Package coalesce collapses concurrent identical generation requests into
// a single in-flight call.
package coalesce

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"lessongate/internal/metrics"
)

// Group runs at most one fn per key at a time. Callers that arrive while a
// call is in flight wait for it and receive the same value or error. The
// key is released as soon as the call settles, so a later call runs fn
// again. There is no retry and no cancellation.
type Group[T any] struct {
	kind     string
	sf       singleflight.Group
	inflight atomic.Int64
}

// NewGroup returns a Group whose metrics are labelled with kind.
func NewGroup[T any](kind string) *Group[T] {
	return &Group[T]{kind: kind}
}

// Do executes fn for key, or joins the in-flight execution for key.
// shared reports whether the result was delivered to more than one caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	leader := false
	res, err, shared := g.sf.Do(key, func() (any, error) {
		leader = true
		g.inflight.Add(1)
		defer g.inflight.Add(-1)
		return fn()
	})

	role := "shared"
	if leader {
		role = "leader"
	}
	metrics.CoalescedRequestsTotal.WithLabelValues(g.kind, role).Inc()

	if res != nil {
		v = res.(T)
	}
	return v, shared, err
}

// InFlight returns the number of keys currently executing.
func (g *Group[T]) InFlight() int {
	return int(g.inflight.Load())
}

// RequestKey builds the composite key for a request. The raw topic is used
// as-is; every option must match exactly for two requests to coalesce.
// Each part is length-prefixed so separators inside values stay unambiguous.
func RequestKey(kind, topic string, opts ...any) string {
	var b strings.Builder
	writePart(&b, kind)
	writePart(&b, topic)
	for _, o := range opts {
		writePart(&b, fmt.Sprint(o))
	}
	return b.String()
}

func writePart(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte('|')
}
