// Package groutine launches named goroutines so they are identifiable in
// pprof goroutine dumps and in log fields.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// LabelKey is the pprof label carrying the goroutine name.
const LabelKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name.
//
//	groutine.Go(ctx, "session-events", func(ctx context.Context) {
//	    for ev := range events { ... }
//	})
//
// A nil parent means context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}

	go pprof.Do(parent, pprof.Labels(LabelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey, name))
	})
}

// GoDone is Go plus a channel closed when fn returns.
func GoDone(parent context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	done := make(chan struct{})
	Go(parent, name, func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	})
	return done
}

// GetName returns the name given to Go, or "" outside a named goroutine.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(nameKey).(string)
	return s
}
