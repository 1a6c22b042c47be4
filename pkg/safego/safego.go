// Package safego runs background work that must never take the process
// down with it.
package safego

import (
	"go.uber.org/zap"
)

// Go runs fn on its own goroutine with panic recovery. A panic inside fn
// is logged under name, with its stack, and the goroutine exits; request
// serving is never affected by a crashing background task.
//
// The gateway uses this for memory capture, config watching, and store
// maintenance, none of which may propagate a failure to callers.
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Recovered panic in background goroutine",
					zap.String("name", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
