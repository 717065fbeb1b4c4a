package goroutine

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// Recover recovers from panics in goroutines and logs them.
// If logger is nil, falls back to stderr so the panic is still recorded.
// It must be deferred directly.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, logger, r)
	}
}

// RecoverWith is Recover with a callback receiving the panic value, used by
// request handlers to turn a panic into an error response.
func RecoverWith(name string, logger *zap.SugaredLogger, onPanic func(any)) {
	if r := recover(); r != nil {
		logPanic(name, logger, r)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

func logPanic(name string, logger *zap.SugaredLogger, r any) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, string(buf[:n]))
}

// Go runs fn in a goroutine tracked by wg. A panic in fn is logged and
// swallowed so it cannot take the process down.
func Go(wg *sync.WaitGroup, name string, logger *zap.SugaredLogger, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer Recover(name, logger)
		fn()
	}()
}
