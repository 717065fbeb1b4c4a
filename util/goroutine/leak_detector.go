package goroutine

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
	"time"
)

// Long-lived goroutines started lazily by the runtime and standard library.
// They are never counted as leaks.
var defaultIgnored = []string{
	"os/signal.signal_recv",
	"os/signal.loop",
	"testing.tRunner",
}

// Snapshot records the goroutines alive at a point in time.
type Snapshot struct {
	ids    map[string]struct{}
	ignore []string
	Time   time.Time
}

// TakeSnapshot captures the live goroutines. Stacks containing any of the
// ignore substrings are skipped in later comparisons.
func TakeSnapshot(ignore ...string) Snapshot {
	s := Snapshot{ids: make(map[string]struct{}), ignore: ignore, Time: time.Now()}
	for id := range liveGoroutines() {
		s.ids[id] = struct{}{}
	}
	return s
}

// Leaked returns the stacks of goroutines started after the snapshot that
// are still running.
func (s Snapshot) Leaked() []string {
	var leaked []string
	for id, stack := range liveGoroutines() {
		if _, ok := s.ids[id]; ok {
			continue
		}
		if ignored(stack, defaultIgnored) || ignored(stack, s.ignore) {
			continue
		}
		leaked = append(leaked, stack)
	}
	return leaked
}

// AssertNoLeak waits up to timeout for goroutines started after the snapshot
// to exit and fails t with their stacks otherwise.
func (s Snapshot) AssertNoLeak(t testing.TB, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		leaked := s.Leaked()
		if len(leaked) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Errorf("goroutine leak: %d goroutines still running %v after snapshot:\n%s",
				len(leaked), time.Since(s.Time).Round(time.Millisecond), strings.Join(leaked, "\n\n"))
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// AssertNoLeaks registers a cleanup that fails t when goroutines started
// during the test outlive it by more than five seconds.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    goroutine.AssertNoLeaks(t)
//	    // ... test code that launches goroutines ...
//	}
func AssertNoLeaks(t testing.TB, ignore ...string) {
	t.Helper()
	snapshot := TakeSnapshot(ignore...)
	t.Cleanup(func() {
		snapshot.AssertNoLeak(t, 5*time.Second)
	})
}

// liveGoroutines maps goroutine header ("goroutine 42") to its full stack.
func liveGoroutines() map[string]string {
	buf := make([]byte, 1<<20)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	result := make(map[string]string)
	for _, block := range bytes.Split(buf, []byte("\n\n")) {
		stack := string(block)
		header, _, ok := strings.Cut(stack, " [")
		if !ok || !strings.HasPrefix(header, "goroutine ") {
			continue
		}
		result[header] = stack
	}
	return result
}

func ignored(stack string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(stack, p) {
			return true
		}
	}
	return false
}
