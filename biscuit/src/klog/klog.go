// Package klog is a small ring-buffer kernel log: lines appended by sched
// (its ready-queue dump) and kernel (its out-of-memory watcher) survive into
// a panic dump the way the ancestor kernel's
// main.go printed trap-frame and hexdump state by hand at panic time, but
// collected centrally instead of scattered across fmt.Printf call sites.
package klog

import "fmt"
import "sync"

import "caller"
import "circbuf"

var (
	mu  sync.Mutex
	buf circbuf.Circbuf_t
)

func init() {
	buf.Cb_init(16 * 1024)
}

/// Printf appends a formatted line to the kernel log ring buffer.
func Printf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	mu.Lock()
	buf.Append([]byte(line))
	mu.Unlock()
}

/// Snapshot returns a copy of the log ring's current contents, oldest byte
/// first.
func Snapshot() []byte {
	mu.Lock()
	defer mu.Unlock()
	return buf.Snapshot()
}

/// Dump prints the log ring and the current goroutine's call stack,
/// intended to be called from a deferred recover() at the top of the boot
/// goroutine so a kernel-invariant panic leaves a trail.
func Dump(start int) {
	fmt.Printf("--- kernel log ---\n%s--- caller ---\n", string(Snapshot()))
	caller.Callerdump(start)
}
