// Package sched implements the FIFO ready queue, the PID registry, and the
// current-task slot (spec SS3 "PID Registry"/"Scheduler Ready Queue", SS4.6).
// It imports proc for the Proc_t type and drives the lifecycle methods proc
// exposes; proc itself never imports sched, so fork/exec/wait/exit stay
// independent of how (or whether) a task is scheduled.
package sched

import "sync"

import "defs"
import "klog"
import "proc"

var mu sync.Mutex
var readyQueue []*proc.Proc_t
var pid2task = map[defs.Pid_t]*proc.Proc_t{}
var current *proc.Proc_t

/// Initproc is the reparenting target for every orphaned child (spec
/// SS4.5). Boot sets this once, before scheduling begins.
var Initproc *proc.Proc_t

/// AddTask registers task in the PID registry and appends it to the ready
/// queue's tail, the combined effect of the original kernel's add_task.
func AddTask(task *proc.Proc_t) {
	mu.Lock()
	defer mu.Unlock()
	pid2task[task.Pid] = task
	readyQueue = append(readyQueue, task)
}

/// FetchTask pops the ready queue's head, or nil if it is empty.
func FetchTask() *proc.Proc_t {
	mu.Lock()
	defer mu.Unlock()
	if len(readyQueue) == 0 {
		return nil
	}
	t := readyQueue[0]
	readyQueue = readyQueue[1:]
	return t
}

/// Pid2Task looks up a task by pid.
func Pid2Task(pid defs.Pid_t) (*proc.Proc_t, bool) {
	mu.Lock()
	defer mu.Unlock()
	t, ok := pid2task[pid]
	return t, ok
}

/// RemoveFromPid2Task deletes pid from the registry. It panics if pid is not
/// present -- a kernel invariant violation per spec SS7, never reachable
/// from user input.
func RemoveFromPid2Task(pid defs.Pid_t) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := pid2task[pid]; !ok {
		panic("pid not in registry")
	}
	delete(pid2task, pid)
}

/// Current returns the task presently running on this hart, or nil if the
/// hart is idle.
func Current() *proc.Proc_t {
	mu.Lock()
	defer mu.Unlock()
	return current
}

/// SetCurrent installs task as the running task. SuspendCurrentAndRunNext
/// and ExitCurrentAndRunNext call this with the task they fetched.
func SetCurrent(task *proc.Proc_t) {
	mu.Lock()
	defer mu.Unlock()
	current = task
}

/// ReadyLen reports the ready queue's length, used by tests asserting the
/// "PCB in ready queue iff Ready and not current" invariant (spec SS8).
func ReadyLen() int {
	mu.Lock()
	defer mu.Unlock()
	return len(readyQueue)
}

/// SuspendCurrentAndRunNext re-enqueues the current task as Ready and
/// returns the next task fetched from the ready queue (nil if none is
/// ready, meaning the hart goes idle). The caller is responsible for the
/// actual context switch; this package only maintains queue/current-slot
/// bookkeeping (spec SS4.6, SS5 "any held PCB inner-lock MUST be released
/// before these points" -- callers must not hold a PCB lock here).
func SuspendCurrentAndRunNext() *proc.Proc_t {
	mu.Lock()
	cur := current
	mu.Unlock()
	if cur != nil {
		cur.Lock_proc()
		cur.Status = proc.Ready
		cur.Unlock_proc()
		mu.Lock()
		readyQueue = append(readyQueue, cur)
		mu.Unlock()
	}
	next := FetchTask()
	SetCurrent(next)
	return next
}

/// ExitCurrentAndRunNext runs the current task's exit pipeline (spec SS4.5),
/// reparents its children to Initproc, removes it from the PID registry,
/// and returns the next task to run without re-enqueuing the exited one.
func ExitCurrentAndRunNext(code int) *proc.Proc_t {
	mu.Lock()
	cur := current
	mu.Unlock()
	if cur == nil {
		panic("exit with no current task")
	}
	cur.Exit(code)
	if Initproc != nil && cur != Initproc {
		cur.Lock_proc()
		cur.Reparent(Initproc)
		cur.Unlock_proc()
	}
	if cur.Parent != nil {
		cur.Parent.Lock_proc()
		// Keep the child entry in Parent.Children; waitpid removes it once
		// reaped, matching spec SS4.5's "remove from children" happening in
		// wait, not in exit.
		cur.Parent.Unlock_proc()
	}
	RemoveFromPid2Task(cur.Pid)
	next := FetchTask()
	SetCurrent(next)
	return next
}

/// DebugShowReadyQueue logs every pid currently on the ready queue, an
/// introspection aid for a dispatcher stuck looping with no visible progress.
func DebugShowReadyQueue() {
	mu.Lock()
	pids := make([]defs.Pid_t, len(readyQueue))
	for i, t := range readyQueue {
		pids[i] = t.Pid
	}
	mu.Unlock()
	klog.Printf("ready queue: %v\n", pids)
}

/// KillFatalSignal delivers sig to the target pid, returning true if pid was
/// found (spec SS4.7's kill(pid, sig)).
func KillFatalSignal(pid defs.Pid_t, sig int) bool {
	t, ok := Pid2Task(pid)
	if !ok {
		return false
	}
	t.Signals.Set(sig)
	return true
}
