package framer

// AdminCommand is a closure executed in the worker's own goroutine by
// drain_admin_commands (spec.md §4.1 step 8), e.g. query_libraries,
// gateway_sessions, reset_session_ids.
type AdminCommand func(f *Framer) (interface{}, error)

// AdminFuture is the one-shot future-like handle spec.md §4.1 describes:
// "Each returns results via a one-shot future-like handle held by the
// caller." Grounded on the teacher's server/connection.go Send()
// (buffered channel, non-blocking enqueue with a default case); here the
// done channel carries no value and is closed once the result fields
// are set.
type AdminFuture struct {
	done chan struct{}
	val  interface{}
	err  error
}

func newAdminFuture() *AdminFuture {
	return &AdminFuture{done: make(chan struct{})}
}

func (f *AdminFuture) resolve(val interface{}, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Done returns a channel closed once the command has executed.
func (f *AdminFuture) Done() <-chan struct{} { return f.done }

// Result blocks until Done, returning the command's result. Callers on
// the worker's own goroutine must never call this before the owning
// DoWork pass has run, or it deadlocks — it exists for external
// callers on a different goroutine than the one driving DoWork.
func (f *AdminFuture) Result() (interface{}, error) {
	<-f.done
	return f.val, f.err
}

type pendingAdminCommand struct {
	cmd    AdminCommand
	future *AdminFuture
}

// SubmitAdminCommand enqueues cmd for execution on the next DoWork pass
// and returns a future the caller can await from another goroutine.
// The queue is bounded: a full queue drops the command and resolves the
// future with ErrAdminQueueFull immediately, matching spec.md §4.1's "a
// bounded queue carries closures."
func (fr *Framer) SubmitAdminCommand(cmd AdminCommand) *AdminFuture {
	future := newAdminFuture()
	select {
	case fr.adminQueue <- pendingAdminCommand{cmd: cmd, future: future}:
	default:
		future.resolve(nil, ErrAdminQueueFull)
	}
	return future
}

func (fr *Framer) drainAdminCommands() int {
	n := 0
	for {
		select {
		case p := <-fr.adminQueue:
			val, err := p.cmd(fr)
			p.future.resolve(val, err)
			n++
		default:
			return n
		}
	}
}
