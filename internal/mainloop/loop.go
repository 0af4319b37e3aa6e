package mainloop

import (
	"context"
	"errors"
	"sync"
)

var ErrLoopStopped = errors.New("mainloop: loop stopped")

// Loop serializes work onto a single goroutine. State that must only be
// touched from that goroutine (progress gate, prompts, status line) takes a
// Token argument, which only the loop itself can mint.
type Loop struct {
	mu     sync.Mutex
	queue  []func(Token)
	closed bool

	wake chan struct{}
	done chan struct{}
}

// Token proves the holder is executing on a specific Loop. The zero value
// proves nothing.
type Token struct {
	loop *Loop
}

func (t Token) OnLoop(l *Loop) bool {
	return t.loop != nil && t.loop == l
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run serves posted tasks until ctx ends, then drains whatever is still
// queued so that an accepted Post never goes unexecuted. Run must be called
// exactly once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	tk := Token{loop: l}
	for {
		for _, fn := range l.take() {
			fn(tk)
		}
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			for _, fn := range l.take() {
				fn(tk)
			}
			return
		case <-l.wake:
		}
	}
}

// Start runs the loop on its own goroutine and returns a stop function that
// shuts it down and waits for the drain to finish.
func (l *Loop) Start() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	return func() {
		cancel()
		<-l.done
	}
}

// Post enqueues fn for execution on the loop goroutine. Once Post returns
// nil the task is guaranteed to run, even during shutdown drain.
func (l *Loop) Post(fn func(Token)) error {
	if fn == nil {
		return errors.New("mainloop: nil task")
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopStopped
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call posts fn and blocks until it has run, returning its error. The
// context guards only the enqueue: once the task is accepted it always runs
// to completion and Call waits for it, so a started action is never
// abandoned halfway.
func (l *Loop) Call(ctx context.Context, fn func(Token) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res := make(chan error, 1)
	if err := l.Post(func(tk Token) { res <- fn(tk) }); err != nil {
		return err
	}
	return <-res
}

func (l *Loop) take() []func(Token) {
	l.mu.Lock()
	tasks := l.queue
	l.queue = nil
	l.mu.Unlock()
	return tasks
}
