package surface

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrUIThreadClosed is returned by Do after Close.
var ErrUIThreadClosed = errors.New("ui thread closed")

// UIThread runs submitted functions one at a time on a single locked OS
// thread. Viewport calls must go through Do.
type UIThread struct {
	work chan func()
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewUIThread starts the owning goroutine.
func NewUIThread() *UIThread {
	u := &UIThread{
		work: make(chan func()),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go u.loop()
	return u
}

func (u *UIThread) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(u.done)
	for {
		select {
		case fn := <-u.work:
			fn()
		case <-u.quit:
			return
		}
	}
}

// Do runs fn on the UI thread and waits for it. A panic inside fn is
// returned as an error rather than killing the thread.
func (u *UIThread) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				result <- &PanicError{Value: r}
			}
		}()
		result <- fn()
	}
	select {
	case u.work <- job:
	case <-u.quit:
		return ErrUIThreadClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the thread and waits for it to exit. Safe to call twice.
func (u *UIThread) Close() {
	u.once.Do(func() { close(u.quit) })
	<-u.done
}

// PanicError carries a recovered panic value from the UI thread.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "ui thread panic: " + fmtAny(e.Value)
}
