// Package dispose provides scoped-resource guards released in LIFO order.
package dispose

import (
	"errors"
	"fmt"
	"sync"
)

// Disposable releases one scoped resource.
type Disposable interface {
	Dispose() error
}

// Func adapts a plain function to Disposable.
type Func func() error

func (f Func) Dispose() error {
	if f == nil {
		return nil
	}
	return f()
}

// Once wraps d so that only the first Dispose call reaches it.
func Once(d Disposable) Disposable {
	return &onceGuard{inner: d}
}

type onceGuard struct {
	once  sync.Once
	inner Disposable
}

func (g *onceGuard) Dispose() error {
	var err error
	g.once.Do(func() {
		if g.inner != nil {
			err = g.inner.Dispose()
		}
	})
	return err
}

// Stack holds guards and releases them last-in first-out.
type Stack struct {
	mu    sync.Mutex
	items []Disposable
}

// Push registers a guard. Nil guards are ignored.
func (s *Stack) Push(d Disposable) {
	if d == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, d)
}

// Len returns the number of guards not yet released.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Drain pops and releases every guard exactly once. A failing or panicking
// guard does not stop the remaining ones; all failures are joined.
func (s *Stack) Drain() error {
	var errs []error
	for {
		d, ok := s.pop()
		if !ok {
			break
		}
		if err := release(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Stack) pop() (Disposable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	if n == 0 {
		return nil, false
	}
	d := s.items[n-1]
	s.items[n-1] = nil
	s.items = s.items[:n-1]
	return d, true
}

func release(d Disposable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispose: guard panicked: %v", r)
		}
	}()
	return d.Dispose()
}
