package extension

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/datacat/internal/dispose"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownCommand = errors.New("extension: unknown command")
	ErrCommandExists  = errors.New("extension: command already registered")
	ErrBadArguments   = errors.New("extension: bad command arguments")
)

// Handler runs one command invocation.
type Handler func(ctx context.Context, args ...string) (any, error)

// Commands stores command handlers by name.
type Commands struct {
	mu   sync.RWMutex
	repo map[string]Handler
}

func NewCommands() *Commands {
	return &Commands{repo: make(map[string]Handler)}
}

// Register adds handler under name. The returned disposable unregisters it.
func (c *Commands) Register(name string, handler Handler) (dispose.Disposable, error) {
	name = strings.TrimSpace(name)
	if name == "" || handler == nil {
		return nil, fmt.Errorf("%w: empty name or handler", ErrBadArguments)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.repo[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCommandExists, name)
	}
	c.repo[name] = handler
	return dispose.Func(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.repo, name)
		return nil
	}), nil
}

// Execute runs the handler registered under name.
func (c *Commands) Execute(ctx context.Context, name string, args ...string) (any, error) {
	c.mu.RLock()
	handler, ok := c.repo[strings.TrimSpace(name)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	log.Debug().Str("command", name).Strs("args", args).Msg("command_execute")
	return handler(ctx, args...)
}

// List returns registered command names in sorted order.
func (c *Commands) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.repo))
	for name := range c.repo {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
