// Package tree exposes registered connections and their tables as a two
// level tree. Table leaves carry the command that opens their panel.
package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/datacat/internal/connstore"
	"github.com/rs/zerolog/log"
)

const (
	ActivateCommand = "datacat.treeItemClick"
	RefreshCommand  = "datacat.refreshListConnTreeView"
)

var ErrNotConnection = errors.New("tree: item has no children")

type Kind string

const (
	KindConnection Kind = "connection"
	KindTable      Kind = "table"
)

// Command is what the UI executes when an item is activated.
type Command struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

type Item struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Kind        Kind     `json:"kind"`
	Connection  string   `json:"connection"`
	Table       string   `json:"table,omitempty"`
	Description string   `json:"description,omitempty"`
	Collapsible bool     `json:"collapsible"`
	Command     *Command `json:"command,omitempty"`
}

// Source is the read side of the connection store.
type Source interface {
	List(ctx context.Context) ([]connstore.Connection, error)
	TableNames(ctx context.Context, connection string) ([]string, error)
}

type Provider struct {
	source Source

	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

func NewProvider(source Source) *Provider {
	return &Provider{
		source: source,
		subs:   make(map[int]chan struct{}),
	}
}

// Roots returns one collapsible item per connection.
func (p *Provider) Roots(ctx context.Context) ([]Item, error) {
	conns, err := p.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("tree roots: %w", err)
	}
	out := make([]Item, 0, len(conns))
	for _, conn := range conns {
		out = append(out, ConnectionItem(conn))
	}
	return out, nil
}

// Children returns the table leaves below a connection item.
func (p *Provider) Children(ctx context.Context, parent Item) ([]Item, error) {
	if parent.Kind != KindConnection {
		return nil, fmt.Errorf("%w: %s", ErrNotConnection, parent.ID)
	}
	return p.Tables(ctx, parent.Connection)
}

// Tables returns the table leaves for a connection name.
func (p *Provider) Tables(ctx context.Context, connection string) ([]Item, error) {
	connection = strings.TrimSpace(connection)
	names, err := p.source.TableNames(ctx, connection)
	if err != nil {
		return nil, fmt.Errorf("tree children %s: %w", connection, err)
	}
	out := make([]Item, 0, len(names))
	for _, name := range names {
		out = append(out, TableItem(connection, name))
	}
	return out, nil
}

func ConnectionItem(conn connstore.Connection) Item {
	return Item{
		ID:          conn.Name,
		Label:       conn.Name,
		Kind:        KindConnection,
		Connection:  conn.Name,
		Description: conn.Driver,
		Collapsible: true,
	}
}

func TableItem(connection, table string) Item {
	return Item{
		ID:         connection + "/" + table,
		Label:      table,
		Kind:       KindTable,
		Connection: connection,
		Table:      table,
		Command: &Command{
			Name: ActivateCommand,
			Args: []string{connection, table},
		},
	}
}

// Subscribe returns a channel signalled on every Refresh and a cancel func.
// Signals coalesce while the subscriber is behind.
func (p *Provider) Subscribe() (<-chan struct{}, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	ch := make(chan struct{}, 1)
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			close(ch)
		})
	}
}

// Refresh notifies subscribers that the tree changed.
func (p *Provider) Refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	log.Debug().Int("subscribers", len(p.subs)).Msg("tree_refreshed")
}
