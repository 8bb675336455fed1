package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags one outbound operation.
type Kind string

const (
	// KindSetPage routes the UI to Page.Path.
	KindSetPage Kind = "setPage"
	// KindOpenConnWindow carries the row data for the routed page.
	KindOpenConnWindow Kind = "openConnWindow"
)

// MaxMessageBytes bounds one encoded envelope.
const MaxMessageBytes = 8 << 20

const connPagePrefix = "/connPage/"

var nullPayload = json.RawMessage("null")

// Message is the outbound envelope parsed by the web UI.
type Message struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Page is the KindSetPage payload.
type Page struct {
	Path string `json:"path"`
}

// ConnPagePath returns the UI route for one table.
func ConnPagePath(table string) string {
	return connPagePrefix + table
}

// SetPage builds the navigation directive for path.
func SetPage(path string) (Message, error) {
	if strings.TrimSpace(path) == "" {
		return Message{}, fmt.Errorf("%w: empty page path", ErrInvalidPayload)
	}
	raw, err := json.Marshal(Page{Path: path})
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindSetPage, Payload: raw}, nil
}

// OpenConnWindow builds the data directive. Missing rows encode as JSON null.
func OpenConnWindow(rows json.RawMessage) Message {
	if len(bytes.TrimSpace(rows)) == 0 {
		rows = nullPayload
	}
	return Message{Kind: KindOpenConnWindow, Payload: rows}
}

// Validate checks the tag and that the payload is well-formed for it.
func (m Message) Validate() error {
	switch m.Kind {
	case KindSetPage:
		var page Page
		if err := json.Unmarshal(m.Payload, &page); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, m.Kind, err)
		}
		if strings.TrimSpace(page.Path) == "" {
			return fmt.Errorf("%w: %s: missing path", ErrInvalidPayload, m.Kind)
		}
	case KindOpenConnWindow:
		if len(m.Payload) > 0 && !json.Valid(m.Payload) {
			return fmt.Errorf("%w: %s: malformed json", ErrInvalidPayload, m.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	return nil
}

// IsNull reports whether the payload is absent.
func (m Message) IsNull() bool {
	trimmed := bytes.TrimSpace(m.Payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullPayload)
}

// Page decodes a KindSetPage payload.
func (m Message) Page() (Page, error) {
	if m.Kind != KindSetPage {
		return Page{}, fmt.Errorf("%w: %q is not %s", ErrUnknownKind, m.Kind, KindSetPage)
	}
	var page Page
	if err := json.Unmarshal(m.Payload, &page); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return page, nil
}
