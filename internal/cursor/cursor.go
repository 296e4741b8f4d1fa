// Package cursor encodes keyset positions for import log pages, which are
// ordered by (import_date DESC, id DESC).
package cursor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lherron/iatisync/internal/id"
)

// ErrInvalid is returned for any cursor that was not produced by Encode.
var ErrInvalid = errors.New("invalid cursor")

// Cursor is the position of the last entry on a page
type Cursor struct {
	ImportDate string `json:"import_date"`
	LastID     string `json:"last_id"`
}

// New builds a cursor after the entry (importDate, lastID)
func New(importDate, lastID string) (*Cursor, error) {
	c := &Cursor{ImportDate: importDate, LastID: lastID}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode serializes the cursor to an opaque base64 string
func (c *Cursor) Encode() (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	jsonData, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(jsonData), nil
}

// Decode parses a cursor from Encode's output. Anything else, including
// extra keys, fails with ErrInvalid.
func Decode(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty cursor string", ErrInvalid)
	}

	jsonData, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding", ErrInvalid)
	}

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.DisallowUnknownFields()
	var c Cursor
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: bad format", ErrInvalid)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Cursor) validate() error {
	if _, err := time.Parse(time.RFC3339Nano, c.ImportDate); err != nil {
		return fmt.Errorf("%w: import date %q", ErrInvalid, c.ImportDate)
	}
	if t, _, err := id.Parse(c.LastID); err != nil || t != id.TypeImport {
		return fmt.Errorf("%w: last id %q", ErrInvalid, c.LastID)
	}
	return nil
}

// Where returns the predicate selecting entries strictly after the cursor
// in newest-first order, and its parameters.
func (c *Cursor) Where() (string, []interface{}) {
	return "(import_date < ? OR (import_date = ? AND id < ?))",
		[]interface{}{c.ImportDate, c.ImportDate, c.LastID}
}
