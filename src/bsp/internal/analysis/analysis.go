// Package analysis reads and writes the opaque incremental-compilation state
// blobs produced per target per compile. The engine consumes these to avoid
// redundant work; this package only ferries them between disk and callers.
package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid"
	lz4 "github.com/pierrec/lz4/v4"
	"go.lsp.dev/uri"
)

const _fileSuffix = ".analysis.lz4"

// Contents is the decoded analysis payload for one (origin, target) compile.
// Callers outside the engine treat it as opaque.
type Contents struct {
	Target       string            `json:"target"`
	OriginID     string            `json:"originId"`
	CompiledAt   int64             `json:"compiledAt"`
	SourceStamps map[string]string `json:"sourceStamps,omitempty"`
	Products     map[string]string `json:"products,omitempty"`
}

// Size approximates the in-memory cost of the decoded contents in bytes.
func (c *Contents) Size() int64 {
	size := int64(len(c.Target) + len(c.OriginID) + 16)
	for k, v := range c.SourceStamps {
		size += int64(len(k) + len(v))
	}
	for k, v := range c.Products {
		size += int64(len(k) + len(v))
	}
	return size
}

// Encode writes the lz4-framed analysis payload to w.
func Encode(w io.Writer, contents *Contents) error {
	zw := lz4.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(contents); err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}
	return zw.Close()
}

// Decode reads an lz4-framed analysis payload from r.
func Decode(r io.Reader) (*Contents, error) {
	zr := lz4.NewReader(r)
	var contents Contents
	if err := json.NewDecoder(zr).Decode(&contents); err != nil {
		return nil, fmt.Errorf("decoding analysis: %w", err)
	}
	return &contents, nil
}

// Store persists analysis blobs under a single directory and resolves the
// location URIs carried by compile reports.
type Store struct {
	dir string
}

// NewStore creates the backing directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating analysis directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Write persists the contents and returns the location to embed in a report.
func (s *Store) Write(contents *Contents) (uri.URI, error) {
	name := uuid.Must(uuid.NewV4()).String() + _fileSuffix
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating analysis file: %w", err)
	}
	if err := Encode(f, contents); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return uri.File(path), nil
}

// Read decodes the blob at a location previously produced by Write.
func (s *Store) Read(location uri.URI) (*Contents, error) {
	path := location.Filename()
	if !strings.HasSuffix(path, _fileSuffix) {
		return nil, fmt.Errorf("unexpected analysis location %q", location)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening analysis file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
