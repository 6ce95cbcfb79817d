// Package manifest implements the arweave/paths path manifest wire format.
//
// A manifest maps logical paths to content ids. Path entries arrive in two
// wire forms, a bare string id or an object with an "id" field; both are
// accepted and preserved on round-trip.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MediaType is the manifest content type. Origins do not always set it
// correctly, so detection also sniffs the schema marker.
const MediaType = "application/x.arweave-manifest+json"

// Marker is the value of the "manifest" field identifying a path manifest.
const Marker = "arweave/paths"

// ErrParse reports malformed manifest JSON.
var ErrParse = errors.New("manifest: malformed manifest")

var contentIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

// IsContentID reports whether s has the 43-character base64url content-id
// shape.
func IsContentID(s string) bool {
	return contentIDRe.MatchString(s)
}

// PathEntry is a single path target. The wire form (bare string vs object)
// is remembered so MarshalJSON reproduces it exactly.
type PathEntry struct {
	ID string

	// bare is true when the entry arrived as a plain string id.
	bare bool
}

// NewPathEntry creates an object-form entry.
func NewPathEntry(id string) PathEntry {
	return PathEntry{ID: id}
}

// UnmarshalJSON accepts either `"id"` or `{"id": "..."}`.
func (e *PathEntry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return err
		}
		e.ID = id
		e.bare = true
		return nil
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	if obj.ID == "" {
		return fmt.Errorf("%w: path entry missing id", ErrParse)
	}
	e.ID = obj.ID
	e.bare = false
	return nil
}

// MarshalJSON reproduces the original wire form.
func (e PathEntry) MarshalJSON() ([]byte, error) {
	if e.bare {
		return json.Marshal(e.ID)
	}
	return json.Marshal(struct {
		ID string `json:"id"`
	}{ID: e.ID})
}

// IndexRef names the path served for the manifest root.
type IndexRef struct {
	Path string `json:"path"`
}

// FallbackRef names the content id served when a requested path is absent.
type FallbackRef struct {
	ID string `json:"id"`
}

// Manifest is a parsed path manifest. Immutable once parsed and verified.
type Manifest struct {
	Manifest string               `json:"manifest"`
	Version  string               `json:"version"`
	Index    *IndexRef            `json:"index,omitempty"`
	Paths    map[string]PathEntry `json:"paths"`
	Fallback *FallbackRef         `json:"fallback,omitempty"`
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if m.Manifest != Marker {
		return nil, fmt.Errorf("%w: manifest field is %q, want %q", ErrParse, m.Manifest, Marker)
	}
	return &m, nil
}

// Detect reports whether a response looks like a path manifest: either the
// content type matches, or a best-effort JSON sniff finds the schema marker.
// The sniff exists because origins do not always set the manifest content
// type correctly.
func Detect(contentType string, data []byte) bool {
	if mediaTypeOf(contentType) == MediaType {
		return true
	}

	var probe struct {
		Manifest string `json:"manifest"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Manifest == Marker
}

func mediaTypeOf(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// IndexPath returns the index path, or "" when the manifest has none.
func (m *Manifest) IndexPath() string {
	if m.Index == nil {
		return ""
	}
	return m.Index.Path
}

// FallbackID returns the fallback content id, or "" when absent.
func (m *Manifest) FallbackID() string {
	if m.Fallback == nil {
		return ""
	}
	return m.Fallback.ID
}

// ContentIDFor returns the content id mapped to a path.
func (m *Manifest) ContentIDFor(path string) (string, bool) {
	entry, ok := m.Paths[path]
	if !ok {
		return "", false
	}
	return entry.ID, true
}

// Entry is one (path, content id) pair in deterministic order.
type Entry struct {
	Path      string
	ContentID string
}

// Entries returns all path entries sorted by path.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.Paths))
	for path, entry := range m.Paths {
		out = append(out, Entry{Path: path, ContentID: entry.ID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Synthetic builds a one-entry manifest for a single-file content id, with
// the index pointing at the file itself.
func Synthetic(contentID, contentType string) *Manifest {
	path := syntheticPath(contentType)
	return &Manifest{
		Manifest: Marker,
		Version:  "0.2.0",
		Index:    &IndexRef{Path: path},
		Paths: map[string]PathEntry{
			path: NewPathEntry(contentID),
		},
	}
}

func syntheticPath(contentType string) string {
	switch mediaTypeOf(contentType) {
	case "text/html":
		return "index.html"
	default:
		return "data"
	}
}
