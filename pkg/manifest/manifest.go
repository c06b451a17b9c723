// Package manifest reads and writes the three-level lake catalog.
//
// The lake manifest lists taps, each tap manifest lists its streams, and each
// stream manifest lists its committed files (relative to the stream
// directory) and the schema versions observed. Lists keep first-registration
// order and never hold duplicates.
package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/eunmann/singerlake/pkg/singer"
)

// LakeManifest is stored at raw/manifest.json.
type LakeManifest struct {
	LakeID string   `json:"lake_id"`
	Taps   []string `json:"taps"`
}

// TapManifest is stored at raw/{tap}/manifest.json.
type TapManifest struct {
	TapID   string   `json:"tap_id"`
	Streams []string `json:"streams"`
}

// StreamManifest is stored at raw/{tap}/{stream}/manifest.json.
type StreamManifest struct {
	StreamID string    `json:"stream_id"`
	Files    []string  `json:"files"`
	Versions []Version `json:"versions"`
}

// Version records the first time a schema hash was committed for a stream.
type Version struct {
	SchemaHash    string    `json:"schema_hash"`
	FirstObserved Timestamp `json:"first_observed"`
}

// Timestamp is a manifest time. It decodes RFC 3339, basic ISO-8601
// (20060102T150405Z) and offset-less ISO-8601 text, and encodes back the
// text it was decoded from. New values encode as RFC 3339 in UTC.
type Timestamp struct {
	time.Time
	raw string
}

// NewTimestamp returns t in UTC.
func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t.UTC()} }

// String returns the encoded form.
func (ts Timestamp) String() string {
	if ts.raw != "" {
		return ts.raw
	}
	return ts.Time.UTC().Format(time.RFC3339Nano)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t, ok := singer.ParseTimestamp(s)
	if !ok {
		return fmt.Errorf("timestamp %q is not ISO-8601", s)
	}
	*ts = Timestamp{Time: t, raw: s}
	return nil
}

// HasTap reports whether tapID is registered.
func (m *LakeManifest) HasTap(tapID string) bool { return contains(m.Taps, tapID) }

// AddTap appends tapID if absent and reports whether it did.
func (m *LakeManifest) AddTap(tapID string) bool { return appendAbsent(&m.Taps, tapID) }

// HasStream reports whether streamID is registered.
func (m *TapManifest) HasStream(streamID string) bool { return contains(m.Streams, streamID) }

// AddStream appends streamID if absent and reports whether it did.
func (m *TapManifest) AddStream(streamID string) bool { return appendAbsent(&m.Streams, streamID) }

// HasFile reports whether a relative file path is listed.
func (m *StreamManifest) HasFile(rel string) bool { return contains(m.Files, rel) }

// AddFiles appends the paths not yet listed, in order, and returns how many
// were added.
func (m *StreamManifest) AddFiles(rels ...string) int {
	seen := make(map[string]struct{}, len(m.Files)+len(rels))
	for _, f := range m.Files {
		seen[f] = struct{}{}
	}
	added := 0
	for _, rel := range rels {
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}
		m.Files = append(m.Files, rel)
		added++
	}
	return added
}

// HasVersion reports whether schemaHash has been observed.
func (m *StreamManifest) HasVersion(schemaHash string) bool {
	for _, v := range m.Versions {
		if v.SchemaHash == schemaHash {
			return true
		}
	}
	return false
}

// AddVersion records schemaHash as first observed at t if it is new.
func (m *StreamManifest) AddVersion(schemaHash string, t time.Time) bool {
	if m.HasVersion(schemaHash) {
		return false
	}
	m.Versions = append(m.Versions, Version{SchemaHash: schemaHash, FirstObserved: NewTimestamp(t)})
	return true
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func appendAbsent(list *[]string, s string) bool {
	if contains(*list, s) {
		return false
	}
	*list = append(*list, s)
	return true
}

// normalize replaces nil lists so they encode as [] rather than null.
func (m *LakeManifest) normalize() {
	if m.Taps == nil {
		m.Taps = []string{}
	}
}

func (m *TapManifest) normalize() {
	if m.Streams == nil {
		m.Streams = []string{}
	}
}

func (m *StreamManifest) normalize() {
	if m.Files == nil {
		m.Files = []string{}
	}
	if m.Versions == nil {
		m.Versions = []Version{}
	}
}

// Clone returns a deep copy.
func (m *LakeManifest) Clone() *LakeManifest {
	c := *m
	c.Taps = append([]string{}, m.Taps...)
	return &c
}
