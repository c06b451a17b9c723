// Package singer reads Singer protocol messages and extracts the fields the
// lake partitions by.
package singer

import (
	"strings"
	"time"

	"github.com/eunmann/singerlake/pkg/lakeerr"
)

// Message is one decoded Singer message.
type Message = map[string]any

// Message types.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

const (
	// TimeExtractedField is the primary extraction time field of a RECORD.
	TimeExtractedField = "time_extracted"
	// SDCExtractedAtField is the fallback, nested under "record".
	SDCExtractedAtField = "_sdc_extracted_at"
)

// Type returns the message "type" field, or "".
func Type(msg Message) string {
	s, _ := msg["type"].(string)
	return strings.ToUpper(s)
}

// Stream returns the message "stream" field, or "".
func Stream(msg Message) string {
	s, _ := msg["stream"].(string)
	return s
}

// timestamp layouts accepted for extraction times, most specific first.
// Layouts without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
	"20060102T150405.999999999Z07:00",
	"20060102T150405.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ExtractedAt returns the extraction time of a RECORD message, taken from
// time_extracted or, when that is absent, record._sdc_extracted_at.
func ExtractedAt(msg Message) (time.Time, error) {
	field := TimeExtractedField
	raw, ok := nonEmptyString(msg[TimeExtractedField])
	if !ok {
		field = "record." + SDCExtractedAtField
		if rec, isMap := msg["record"].(map[string]any); isMap {
			raw, ok = nonEmptyString(rec[SDCExtractedAtField])
		}
	}
	if !ok {
		return time.Time{}, &lakeerr.MissingExtractionTimeError{Index: -1}
	}
	t, parsed := ParseTimestamp(raw)
	if !parsed {
		return time.Time{}, &lakeerr.MissingExtractionTimeError{Index: -1, Field: field, Value: raw}
	}
	return t, nil
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}
