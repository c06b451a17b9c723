package singer

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/eunmann/singerlake/pkg/lakeerr"
)

func TestExtractedAt(t *testing.T) {
	want := time.Date(2020, 8, 19, 13, 1, 56, 0, time.UTC)

	tests := []struct {
		name string
		msg  Message
	}{
		{"primary field", Message{"type": "RECORD", "time_extracted": "2020-08-19T13:01:56Z"}},
		{"primary with offset", Message{"time_extracted": "2020-08-19T15:01:56+02:00"}},
		{"primary without offset", Message{"time_extracted": "2020-08-19T13:01:56"}},
		{"primary python isoformat", Message{"time_extracted": "2020-08-19T13:01:56.000000+00:00"}},
		{"primary basic format", Message{"time_extracted": "20200819T130156Z"}},
		{"primary basic without offset", Message{"time_extracted": "20200819T130156"}},
		{"fallback field", Message{"record": map[string]any{"_sdc_extracted_at": "2020-08-19T13:01:56Z"}}},
		{"empty primary uses fallback", Message{"time_extracted": "", "record": map[string]any{"_sdc_extracted_at": "2020-08-19T13:01:56Z"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractedAt(tt.msg)
			if err != nil {
				t.Fatalf("ExtractedAt failed: %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("ExtractedAt = %v, want %v", got, want)
			}
			if got.Location() != time.UTC {
				t.Errorf("ExtractedAt location = %v, want UTC", got.Location())
			}
		})
	}
}

func TestExtractedAtMissing(t *testing.T) {
	for name, msg := range map[string]Message{
		"no fields":      {"type": "RECORD", "record": map[string]any{"id": 1}},
		"not a string":   {"time_extracted": 12345},
		"unparsable":     {"time_extracted": "yesterday"},
		"bad fallback":   {"record": map[string]any{"_sdc_extracted_at": "soon"}},
		"record not map": {"record": "x"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ExtractedAt(msg)
			if !errors.Is(err, lakeerr.ErrMissingExtractionTime) {
				t.Fatalf("ExtractedAt error = %v, want ErrMissingExtractionTime", err)
			}
		})
	}
}

func TestReader(t *testing.T) {
	input := `{"type": "SCHEMA", "stream": "entry", "schema": {}, "key_properties": []}

{"type": "RECORD", "stream": "entry", "record": {"id": 12345678901234567890}, "time_extracted": "2020-08-19T13:01:56Z"}
{"type": "STATE", "value": {}}
`
	r := NewReader(strings.NewReader(input))

	var types []string
	for {
		msg, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		types = append(types, Type(msg))
		if Type(msg) == TypeRecord {
			rec := msg["record"].(map[string]any)
			if n, ok := rec["id"].(json.Number); !ok || n.String() != "12345678901234567890" {
				t.Errorf("record id = %v, want verbatim json.Number", rec["id"])
			}
			if Stream(msg) != "entry" {
				t.Errorf("Stream = %q, want entry", Stream(msg))
			}
		}
	}

	if strings.Join(types, ",") != "SCHEMA,RECORD,STATE" {
		t.Errorf("types = %v", types)
	}
	if r.Line() != 4 {
		t.Errorf("Line = %d, want 4", r.Line())
	}
}

func TestReaderInvalidJSON(t *testing.T) {
	r := NewReader(strings.NewReader("{\"type\": \"RECORD\"}\nnot json\n"))
	if _, err := r.Next(); err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	_, err := r.Next()
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Next error = %v, want line 2 decode error", err)
	}
}

func TestReaderTrailingData(t *testing.T) {
	for _, line := range []string{
		`{"type": "RECORD", "stream": "entry"} junk`,
		`{"type": "RECORD"}{"type": "STATE"}`,
		`{"type": "RECORD"}}`,
	} {
		r := NewReader(strings.NewReader(`{"type": "STATE", "value": {}}` + "\n" + line + "\n"))
		if _, err := r.Next(); err != nil {
			t.Fatalf("first Next failed: %v", err)
		}
		_, err := r.Next()
		if err == nil || !strings.Contains(err.Error(), "line 2: trailing data") {
			t.Errorf("Next(%q) error = %v, want line 2 trailing data error", line, err)
		}
	}

	r := NewReader(strings.NewReader("{\"type\": \"STATE\"}   \t\n"))
	if _, err := r.Next(); err != nil {
		t.Errorf("Next with trailing whitespace failed: %v", err)
	}
}
