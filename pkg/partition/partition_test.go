package partition

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/eunmann/singerlake/pkg/lakeerr"
)

func TestCompute(t *testing.T) {
	ts := time.Date(2020, 8, 19, 13, 1, 56, 0, time.UTC)

	tests := []struct {
		name string
		by   []Granularity
		want []Partition
	}{
		{
			name: "year month day hour",
			by:   []Granularity{Year, Month, Day, Hour},
			want: []Partition{{"year", 2020}, {"month", 8}, {"day", 19}, {"hour", 13}},
		},
		{
			name: "configured order is kept",
			by:   []Granularity{Hour, Year},
			want: []Partition{{"hour", 13}, {"year", 2020}},
		},
		{
			name: "minute second",
			by:   []Granularity{Minute, Second},
			want: []Partition{{"minute", 1}, {"second", 56}},
		},
		{
			name: "empty",
			by:   nil,
			want: []Partition{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.by, ts)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Compute = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("plus2", 2*60*60)
	ts := time.Date(2020, 8, 20, 1, 0, 0, 0, loc)

	got := Compute([]Granularity{Day, Hour}, ts)
	want := []Partition{{"day", 19}, {"hour", 23}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Compute = %v, want %v", got, want)
	}
}

func TestKey(t *testing.T) {
	parts := []Partition{{"year", 2020}, {"month", 8}, {"day", 19}, {"hour", 13}}
	if got := Key(parts); got != "2020/8/19/13" {
		t.Errorf("Key = %q, want %q", got, "2020/8/19/13")
	}
	if got := Key(nil); got != DefaultKey {
		t.Errorf("Key(nil) = %q, want %q", got, DefaultKey)
	}
}

func TestParseBy(t *testing.T) {
	by, err := ParseBy([]string{"year", "Month", " day "})
	if err != nil {
		t.Fatalf("ParseBy failed: %v", err)
	}
	want := []Granularity{Year, Month, Day}
	if !reflect.DeepEqual(by, want) {
		t.Errorf("ParseBy = %v, want %v", by, want)
	}

	if _, err := ParseBy([]string{"week"}); !errors.Is(err, lakeerr.ErrConfig) {
		t.Errorf("ParseBy(week) error = %v, want ErrConfig", err)
	}
	if _, err := ParseBy([]string{"day", "day"}); !errors.Is(err, lakeerr.ErrConfig) {
		t.Errorf("ParseBy(day, day) error = %v, want ErrConfig", err)
	}
}
