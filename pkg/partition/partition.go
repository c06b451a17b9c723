// Package partition derives calendar partitions from extraction timestamps.
package partition

import (
	"strconv"
	"strings"
	"time"

	"github.com/eunmann/singerlake/pkg/lakeerr"
)

// Granularity is one calendar unit a stream can be partitioned by.
type Granularity int

const (
	Year Granularity = iota
	Month
	Day
	Hour
	Minute
	Second
)

var granularityNames = [...]string{"year", "month", "day", "hour", "minute", "second"}

// String returns the partition name used in paths ("year", "month", ...).
func (g Granularity) String() string {
	if g < Year || g > Second {
		return "unknown"
	}
	return granularityNames[g]
}

// ParseGranularity maps a configured name to its Granularity.
func ParseGranularity(s string) (Granularity, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range granularityNames {
		if n == name {
			return Granularity(i), nil
		}
	}
	return 0, lakeerr.NewConfigError("writer.partition_by", s, "expected one of year, month, day, hour, minute, second")
}

// ParseBy parses an ordered partition-by list. Duplicates are rejected.
func ParseBy(names []string) ([]Granularity, error) {
	by := make([]Granularity, 0, len(names))
	seen := make(map[Granularity]bool, len(names))
	for _, n := range names {
		g, err := ParseGranularity(n)
		if err != nil {
			return nil, err
		}
		if seen[g] {
			return nil, lakeerr.NewConfigError("writer.partition_by", n, "listed more than once")
		}
		seen[g] = true
		by = append(by, g)
	}
	return by, nil
}

// Partition is one named partition value, e.g. {month 8}.
type Partition struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// value extracts the calendar field for g from a UTC time.
func value(g Granularity, t time.Time) int {
	switch g {
	case Year:
		return t.Year()
	case Month:
		return int(t.Month())
	case Day:
		return t.Day()
	case Hour:
		return t.Hour()
	case Minute:
		return t.Minute()
	default:
		return t.Second()
	}
}

// Compute returns the partitions of t in the order given by by. The time is
// converted to UTC first. An empty by yields no partitions.
func Compute(by []Granularity, t time.Time) []Partition {
	t = t.UTC()
	parts := make([]Partition, len(by))
	for i, g := range by {
		parts[i] = Partition{Name: g.String(), Value: value(g, t)}
	}
	return parts
}

// DefaultKey is the key of the single partition used when no partition-by
// list is configured.
const DefaultKey = "default"

// Key joins partition values into one comparable key, e.g. "2020/8/19/13".
func Key(parts []Partition) string {
	if len(parts) == 0 {
		return DefaultKey
	}
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(strconv.Itoa(p.Value))
	}
	return b.String()
}
