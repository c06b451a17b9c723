// Package lakepath computes the logical layout of a lake.
//
// Paths are backend-neutral GenericPaths; storage backends translate them
// into filesystem paths or object keys. Nothing in this package does I/O.
package lakepath

import (
	"strings"
)

// GenericPath is an immutable sequence of path segments plus a flag telling
// whether it is relative to the process working directory.
type GenericPath struct {
	segments []string
	relative bool
}

// New builds a GenericPath from segments.
func New(relative bool, segments ...string) GenericPath {
	return GenericPath{segments: append([]string(nil), segments...), relative: relative}
}

// Parse splits a slash separated path. A leading slash makes it absolute.
func Parse(p string) GenericPath {
	relative := !strings.HasPrefix(p, "/")
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return GenericPath{segments: segs, relative: relative}
}

// Segments returns a copy of the path segments.
func (p GenericPath) Segments() []string {
	return append([]string(nil), p.segments...)
}

// Relative reports whether the path is relative.
func (p GenericPath) Relative() bool { return p.relative }

// Len returns the number of segments.
func (p GenericPath) Len() int { return len(p.segments) }

// Base returns the last segment, or "" for an empty path.
func (p GenericPath) Base() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path without its last segment.
func (p GenericPath) Parent() GenericPath {
	if len(p.segments) == 0 {
		return p
	}
	return GenericPath{segments: p.segments[:len(p.segments)-1 : len(p.segments)-1], relative: p.relative}
}

// Extend returns a new path with segments appended. The receiver is not
// modified.
func (p GenericPath) Extend(segments ...string) GenericPath {
	out := make([]string, 0, len(p.segments)+len(segments))
	out = append(out, p.segments...)
	out = append(out, segments...)
	return GenericPath{segments: out, relative: p.relative}
}

// Equal reports structural equality: same segments and same flag.
func (p GenericPath) Equal(o GenericPath) bool {
	if p.relative != o.relative || len(p.segments) != len(o.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}

// Key returns a comparable value usable as a map key. Two paths have the
// same Key exactly when they are Equal.
func (p GenericPath) Key() string {
	prefix := "/"
	if p.relative {
		prefix = "./"
	}
	return prefix + strings.Join(p.segments, "\x00")
}

// String joins the segments with slashes, with a leading slash when the
// path is absolute.
func (p GenericPath) String() string {
	s := strings.Join(p.segments, "/")
	if !p.relative {
		return "/" + s
	}
	return s
}

// Rel returns the segments of p below base, and false when base is not a
// prefix of p.
func (p GenericPath) Rel(base GenericPath) ([]string, bool) {
	if p.relative != base.relative || len(base.segments) > len(p.segments) {
		return nil, false
	}
	for i := range base.segments {
		if base.segments[i] != p.segments[i] {
			return nil, false
		}
	}
	return append([]string(nil), p.segments[len(base.segments):]...), true
}
