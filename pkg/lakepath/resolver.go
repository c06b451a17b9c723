package lakepath

import (
	"strconv"
	"strings"
	"time"

	"github.com/eunmann/singerlake/pkg/datafile"
	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/partition"
)

const (
	// RawPrefix is the directory under the lake root holding all taps.
	RawPrefix = "raw"
	// ManifestFilename is the manifest name at every level.
	ManifestFilename = "manifest.json"
	// DefaultPartitionSegment replaces partition segments when no
	// partition-by list is configured.
	DefaultPartitionSegment = "default"
)

// PathType selects how partition segments are formatted.
type PathType int

const (
	// Hive formats partitions as name=value.
	Hive PathType = iota
	// Generic formats partitions as the bare value.
	Generic
)

// ParsePathType maps a configured selector to a PathType.
func ParsePathType(s string) (PathType, error) {
	switch strings.ToLower(s) {
	case "", "hive":
		return Hive, nil
	case "generic":
		return Generic, nil
	}
	return 0, lakeerr.NewConfigError("store.path.path_type", s, "expected hive or generic")
}

func (t PathType) String() string {
	if t == Generic {
		return "generic"
	}
	return "hive"
}

func (t PathType) format(p partition.Partition) string {
	if t == Generic {
		return strconv.Itoa(p.Value)
	}
	return p.Name + "=" + strconv.Itoa(p.Value)
}

// Resolver computes every logical path of a lake.
type Resolver struct {
	root        GenericPath
	pathType    PathType
	partitionBy []partition.Granularity
}

// NewResolver parses the path type selector and returns a Resolver rooted
// at root that partitions by the given ordered granularities. An unknown
// selector fails here rather than at call time.
func NewResolver(root GenericPath, pathType string, partitionBy []partition.Granularity) (*Resolver, error) {
	pt, err := ParsePathType(pathType)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		root:        root,
		pathType:    pt,
		partitionBy: append([]partition.Granularity(nil), partitionBy...),
	}, nil
}

// PartitionBy returns the configured partition order.
func (r *Resolver) PartitionBy() []partition.Granularity {
	return append([]partition.Granularity(nil), r.partitionBy...)
}

// Partitions computes the partition tuple of an extraction time.
func (r *Resolver) Partitions(t time.Time) []partition.Partition {
	return partition.Compute(r.partitionBy, t)
}

// Root returns the lake root.
func (r *Resolver) Root() GenericPath { return r.root }

// PathType returns the configured partition formatting.
func (r *Resolver) PathType() PathType { return r.pathType }

// RawPath returns lakeRoot/raw.
func (r *Resolver) RawPath() GenericPath {
	return r.root.Extend(RawPrefix)
}

// LakeManifestPath returns lakeRoot/raw/manifest.json.
func (r *Resolver) LakeManifestPath() GenericPath {
	return r.RawPath().Extend(ManifestFilename)
}

// ValidID checks that id can name a tap or stream directory: it must be
// non-empty, not "." or "..", and free of path separators and NUL. kind
// names the id in the returned InvalidIDError.
func ValidID(kind, id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		return &lakeerr.InvalidIDError{Kind: kind, ID: id}
	}
	return nil
}

// TapPath returns lakeRoot/raw/{tapID}.
func (r *Resolver) TapPath(tapID string) GenericPath {
	return r.RawPath().Extend(tapID)
}

// TapManifestPath returns lakeRoot/raw/{tapID}/manifest.json.
func (r *Resolver) TapManifestPath(tapID string) GenericPath {
	return r.TapPath(tapID).Extend(ManifestFilename)
}

// StreamPath returns lakeRoot/raw/{tapID}/{streamID}.
func (r *Resolver) StreamPath(tapID, streamID string) GenericPath {
	return r.TapPath(tapID).Extend(streamID)
}

// StreamManifestPath returns lakeRoot/raw/{tapID}/{streamID}/manifest.json.
func (r *Resolver) StreamManifestPath(tapID, streamID string) GenericPath {
	return r.StreamPath(tapID, streamID).Extend(ManifestFilename)
}

// PartitionSegments formats partitions in their given order, or returns
// the single default segment when there are none.
func (r *Resolver) PartitionSegments(parts []partition.Partition) []string {
	if len(parts) == 0 {
		return []string{DefaultPartitionSegment}
	}
	segs := make([]string, len(parts))
	for i, p := range parts {
		segs[i] = r.pathType.format(p)
	}
	return segs
}

// StreamFileRelPath returns the file's segments relative to its stream
// directory: {schemaHash}/{partitions...}/{fileName}.
func (r *Resolver) StreamFileRelPath(f datafile.File) []string {
	segs := make([]string, 0, len(f.Partitions)+2)
	segs = append(segs, f.SchemaHash)
	segs = append(segs, r.PartitionSegments(f.Partitions)...)
	return append(segs, f.Name())
}

// StreamFilePath returns the committed location of a data file.
func (r *Resolver) StreamFilePath(f datafile.File) GenericPath {
	return r.StreamPath(f.TapID, f.StreamID).Extend(r.StreamFileRelPath(f)...)
}
