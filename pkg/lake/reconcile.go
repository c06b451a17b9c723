package lake

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/eunmann/singerlake/internal/logctx"
	"github.com/eunmann/singerlake/pkg/datafile"
	"github.com/eunmann/singerlake/pkg/lakepath"
	"github.com/eunmann/singerlake/pkg/lock"
	"github.com/eunmann/singerlake/pkg/manifest"
)

// minDataFileDepth is {schemaHash}/{partition or default}/{name}.
const minDataFileDepth = 3

// refreshEvery is how many listed files are merged between lease refreshes.
const refreshEvery = 1000

// ReconcileStream lists the data files present under the stream directory
// and adds any the manifest is missing, together with their schema
// versions. It returns the number of files added.
func (l *Lake) ReconcileStream(ctx context.Context, tapID, streamID string) (int, error) {
	if err := checkStreamIDs(tapID, streamID); err != nil {
		return 0, err
	}
	listed, err := l.backend.List(ctx, l.resolver.StreamPath(tapID, streamID))
	if err != nil {
		return 0, err
	}
	var rels []string
	for _, rel := range listed {
		if strings.Count(rel, "/")+1 < minDataFileDepth || !datafile.IsDataFileName(path.Base(rel)) {
			continue
		}
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	observed := l.now().UTC().Truncate(time.Microsecond)
	var added int
	err = l.store.UpdateStream(ctx, tapID, streamID, func(ctx context.Context, g *lock.Guard, m *manifest.StreamManifest) (bool, error) {
		added = m.AddFiles(rels...)
		versions := 0
		for i, rel := range rels {
			if i > 0 && i%refreshEvery == 0 {
				if err := g.Refresh(ctx); err != nil {
					return false, err
				}
			}
			hash, _, _ := strings.Cut(rel, "/")
			if m.AddVersion(hash, observed) {
				versions++
			}
		}
		return added > 0 || versions > 0, nil
	})
	if err != nil {
		return 0, err
	}

	log := logctx.FromContext(logctx.WithStream(ctx, tapID, streamID))
	if added > 0 {
		log.Info().Int("added", added).Int("listed", len(rels)).Msg("reconciled stream manifest")
	} else {
		log.Debug().Int("listed", len(rels)).Msg("stream manifest up to date")
	}
	return added, nil
}

// ReconcileTap discovers stream directories holding data files, registers
// them in the tap and lake manifests and reconciles each one. It returns
// the files added per stream.
func (l *Lake) ReconcileTap(ctx context.Context, tapID string) (map[string]int, error) {
	if err := lakepath.ValidID("tap", tapID); err != nil {
		return nil, err
	}
	listed, err := l.backend.List(ctx, l.resolver.TapPath(tapID))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var streams []string
	for _, rel := range listed {
		if strings.Count(rel, "/")+1 < minDataFileDepth+1 || !datafile.IsDataFileName(path.Base(rel)) {
			continue
		}
		stream, _, _ := strings.Cut(rel, "/")
		if !seen[stream] {
			seen[stream] = true
			streams = append(streams, stream)
		}
	}
	sort.Strings(streams)

	if err := l.RegisterTap(ctx, tapID); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(streams))
	for _, stream := range streams {
		if err := l.RegisterStream(ctx, tapID, stream); err != nil {
			return nil, err
		}
		n, err := l.ReconcileStream(ctx, tapID, stream)
		if err != nil {
			return nil, err
		}
		out[stream] = n
	}
	return out, nil
}
