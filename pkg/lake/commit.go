package lake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eunmann/singerlake/internal/logctx"
	"github.com/eunmann/singerlake/pkg/datafile"
	"github.com/eunmann/singerlake/pkg/lock"
	"github.com/eunmann/singerlake/pkg/manifest"
	"github.com/eunmann/singerlake/pkg/storage"
)

// maxPlaceAttempts bounds the part suffixes tried for one file name.
const maxPlaceAttempts = 1000

// ErrStreamMismatch is returned when committing a file to another stream.
var ErrStreamMismatch = errors.New("file belongs to another stream")

// CommitResult describes one commit.
type CommitResult struct {
	// Files are the committed files with their final Part.
	Files []datafile.File
	// Paths are the manifest entries, relative to the stream directory.
	Paths []string
	// NewVersions are schema hashes first observed by this commit.
	NewVersions []string
}

// Commit places finalized files at their partition paths and records them
// in the stream manifest. Placement runs concurrently and never overwrites;
// a taken name gets the next part suffix. If placement fails, files placed
// so far stay on the store unlisted until ReconcileStream picks them up.
func (l *Lake) Commit(ctx context.Context, tapID, streamID string, files []datafile.File) (*CommitResult, error) {
	if err := checkStreamIDs(tapID, streamID); err != nil {
		return nil, err
	}
	res := &CommitResult{}
	if len(files) == 0 {
		return res, nil
	}
	for _, f := range files {
		if f.TapID != tapID || f.StreamID != streamID {
			return nil, fmt.Errorf("commit %s to %s/%s: %w", f, tapID, streamID, ErrStreamMismatch)
		}
	}

	ctx = logctx.WithStream(ctx, tapID, streamID)
	log := logctx.FromContext(ctx)
	start := time.Now()

	placed := make([]datafile.File, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Writer.CommitConcurrency)
	for i, f := range files {
		g.Go(func() error {
			pf, err := l.place(gctx, f)
			if err != nil {
				return err
			}
			placed[i] = pf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("commit aborted during placement; run reconcile to list placed files")
		return nil, err
	}

	paths := make([]string, len(placed))
	for i, f := range placed {
		paths[i] = strings.Join(l.resolver.StreamFileRelPath(f), "/")
	}

	observed := l.now().UTC().Truncate(time.Microsecond)
	var newVersions []string
	err := l.store.UpdateStream(ctx, tapID, streamID, func(_ context.Context, _ *lock.Guard, m *manifest.StreamManifest) (bool, error) {
		newVersions = newVersions[:0]
		added := m.AddFiles(paths...)
		for _, f := range placed {
			if m.AddVersion(f.SchemaHash, observed) {
				newVersions = append(newVersions, f.SchemaHash)
			}
		}
		return added > 0 || len(newVersions) > 0, nil
	})
	if err != nil {
		return nil, err
	}

	res.Files = placed
	res.Paths = paths
	res.NewVersions = newVersions
	log.Info().
		Int("files", len(placed)).
		Int("new_versions", len(newVersions)).
		Dur("elapsed", time.Since(start)).
		Msg("committed files")
	return res, nil
}

func (l *Lake) place(ctx context.Context, f datafile.File) (datafile.File, error) {
	for range maxPlaceAttempts {
		dst := l.resolver.StreamFilePath(f)
		err := l.backend.PlaceFile(ctx, f.LocalPath, dst)
		if errors.Is(err, storage.ErrExist) {
			f.Part++
			continue
		}
		if err != nil {
			return f, fmt.Errorf("place %s: %w", f, err)
		}
		f.LocalPath = ""
		return f, nil
	}
	return f, fmt.Errorf("place %s: no free name after %d attempts: %w", f, maxPlaceAttempts, storage.ErrExist)
}
