package lake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/eunmann/singerlake/internal/logctx"
	"github.com/eunmann/singerlake/pkg/logging"
	"github.com/eunmann/singerlake/pkg/singer"
	"github.com/eunmann/singerlake/pkg/writer"
)

// progressInterval is how often Ingest logs record throughput.
const progressInterval = 30 * time.Second

var (
	// ErrRecordBeforeSchema is returned for a RECORD whose stream has not
	// sent a SCHEMA yet.
	ErrRecordBeforeSchema = errors.New("record before schema")
	// ErrNoStream is returned for a SCHEMA or RECORD without a stream name.
	ErrNoStream = errors.New("message has no stream")
)

// IngestResult summarizes one Ingest call.
type IngestResult struct {
	// Streams holds the commit of each stream, keyed by stream id.
	Streams map[string]*CommitResult
	// Records counts RECORD messages per stream.
	Records map[string]int
	// State is the last STATE message seen, or nil.
	State singer.Message
}

// Ingest reads Singer messages for one tap from r until EOF, writing one
// session per stream, and commits the streams in first-record order once
// input ends. An input or write error aborts every session before anything
// is committed.
func (l *Lake) Ingest(ctx context.Context, tapID string, r io.Reader) (res *IngestResult, err error) {
	ctx = logctx.WithStr(ctx, "tap_id", tapID)
	log := logctx.FromContext(ctx)

	schemas := make(map[string]writer.Schema)
	writers := make(map[string]*writer.RecordWriter)
	var order []string
	defer func() {
		if err != nil {
			for _, w := range writers {
				w.Abort()
			}
		}
	}()

	res = &IngestResult{
		Streams: make(map[string]*CommitResult),
		Records: make(map[string]int),
	}
	progress := logging.NewProgress("write", progressInterval, log)
	msgs := singer.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := msgs.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch singer.Type(msg) {
		case singer.TypeSchema:
			stream := singer.Stream(msg)
			if stream == "" {
				return nil, fmt.Errorf("line %d: %w", msgs.Line(), ErrNoStream)
			}
			s, err := writer.NewSchema(msg)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", msgs.Line(), err)
			}
			schemas[stream] = s
		case singer.TypeRecord:
			stream := singer.Stream(msg)
			if stream == "" {
				return nil, fmt.Errorf("line %d: %w", msgs.Line(), ErrNoStream)
			}
			s, ok := schemas[stream]
			if !ok {
				return nil, fmt.Errorf("line %d: stream %s: %w", msgs.Line(), stream, ErrRecordBeforeSchema)
			}
			w := writers[stream]
			if w == nil {
				w, err = l.NewRecordWriter(ctx, tapID, stream)
				if err != nil {
					return nil, err
				}
				writers[stream] = w
				order = append(order, stream)
			}
			if err := w.Write(s, msg); err != nil {
				return nil, fmt.Errorf("line %d: stream %s: %w", msgs.Line(), stream, err)
			}
			res.Records[stream]++
			progress.Add(1)
		case singer.TypeState:
			res.State = msg
		default:
			log.Debug().Int("line", msgs.Line()).Str("type", singer.Type(msg)).Msg("skipping message")
		}
	}

	for _, stream := range order {
		w := writers[stream]
		files, err := w.Finalize()
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", stream, err)
		}
		cr, err := l.Commit(ctx, tapID, stream, files)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", stream, err)
		}
		if err := w.Cleanup(); err != nil {
			log.Warn().Err(err).Str("stream_id", stream).Msg("spool cleanup failed")
		}
		res.Streams[stream] = cr
	}
	progress.Done()
	return res, nil
}
