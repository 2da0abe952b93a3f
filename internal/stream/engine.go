// Package stream turns an HTTP byte-range request into batches of parallel
// chunk fetches against the remote backend, re-assembled into a single
// ordered byte stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"telestream/internal/telegram"
)

const (
	DefaultChunkSize   = 256 * 1024
	DefaultParallelism = 10
)

// ErrInvalidRange is returned when the requested range does not satisfy
// 0 <= Start <= End <= Size-1.
var ErrInvalidRange = errors.New("invalid byte range")

// Fetcher retrieves one aligned window of remote bytes. telegram.Client
// satisfies it.
type Fetcher interface {
	FetchChunk(ctx context.Context, locator telegram.Locator, offset int64, limit int) ([]byte, error)
}

// Request describes one stream: the opaque locator, the object's total
// size, and the inclusive byte range to emit.
type Request struct {
	Locator telegram.Locator
	Size    int64
	Start   int64
	End     int64
}

// Engine drives parallel chunk retrieval. Chunk windows are always aligned
// to the chunk size even when the emitted range starts or ends mid-chunk;
// batches of up to parallelism fetches run concurrently and are joined at a
// barrier before any byte of the batch is written, capping in-flight memory
// at parallelism x chunk size.
type Engine struct {
	fetcher     Fetcher
	chunkSize   int64
	parallelism int
	logger      *slog.Logger
}

// Option mutates engine configuration.
type Option func(*Engine)

// WithChunkSize overrides the aligned window size.
func WithChunkSize(size int64) Option {
	return func(e *Engine) {
		if size > 0 {
			e.chunkSize = size
		}
	}
}

// WithParallelism overrides the per-batch fetch fan-out.
func WithParallelism(parallelism int) Option {
	return func(e *Engine) {
		if parallelism > 0 {
			e.parallelism = parallelism
		}
	}
}

// WithLogger installs a logger for per-chunk failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New constructs an Engine around the fetcher.
func New(fetcher Fetcher, opts ...Option) *Engine {
	engine := &Engine{
		fetcher:     fetcher,
		chunkSize:   DefaultChunkSize,
		parallelism: DefaultParallelism,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine
}

// ChunkSize reports the configured aligned window size.
func (e *Engine) ChunkSize() int64 {
	return e.chunkSize
}

// window is one unit of fetch work. The fetching goroutine owns data until
// the barrier; after that the writer loop owns it for trimming and emission.
type window struct {
	offset int64
	data   []byte
}

// Stream writes bytes [req.Start, req.End] of the remote object to w,
// returning the number of bytes written.
//
// A failed fetch skips its window rather than aborting the stream: the
// output simply has a gap. This trades completeness for availability and is
// deliberate. No timeout is imposed on individual fetches; a fetch that
// never completes stalls the stream, which is an accepted limitation.
//
// Cancellation is observed at batch boundaries and on write errors; fetches
// already in flight run to completion and are discarded.
func (e *Engine) Stream(ctx context.Context, w io.Writer, req Request) (int64, error) {
	if req.Size <= 0 || req.Start < 0 || req.Start > req.End || req.End >= req.Size {
		return 0, ErrInvalidRange
	}

	var written int64
	cursor := (req.Start / e.chunkSize) * e.chunkSize
	for cursor <= req.End {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		windows := make([]window, 0, e.parallelism)
		for i := 0; i < e.parallelism && cursor <= req.End; i++ {
			windows = append(windows, window{offset: cursor})
			cursor += e.chunkSize
		}

		var wg sync.WaitGroup
		for i := range windows {
			wg.Add(1)
			go func(win *window) {
				defer wg.Done()
				data, err := e.fetcher.FetchChunk(ctx, req.Locator, win.offset, int(e.chunkSize))
				if err != nil {
					e.logger.Warn("chunk fetch failed, skipping window",
						"offset", win.offset, "error", err)
					return
				}
				win.data = data
			}(&windows[i])
		}
		wg.Wait()

		for i := range windows {
			data := trim(windows[i], req)
			if len(data) == 0 {
				continue
			}
			n, err := w.Write(data)
			written += int64(n)
			if err != nil {
				return written, fmt.Errorf("write chunk at %d: %w", windows[i].offset, err)
			}
		}
	}
	return written, nil
}

// trim drops the leading bytes of a window that precede the requested start
// and the trailing bytes past the requested end.
func trim(win window, req Request) []byte {
	data := win.data
	offset := win.offset
	if len(data) == 0 {
		return nil
	}
	if offset < req.Start {
		skip := req.Start - offset
		if skip >= int64(len(data)) {
			return nil
		}
		data = data[skip:]
		offset = req.Start
	}
	if last := offset + int64(len(data)) - 1; last > req.End {
		data = data[:req.End-offset+1]
	}
	return data
}
