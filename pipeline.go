package atlaspack

import (
	"context"
	"io/fs"
	"sync"

	"github.com/bodgit/atlaspack/source"
	"github.com/pkg/errors"
)

var errCancelled = errors.New("decode cancelled")

type job struct {
	index int
	entry source.Entry
}

func feedEntries(ctx context.Context, entries []source.Entry) (<-chan job, <-chan error, error) {
	out := make(chan job)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for i, e := range entries {
			select {
			case out <- job{index: i, entry: e}:
			case <-ctx.Done():
				errc <- errCancelled
				return
			}
		}
	}()
	return out, errc, nil
}

func (p *Packer) decodeWorker(ctx context.Context, in <-chan job, sources []Source) (<-chan error, error) {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		for j := range in {
			if ctx.Err() != nil {
				return
			}

			s, err := source.Decode(j.entry)
			if err != nil {
				errc <- decodeError(j.entry, err)
				return
			}

			p.logger.Debug("decoded source", "source", s.Name(), "path", s.Path(), "frames", s.NumFrames())

			// Each index is written by exactly one worker
			sources[j.index] = s
		}
	}()
	return errc, nil
}

func decodeError(e source.Entry, err error) error {
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Error{Kind: SourceNotFound, Path: e.Path, Err: err}
	case errors.As(err, &pathErr):
		return ioFailure(e.Path, err)
	default:
		return &Error{Kind: DecodeFailure, Path: e.Path, Err: err}
	}
}

// decode decodes entries using a pool of workers, returning the sources in
// the same order as entries. The first error stops the pipeline.
func (p *Packer) decode(ctx context.Context, entries []source.Entry, workers int) ([]Source, error) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	sources := make([]Source, len(entries))

	var errcList []<-chan error

	jobs, errc, err := feedEntries(ctx, entries)
	if err != nil {
		return nil, err
	}
	errcList = append(errcList, errc)

	for i := 0; i < min(workers, len(entries)); i++ {
		errc, err := p.decodeWorker(ctx, jobs, sources)
		if err != nil {
			return nil, err
		}
		errcList = append(errcList, errc)
	}

	if err := waitForPipeline(errcList...); err != nil {
		if errors.Is(err, errCancelled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	// A worker stopping early on cancellation reports nothing
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return sources, nil
}

func waitForPipeline(errs ...<-chan error) error {
	errc := mergeErrors(errs...)
	for err := range errc {
		if err != nil {
			return err
		}
	}
	return nil
}

func mergeErrors(cs ...<-chan error) <-chan error {
	var wg sync.WaitGroup
	out := make(chan error, len(cs))
	wg.Add(len(cs))
	for _, c := range cs {
		go func(c <-chan error) {
			for n := range c {
				out <- n
			}
			wg.Done()
		}(c)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
