/*
Package atlaspack packs named, multi-frame sprite sources into a single
texture atlas: one merged RGBA image plus a manifest giving the rectangle of
every frame within it.

Frames are placed with a skyline packer, in source order, onto a canvas that
grows as needed. Every frame gets a unique identifier, the source basename
for single frame sources or basename_index otherwise, so a renderer can find
any frame again from the manifest alone.
*/
package atlaspack

import (
	"context"
	"io"
	"time"

	"github.com/bodgit/atlaspack/source"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// Packer runs complete packing jobs: collecting and decoding sources,
// building the atlas and writing it out.
type Packer struct {
	logger *log.Logger
}

// New returns a Packer that logs to logger. A nil logger discards
// everything.
func New(logger *log.Logger) *Packer {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Packer{
		logger: logger,
	}
}

// Collect finds and decodes the sources named by cfg, in packing order.
func (p *Packer) Collect(ctx context.Context, cfg *Config) ([]Source, error) {
	entries, err := source.Collect(cfg.Path, cfg.Names)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return nil, &Error{Kind: SourceNotFound, Path: cfg.Path, Err: err}
		}
		if errors.Is(err, source.ErrUnsupported) {
			return nil, &Error{Kind: DecodeFailure, Path: cfg.Path, Err: err}
		}
		return nil, ioFailure(cfg.Path, err)
	}
	if len(entries) == 0 {
		return nil, &Error{Kind: SourceNotFound, Path: cfg.Path, Err: errors.New("no sources")}
	}

	p.logger.Debug("collected sources", "path", cfg.Path, "sources", len(entries))

	return p.decode(ctx, entries, cfg.workers())
}

// Build collects and decodes the sources named by cfg and packs them.
func (p *Packer) Build(ctx context.Context, cfg *Config) (*Atlas, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sources, err := p.Collect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return Build(sources, cfg.Options())
}

// Pack builds the atlas described by cfg and writes whichever of its image
// and manifest are configured, and optionally records it in a frame
// database. Nothing is written unless
// the whole atlas was built.
func (p *Packer) Pack(ctx context.Context, cfg *Config) (*Atlas, error) {
	start := time.Now()

	a, err := p.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	size := a.Canvas.Bounds().Size()
	p.logger.Info("packed atlas", "frames", a.Registry.Len(), "width", size.X, "height", size.Y)

	if err := WriteFiles(a, cfg.Image, cfg.Manifest, cfg.Colors); err != nil {
		return nil, err
	}

	p.logger.Debug("wrote atlas", "image", cfg.Image, "manifest", cfg.Manifest)

	if cfg.Database != "" {
		db, err := NewFrameDB(cfg.Database)
		if err != nil {
			return nil, ioFailure(cfg.Database, err)
		}
		defer db.Close()

		if err := db.Store(cfg.Name, a); err != nil {
			return nil, ioFailure(cfg.Database, err)
		}

		p.logger.Debug("stored atlas", "database", cfg.Database, "name", cfg.Name)
	}

	p.logger.Info("finished", "image", cfg.Image, "manifest", cfg.Manifest, "elapsed", time.Since(start).Round(time.Millisecond))

	return a, nil
}
