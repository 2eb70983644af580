package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bodgit/atlaspack"
	"github.com/bodgit/atlaspack/preview"
	"github.com/bodgit/atlaspack/server"
	"github.com/charmbracelet/log"
	"github.com/gorilla/handlers"
	"github.com/urfave/cli/v2"
)

const (
	defaultImage    = "atlas.png"
	defaultManifest = "atlas.toml"
	defaultListen   = "localhost:8080"
)

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func newLogger(c *cli.Context) *log.Logger {
	level := log.InfoLevel
	if c.Bool("verbose") {
		level = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

func packFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "names",
			EnvVars: []string{"ATLASPACK_NAMES"},
			Usage:   "sources to pack, in order, instead of every file in `PATH`",
		},
		&cli.BoolFlag{
			Name:    "trim",
			EnvVars: []string{"ATLASPACK_TRIM"},
			Usage:   "trim transparent borders from frames",
		},
		&cli.IntFlag{
			Name:    "padding",
			EnvVars: []string{"ATLASPACK_PADDING"},
			Usage:   "transparent pixels between frames",
		},
		&cli.IntFlag{
			Name:    "max-width",
			EnvVars: []string{"ATLASPACK_MAX_WIDTH"},
			Usage:   "maximum atlas width, 0 for unbounded",
		},
		&cli.IntFlag{
			Name:    "max-height",
			EnvVars: []string{"ATLASPACK_MAX_HEIGHT"},
			Usage:   "maximum atlas height, 0 for unbounded",
		},
		&cli.IntFlag{
			Name:    "colors",
			EnvVars: []string{"ATLASPACK_COLORS"},
			Usage:   "reduce the atlas image to this many colors, 0 for lossless",
		},
		&cli.IntFlag{
			Name:    "workers",
			EnvVars: []string{"ATLASPACK_WORKERS"},
			Usage:   "number of sources decoded concurrently, 0 for one per CPU",
		},
	}
}

// loadConfig reads the configuration file, if any, and applies any flags
// set on the command line over it.
func loadConfig(c *cli.Context) (*atlaspack.Config, error) {
	cfg := new(atlaspack.Config)
	if file := c.String("config"); file != "" {
		var err error
		if cfg, err = atlaspack.LoadConfig(file); err != nil {
			return nil, err
		}
	}

	if c.NArg() > 0 {
		cfg.Path = c.Args().First()
	}

	for name, s := range map[string]*string{
		"image":    &cfg.Image,
		"manifest": &cfg.Manifest,
		"database": &cfg.Database,
		"name":     &cfg.Name,
	} {
		if c.IsSet(name) {
			*s = c.String(name)
		}
	}

	for name, i := range map[string]*int{
		"padding":    &cfg.Padding,
		"max-width":  &cfg.MaxWidth,
		"max-height": &cfg.MaxHeight,
		"colors":     &cfg.Colors,
		"workers":    &cfg.Workers,
	} {
		if c.IsSet(name) {
			*i = c.Int(name)
		}
	}

	if c.IsSet("names") {
		cfg.Names = c.StringSlice("names")
	}
	if c.IsSet("trim") {
		cfg.Trim = c.Bool("trim")
	}

	// An explicitly empty flag skips that output
	if cfg.Image == "" && !c.IsSet("image") {
		cfg.Image = defaultImage
	}
	if cfg.Manifest == "" && !c.IsSet("manifest") {
		cfg.Manifest = defaultManifest
	}
	if cfg.Database != "" && cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.Path)
	}

	return cfg, nil
}

func main() {
	app := cli.NewApp()

	app.Name = "atlaspack"
	app.Usage = "Sprite texture atlas packer"
	app.Version = "1.0.0"

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"ATLASPACK_CONFIG"},
			Usage:   "read settings from TOML `FILE`",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase verbosity",
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:        "pack",
			Usage:       "Pack sprites into an atlas image and manifest",
			Description: "PATH is a directory, a .zip or .7z archive, or a single sprite file.",
			ArgsUsage:   "[PATH]",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:    "image",
					Aliases: []string{"o"},
					EnvVars: []string{"ATLASPACK_IMAGE"},
					Usage:   "write the atlas image to `FILE`, empty to skip (default: " + defaultImage + ")",
				},
				&cli.StringFlag{
					Name:    "manifest",
					Aliases: []string{"m"},
					EnvVars: []string{"ATLASPACK_MANIFEST"},
					Usage:   "write the manifest to `FILE`, format chosen by extension, empty to skip (default: " + defaultManifest + ")",
				},
				&cli.StringFlag{
					Name:    "database",
					EnvVars: []string{"ATLASPACK_DATABASE"},
					Usage:   "also record the atlas in sqlite database `FILE`",
				},
				&cli.StringFlag{
					Name:    "name",
					EnvVars: []string{"ATLASPACK_NAME"},
					Usage:   "atlas name in the database (default: base name of PATH)",
				},
			}, packFlags()...),
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				if cfg.Path == "" {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
				defer stop()

				if _, err := atlaspack.New(newLogger(c)).Pack(ctx, cfg); err != nil {
					return cli.Exit(err, 1)
				}

				return nil
			},
		},
		{
			Name:        "extract",
			Usage:       "Write every frame of an atlas to its own PNG file",
			Description: "",
			ArgsUsage:   "IMAGE MANIFEST DIRECTORY",
			Action: func(c *cli.Context) error {
				if c.NArg() < 3 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				logger := newLogger(c)

				a, err := atlaspack.LoadFiles(c.Args().Get(0), c.Args().Get(1))
				if err != nil {
					return cli.Exit(err, 1)
				}

				if err := extract(a, c.Args().Get(2), logger); err != nil {
					return cli.Exit(err, 1)
				}

				return nil
			},
		},
		{
			Name:        "serve",
			Usage:       "Pack sprites and serve the atlas over HTTP",
			Description: "",
			ArgsUsage:   "[PATH]",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:    "listen",
					Aliases: []string{"l"},
					EnvVars: []string{"ATLASPACK_LISTEN"},
					Value:   defaultListen,
					Usage:   "listen on `ADDRESS`",
				},
			}, packFlags()...),
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return cli.Exit(err, 1)
				}
				if cfg.Path == "" {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				logger := newLogger(c)

				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
				defer stop()

				a, err := atlaspack.New(logger).Build(ctx, cfg)
				if err != nil {
					return cli.Exit(err, 1)
				}

				s, err := server.New(a, cfg.Colors)
				if err != nil {
					return cli.Exit(err, 1)
				}

				access := logger.StandardLog(log.StandardLogOptions{ForceLevel: log.InfoLevel}).Writer()
				srv := &http.Server{
					Addr:              c.String("listen"),
					Handler:           handlers.CombinedLoggingHandler(access, s.Handler()),
					ReadHeaderTimeout: 10 * time.Second,
				}

				go func() {
					<-ctx.Done()
					shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdown)
				}()

				logger.Info("serving atlas", "address", srv.Addr, "frames", a.Registry.Len())

				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return cli.Exit(err, 1)
				}

				return nil
			},
		},
		{
			Name:        "preview",
			Usage:       "Show an atlas image, or one frame of it, in the terminal",
			Description: "",
			ArgsUsage:   "IMAGE [MANIFEST FRAME]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "mode",
					EnvVars: []string{"ATLASPACK_PREVIEW_MODE"},
					Value:   "auto",
					Usage:   "one of auto, kitty, iterm, sixel, truecolor, 256 or none",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 && c.NArg() != 3 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				mode, err := preview.ParseMode(c.String("mode"))
				if err != nil {
					return cli.Exit(err, 1)
				}

				if err := show(os.Stdout, c.Args().Slice(), mode); err != nil {
					return cli.Exit(err, 1)
				}

				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
