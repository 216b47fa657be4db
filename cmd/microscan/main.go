// Command microscan detects microplastics in water imagery.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hydrolens/microscan/internal/config"
	"github.com/hydrolens/microscan/internal/history"
	"github.com/hydrolens/microscan/internal/logging"
	"github.com/hydrolens/microscan/internal/server"
	"github.com/hydrolens/microscan/internal/stream"
)

var version = "dev"

const (
	flagConfig = "config"
	flagDebug  = "debug"
	flagLimit  = "limit"
	flagOut    = "out"
)

func main() {
	var (
		cfg         *config.Config
		logger      *zap.SugaredLogger
		closeLogger func() error
	)

	app := &cli.App{
		Name:    "microscan",
		Usage:   "detect microplastics in water imagery",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"MICROSCAN_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			cfg, err = config.Load(c.String(flagConfig))
			if err != nil {
				return err
			}
			if c.Bool(flagDebug) {
				cfg.LogLevel = "debug"
			}

			zl, closer, err := logging.New(logging.Config{
				Level:      cfg.LogLevel,
				File:       cfg.LogFile,
				MaxSizeMB:  100,
				MaxBackups: 3,
			})
			if err != nil {
				return err
			}
			logger, closeLogger = zl.Sugar(), closer
			return nil
		},
		After: func(c *cli.Context) error {
			if closeLogger != nil {
				return closeLogger()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API and the optional live stream",
				Action: func(c *cli.Context) error {
					return serve(c.Context, cfg, logger)
				},
			},
			{
				Name:      "scan",
				Usage:     "scan one image and print the verdict",
				ArgsUsage: "<image>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "write the annotated image to `FILE`",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("scan expects exactly one image path")
					}
					return scan(c, cfg, logger, c.Args().First(), c.String(flagOut))
				},
			},
			{
				Name:  "history",
				Usage: "print recent scan results",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagLimit,
						Usage: "number of records to print",
						Value: history.DefaultLimit,
					},
				},
				Action: func(c *cli.Context) error {
					store := history.NewStore(cfg.HistoryFile, cfg.HistoryLimit, nil)
					records, err := store.List(c.Int(flagLimit))
					if err != nil {
						return err
					}
					return printJSON(c, records)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnw("teardown", "error", err)
		}
	}()

	deps := server.Deps{
		Detector: a.pipeline,
		History:  history.NewStore(cfg.HistoryFile, cfg.HistoryLimit, nil),
		Pools:    a.pools(),
		Logger:   logger.Named("http"),
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.StreamURL != "" {
		deps.Live = stream.NewCell(nil)
		source := stream.NewMJPEGSource(cfg.StreamURL, nil)
		defer source.Close()
		runner := stream.NewRunner(source, a.pipeline, deps.Live, stream.RunnerConfig{
			RetryAttempts: cfg.StreamRetryAttempts,
			RetryBackoff:  cfg.StreamRetryBackoff,
		}, nil, logger.Named("stream"))

		g.Go(func() error {
			logger.Infow("live stream started", "url", cfg.StreamURL)
			if err := runner.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	srv, err := server.New(server.Options{
		Addr:           cfg.Addr,
		StaticDir:      cfg.StaticDir,
		RequestTimeout: cfg.RequestTimeout,
		Stride:         cfg.Stride,
	}, deps)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	return g.Wait()
}

func scan(c *cli.Context, cfg *config.Config, logger *zap.SugaredLogger, path, out string) error {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(c.Context, cfg.RequestTimeout)
	defer cancel()
	res, err := a.pipeline.Process(ctx, img)
	if err != nil {
		return err
	}

	if out == "" {
		base := filepath.Base(path)
		out = "result_" + strings.TrimSuffix(base, filepath.Ext(base)) + ".jpg"
	}
	if err := imaging.Save(res.Annotated, out); err != nil {
		return errors.Wrapf(err, "save %s", out)
	}

	rec := history.FromFrame(filepath.Base(out), res.Verdict, out, a.pipeline.Engine())
	rec.Timestamp = time.Now().Unix()
	return printJSON(c, rec)
}
