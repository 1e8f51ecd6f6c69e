package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cdc-streamer/internal/config"
	"cdc-streamer/internal/engine"
	"cdc-streamer/internal/sink"
)

var errNoPipelines = errors.New("no pipeline could be started")

type sinkFactory func(ctx context.Context, cfg config.StreamingConfig, logger *logrus.Logger) (sink.Sink, error)

type pipelineDeps struct {
	engineOpts []engine.Option
	newSink    sinkFactory
}

func defaultDeps() pipelineDeps {
	return pipelineDeps{newSink: sink.New}
}

// runPipelines starts one engine and one sink per database matching the
// selector and blocks until all of them stop. A database whose connector or
// sink cannot be established is skipped.
func runPipelines(ctx context.Context, cfg *config.Config, selector string, logger *logrus.Logger, deps pipelineDeps) error {
	databases := cfg.SelectDatabases(selector)
	if len(databases) == 0 {
		return fmt.Errorf("no database matches selector %q", selector)
	}

	var g errgroup.Group
	started := 0
	for _, db := range databases {
		log := logger.WithField("database", db.Name)

		out, err := deps.newSink(ctx, cfg.Streaming, logger)
		if err != nil {
			log.Errorf("Skipping database: %v", err)
			continue
		}

		eng := engine.New(db, logger, deps.engineOpts...)
		events, err := eng.Start(ctx)
		if err != nil {
			log.Errorf("Skipping database: %v", err)
			if cerr := out.Close(); cerr != nil {
				log.Warnf("Error closing sink: %v", cerr)
			}
			continue
		}

		started++
		log.Infof("Streaming %s changes via %s", db.Type, cfg.Streaming.SinkKind())
		g.Go(func() error {
			defer func() {
				if err := out.Close(); err != nil {
					log.Warnf("Error closing sink: %v", err)
				}
			}()
			err := out.Run(ctx, events)
			eng.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if started == 0 {
		return errNoPipelines
	}
	return g.Wait()
}
