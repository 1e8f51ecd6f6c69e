package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cdc-streamer/internal/config"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          "cdc-streamer",
		Short:        "Stream database changes to Kafka, Redis or NATS",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStreamer(cmd.Context())
		},
	}
	command.Flags().String("config", defaultConfigPath, "path to config file")
	command.Flags().String("only", "", "database selector (psql, scylla, mysql); overrides active_db")
	command.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initViper(cmd)
	}
	return command
}

func initViper(cmd *cobra.Command) error {
	viper.Reset()
	viper.SetEnvPrefix("CDC_STREAMER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, key := range []string{"config", "only"} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else if level != "" {
		logger.Warnf("Unknown log level %q, using info", level)
	}
	return logger
}

func runStreamer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logrus.Errorf("Failed to load config: %v", err)
		return err
	}

	logger := newLogger(cfg.Logging.Level)
	logger.Infof("Starting CDC streamer with config %s", configPath)

	if cfg.Metrics.Enabled {
		logger.Infof("Metrics enabled on port %d but no exporter is available; ignoring", cfg.Metrics.Port)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	selector := cfg.Selector(viper.GetString("only"))
	if err := runPipelines(ctx, cfg, selector, logger, defaultDeps()); err != nil {
		logger.Errorf("CDC streamer failed: %v", err)
		return err
	}

	logger.Info("CDC streamer stopped")
	return nil
}
