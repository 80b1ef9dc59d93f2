package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RMMwalali/kraftbasic-sub001/internal/config"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/service"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kraftsync",
		Short:         "Offline-first sync core for the kraftbasic store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(config.FileEnv), "config file (yaml or toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newRunCmd(opts),
		newDrainCmd(opts),
		newOutboxCmd(opts),
		newDeadLetterCmd(opts),
		newCacheCmd(opts),
		newBackendCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and initialises the global logger on
// stderr so command output stays machine readable.
func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return config.Config{}, err
	}
	logging.Init(os.Stderr, level)
	return cfg, nil
}

// open builds a service that is not started.
func (o *rootOptions) open(ctx context.Context) (*service.Service, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return service.New(ctx, cfg)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
