// services/event-producer/cmd/event-producer/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/YaganovValera/event-producer/common/configloader"
	"github.com/YaganovValera/event-producer/common/logger"
	"github.com/YaganovValera/event-producer/services/event-producer/internal/app"
	"github.com/YaganovValera/event-producer/services/event-producer/internal/config"
)

type options struct {
	cfgFile string
	input   string
}

func (o *options) bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.cfgFile, "config", "", "path to config file (YAML); empty → defaults + ENV")
	fs.StringVarP(&o.input, "input", "i", "-", "NDJSON input file, '-' for stdin")
}

func main() {
	var opts options

	root := &cobra.Command{
		Use:   "event-producer",
		Short: "Batching Kafka producer: NDJSON records in, compressed batch sends out",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("input") {
				cfg.Ingest.Path = opts.input
			}

			log, err := logger.New(logger.Config{
				Level:   cfg.Logging.Level,
				DevMode: cfg.Logging.DevMode,
			})
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer log.Sync()

			if cfg.Logging.DevMode {
				fmt.Fprintln(os.Stderr, configloader.Dump(cfg))
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Info("event-producer starting",
				zap.String("version", cfg.ServiceVersion),
				zap.Strings("brokers", cfg.Kafka.Brokers),
			)
			if err := app.Run(ctx, cfg, log); err != nil {
				log.Error("event-producer failed", zap.Error(err))
				return err
			}
			log.Info("event-producer stopped")
			return nil
		},
	}

	opts.bind(root.Flags())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
