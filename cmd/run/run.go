// Package run contains the command to run an ItemVault server.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/itemvault/itemvault/pkg/logger"
	"github.com/itemvault/itemvault/pkg/server"
	serverconfig "github.com/itemvault/itemvault/pkg/server/config"
	"github.com/itemvault/itemvault/pkg/storage"
	"github.com/itemvault/itemvault/pkg/storage/memory"
	"github.com/itemvault/itemvault/pkg/storage/postgres"
	"github.com/itemvault/itemvault/pkg/storage/sqlcommon"
	"github.com/itemvault/itemvault/pkg/storage/sqlite"
	"github.com/itemvault/itemvault/pkg/telemetry"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ItemVault server",
		Long:  "Run the ItemVault server.",
		Run:   run,
		Args:  cobra.NoArgs,
	}

	bindRunFlags(cmd)

	return cmd
}

// ReadConfig reads the server config from viper, layered over the defaults.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load server config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	log := logger.MustNewLogger(config.Log.Format, config.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runServer(ctx, config, log); err != nil {
		log.Fatal("server exited with an error", zap.Error(err))
	}
}

func runServer(ctx context.Context, config *serverconfig.Config, log logger.Logger) error {
	if config.Trace.Enabled {
		log.Info("🕵 tracing enabled",
			zap.String("endpoint", config.Trace.OTLPEndpoint),
			zap.Float64("sampleRatio", config.Trace.SampleRatio),
		)
		tp := telemetry.MustNewTracerProvider(
			telemetry.WithOTLPEndpoint(config.Trace.OTLPEndpoint),
			telemetry.WithServiceName("itemvault"),
			telemetry.WithSamplingRatio(config.Trace.SampleRatio),
		)
		defer func() {
			_ = tp.ForceFlush(context.Background())
			_ = tp.Shutdown(context.Background())
		}()
	}

	ds, err := buildDatastore(config, log)
	if err != nil {
		return err
	}
	defer ds.Close()

	if err := ds.Ready(ctx); err != nil {
		return fmt.Errorf("datastore is not ready: %w", err)
	}

	srv := server.New(config, ds, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}

func buildDatastore(config *serverconfig.Config, log logger.Logger) (storage.Datastore, error) {
	engine := config.Datastore.Engine

	opts := []sqlcommon.DatastoreOption{
		sqlcommon.WithUsername(config.Datastore.Username),
		sqlcommon.WithPassword(config.Datastore.Password),
		sqlcommon.WithLogger(log),
		sqlcommon.WithMaxOpenConns(config.Datastore.MaxOpenConns),
		sqlcommon.WithMaxIdleConns(config.Datastore.MaxIdleConns),
		sqlcommon.WithConnMaxIdleTime(config.Datastore.ConnMaxIdleTime),
		sqlcommon.WithConnMaxLifetime(config.Datastore.ConnMaxLifetime),
	}
	if config.Datastore.Metrics {
		opts = append(opts, sqlcommon.WithMetrics())
	}
	dsCfg := sqlcommon.NewConfig(opts...)

	switch engine {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(config.Datastore.URI, dsCfg)
	case "postgres":
		return postgres.New(config.Datastore.URI, dsCfg)
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", engine)
	}
}
