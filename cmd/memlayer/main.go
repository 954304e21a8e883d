package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SilicateWielder/memlayer/internal/profile"
	"github.com/SilicateWielder/memlayer/plugin/ai"
	"github.com/SilicateWielder/memlayer/server/causal"
	"github.com/SilicateWielder/memlayer/server/consolidation"
	"github.com/SilicateWielder/memlayer/server/retrieval"
	apiv1 "github.com/SilicateWielder/memlayer/server/router/api/v1"
	"github.com/SilicateWielder/memlayer/server/runner/embedding"
	"github.com/SilicateWielder/memlayer/server/salience"
	"github.com/SilicateWielder/memlayer/server/stats"
	"github.com/SilicateWielder/memlayer/store"
	"github.com/SilicateWielder/memlayer/store/db"
)

const (
	greetingBanner = `memlayer - long-term memory for conversational agents`
)

var (
	rootCmd = &cobra.Command{
		Use:   "memlayer",
		Short: "Memory consolidation and retrieval server",
		RunE: func(_ *cobra.Command, _ []string) error {
			instanceProfile := &profile.Profile{
				Mode:    viper.GetString("mode"),
				Addr:    viper.GetString("addr"),
				Port:    viper.GetInt("port"),
				Data:    viper.GetString("data"),
				Driver:  viper.GetString("driver"),
				DSN:     viper.GetString("dsn"),
				Version: "0.1.0",
			}
			instanceProfile.FromEnv()
			if err := instanceProfile.Validate(); err != nil {
				return err
			}
			return serve(instanceProfile)
		},
	}
)

func init() {
	viper.SetEnvPrefix("memlayer")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8230, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func serve(instanceProfile *profile.Profile) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return err
	}
	storeInstance := store.New(driver, instanceProfile)
	defer storeInstance.Close()

	if err := storeInstance.Migrate(ctx); err != nil {
		return err
	}

	var embedder ai.EmbeddingService = ai.Disabled{}
	if instanceProfile.IsAIEnabled() {
		provider, err := ai.NewProvider(&ai.Config{
			BaseURL:        instanceProfile.AIBaseURL,
			APIKey:         instanceProfile.AIAPIKey,
			EmbeddingModel: instanceProfile.AIEmbeddingModel,
			Dimensions:     instanceProfile.EmbeddingDim,
		})
		if err != nil {
			return err
		}
		embedder = provider
	} else {
		slog.Warn("no embedding provider configured, consolidation will run degraded")
	}

	salienceConfig := salience.DefaultConfig()
	inferencer := causal.NewInferencer(storeInstance, causal.DefaultConfig())
	pipeline := consolidation.NewPipeline(storeInstance, embedder, inferencer, salienceConfig)
	engine := retrieval.NewEngine(storeInstance, embedder, retrieval.DefaultConfig())
	collector := stats.NewCollector()

	backfill := embedding.NewRunner(storeInstance, embedder, salienceConfig,
		embedding.WithInferencer(inferencer),
		embedding.WithReporter(collector),
	)
	go backfill.Run(ctx)

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.Use(echomiddleware.Recover())

	apiService := apiv1.NewAPIV1Service(instanceProfile, pipeline, engine, nil, storeInstance, collector)
	apiService.Register(echoServer)

	address := fmt.Sprintf("%s:%d", instanceProfile.Addr, instanceProfile.Port)
	go func() {
		slog.Info(greetingBanner)
		slog.Info("server started",
			"address", address,
			"mode", instanceProfile.Mode,
			"driver", instanceProfile.Driver,
			"version", instanceProfile.Version)
		if err := echoServer.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := echoServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server gracefully", "error", err)
	}
	slog.Info("server shut down")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
