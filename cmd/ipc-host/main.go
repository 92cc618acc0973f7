package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridge"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/config"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/db"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/event"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/isolation"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/logging"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/metrics"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/protocol"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

var (
	logger = logging.New()
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("FATAL: Failed to load configuration",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	logger = logging.NewWithWriter(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracing",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Failed to flush traces",
				slog.String("error", err.Error()),
			)
		}
	}()

	var awsCfg aws.Config
	if needsAWS(cfg) {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("FATAL: Failed to load AWS config",
				slog.String("error", err.Error()),
			)
			panic(err)
		}
		otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	}

	registry := plugin.NewRegistry()
	if err := registry.RegisterCore(appModule(registry)); err != nil {
		logger.Error("FATAL: Failed to register App module",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	if cfg.PluginTable != "" {
		dbClient := db.NewFromConfig(awsCfg, cfg.PluginTable)
		invoker := plugin.NewLambdaInvoker(lambdasvc.NewFromConfig(awsCfg))
		if err := registry.LoadFromDynamoDB(ctx, dbClient, invoker); err != nil {
			logger.Error("FATAL: Failed to load plugin registry",
				slog.String("error", err.Error()),
			)
			panic(err)
		}
		logger.InfoContext(ctx, "Loaded remote plugins",
			slog.Any("plugins", registry.Plugins()),
		)
	}

	authority, err := loadAuthority(ctx, cfg, func() plugin.SSMClient { return ssm.NewFromConfig(awsCfg) })
	if err != nil {
		logger.Error("FATAL: Failed to load capabilities",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	opts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithWorkers(cfg.Workers, cfg.QueueDepth),
		bridge.WithResponseTimeout(cfg.ResponseTimeout),
	}
	if authority != nil {
		opts = append(opts, bridge.WithAuthority(authority))
	}

	if cfg.Isolated() {
		keys, err := loadKeys(ctx, cfg, func() isolation.SecretsClient { return secretsmanager.NewFromConfig(awsCfg) })
		if err != nil {
			logger.Error("FATAL: Failed to load isolation keys",
				slog.String("error", err.Error()),
			)
			panic(err)
		}
		opts = append(opts, bridge.WithIsolation(keys, nil))
	}

	if cfg.PluginTable != "" {
		opts = append(opts, bridge.WithPublisher(event.NewSQSPublisher(sqs.NewFromConfig(awsCfg), registry, logger)))
	}

	recorder := metrics.NewRecorder()
	opts = append(opts, bridge.WithMetrics(recorder))
	var metricPublisher metrics.Publisher
	if cfg.MetricNamespace != "" {
		metricPublisher = metrics.NewCloudWatchPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.MetricNamespace)
		go flushMetrics(ctx, recorder, metricPublisher, cfg.MetricInterval)
	}

	b, err := bridge.New(ctx, registry, opts...)
	if err != nil {
		logger.Error("FATAL: Failed to start bridge",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer b.Close()

	localOrigins := slices.Clone(cfg.LocalOrigins)
	if cfg.Isolated() {
		localOrigins = append(localOrigins, cfg.IsolationOrigin)
	}

	server := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: protocol.New(protocol.Config{
			Dispatch:        b.Pool,
			InvokeKey:       cfg.InvokeKey,
			LocalOrigins:    localOrigins,
			Scripts:         protocol.NewScriptBuffer(protocol.DefaultMaxScripts, protocol.DefaultMaxWindows),
			ResponseTimeout: cfg.ResponseTimeout,
			Logger:          logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "IPC host listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("pattern", cfg.Pattern),
			slog.String("version", version),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("FATAL: HTTP server failed",
				slog.String("error", err.Error()),
			)
			panic(err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down IPC host")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete",
			slog.String("error", err.Error()),
		)
	}
	if metricPublisher != nil {
		if err := recorder.Flush(shutdownCtx, metricPublisher); err != nil {
			logger.Warn("Failed to flush final metrics",
				slog.String("error", err.Error()),
			)
		}
	}
}

// needsAWS reports whether any configured feature talks to AWS
func needsAWS(cfg config.Config) bool {
	return cfg.PluginTable != "" ||
		cfg.CapabilityParameter != "" ||
		cfg.IsolationSecretARN != "" ||
		cfg.MetricNamespace != ""
}

// loadAuthority builds the capability authority from a file or an SSM
// parameter. With neither configured it returns nil and permissioned
// commands are refused.
func loadAuthority(ctx context.Context, cfg config.Config, ssmClient func() plugin.SSMClient) (*plugin.Authority, error) {
	var (
		capabilities []plugin.Capability
		err          error
	)
	switch {
	case cfg.CapabilityFile != "":
		capabilities, err = plugin.LoadCapabilityFile(cfg.CapabilityFile)
	case cfg.CapabilityParameter != "":
		capabilities, err = plugin.NewSSMCapabilitySource(ssmClient()).Load(ctx, cfg.CapabilityParameter)
	default:
		logger.WarnContext(ctx, "No capabilities configured; permissioned commands will be refused")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return plugin.NewAuthority(capabilities...)
}

// loadKeys reads the isolation key shared with the isolation frame from
// Secrets Manager
func loadKeys(ctx context.Context, cfg config.Config, secretsClient func() isolation.SecretsClient) (*isolation.Keys, error) {
	if cfg.IsolationSecretARN == "" {
		return nil, errors.New("isolation pattern requires IPC_ISOLATION_SECRET_ARN")
	}
	return isolation.NewSecretsManagerSource(secretsClient()).Load(ctx, cfg.IsolationSecretARN)
}

// flushMetrics publishes recorded counters every interval until ctx ends
func flushMetrics(ctx context.Context, recorder *metrics.Recorder, publisher metrics.Publisher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := recorder.Flush(ctx, publisher); err != nil {
				logger.WarnContext(ctx, "Failed to publish metrics",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
