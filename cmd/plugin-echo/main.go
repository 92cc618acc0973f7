package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/logging"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/tracing"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/otel"
)

var (
	logger = logging.New()
)

// handler is the Lambda handler for plugin:echo. The echo command returns
// its arguments unchanged.
func handler(ctx context.Context, request ipccontract.PluginInvocationRequest) (ipccontract.PluginInvocationResponse, error) {
	ctx, span := tracing.StartHandlerSpan(ctx, "PluginEchoHandler",
		tracing.RequestID(request.RequestID),
		tracing.Module(ipccontract.PluginPrefix+request.Plugin),
		tracing.Command(request.Command),
		tracing.Window(request.Window),
	)
	defer span.End()

	logger.InfoContext(ctx, "Processing plugin invocation",
		slog.String("request_id", request.RequestID),
		slog.String("command", request.Command),
	)

	switch request.Command {
	case "echo":
		args := request.Args
		if len(args) == 0 {
			args = json.RawMessage("null")
		}
		return ipccontract.PluginInvocationResponse{Result: args}, nil
	default:
		payload := bridgeerr.ToPayload(bridgeerr.New(bridgeerr.CodeUnknownCommand,
			fmt.Sprintf("command %s not found", request.Command)))
		return ipccontract.PluginInvocationResponse{Error: &payload}, nil
	}
}

func main() {
	ctx := context.Background()

	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	otel.SetTracerProvider(tp)

	lambda.Start(otellambda.InstrumentHandler(handler, xrayconfig.WithRecommendedOptions(tp)...))
}
