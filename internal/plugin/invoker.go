package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/google/uuid"
	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Invoker defines the interface for invoking remote plugin commands
type Invoker interface {
	Invoke(ctx context.Context, target MethodTarget, request PluginInvocationRequest) (*PluginInvocationResponse, error)
}

// LambdaClient defines the interface for Lambda operations
type LambdaClient interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker invokes plugins via AWS Lambda
type LambdaInvoker struct {
	client LambdaClient
}

// NewLambdaInvoker creates a new Lambda invoker
func NewLambdaInvoker(client LambdaClient) *LambdaInvoker {
	return &LambdaInvoker{client: client}
}

// Invoke invokes a plugin Lambda with the given request
func (i *LambdaInvoker) Invoke(ctx context.Context, target MethodTarget, request PluginInvocationRequest) (*PluginInvocationResponse, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	input := &lambda.InvokeInput{
		FunctionName: aws.String(target.InvokeTarget),
		Payload:      payload,
	}

	output, err := i.client.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("lambda invocation failed: %w", err)
	}

	// Unhandled errors inside the function come back as a 200 with FunctionError set
	if output.FunctionError != nil {
		return nil, fmt.Errorf("plugin function error %s: %s", aws.ToString(output.FunctionError), string(output.Payload))
	}

	var response PluginInvocationResponse
	if err := json.Unmarshal(output.Payload, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

// RemoteHandler returns a handler that forwards a command to a remote plugin
func RemoteHandler(invoker Invoker, pluginName, command string, target MethodTarget) Handler {
	return func(ctx context.Context, inv *Invoke, res *Resolver) {
		args := inv.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}

		request := PluginInvocationRequest{
			RequestID: uuid.NewString(),
			Plugin:    pluginName,
			Command:   command,
			Window:    inv.Origin.Window,
			Args:      args,
		}

		response, err := invoker.Invoke(ctx, target, request)
		if err != nil {
			slog.Default().ErrorContext(ctx, "Remote plugin invocation failed",
				slog.String("plugin", pluginName),
				slog.String("command", command),
				slog.String("request_id", request.RequestID),
				slog.String("error", err.Error()),
			)
			res.RejectError(bridgeerr.Wrap(bridgeerr.CodeServerFail,
				fmt.Sprintf("plugin %s command %s failed", pluginName, command), err))
			return
		}

		if response.Error != nil {
			res.Respond(ipccontract.Fail(*response.Error))
			return
		}
		res.Respond(ipccontract.Ok(response.Result))
	}
}
