package plugin

import (
	"context"

	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// Type aliases for exported plugin contract types
type PluginInvocationRequest = ipccontract.PluginInvocationRequest
type PluginInvocationResponse = ipccontract.PluginInvocationResponse

// InvocationTypeLambda marks a method implemented by a Lambda function
const InvocationTypeLambda = "lambda-invoke"

// PluginRecord represents a remote plugin registration in DynamoDB (internal only)
type PluginRecord struct {
	PK           string                  `dynamodbav:"pk"`
	SK           string                  `dynamodbav:"sk"`
	PluginID     string                  `dynamodbav:"pluginId"`
	Methods      map[string]MethodTarget `dynamodbav:"methods"`
	Events       map[string]EventTarget  `dynamodbav:"events,omitempty"`
	Permissions  map[string]string       `dynamodbav:"permissions,omitempty"` // command -> required permission
	RegisteredAt string                  `dynamodbav:"registeredAt"`
	Version      string                  `dynamodbav:"version"`
}

// MethodTarget defines how to invoke a remote command handler (internal only)
type MethodTarget struct {
	InvocationType string `dynamodbav:"invocationType"`
	InvokeTarget   string `dynamodbav:"invokeTarget"`
}

// EventTarget defines where to forward an emitted event (internal only)
type EventTarget struct {
	TargetType string `dynamodbav:"targetType"` // "sqs"
	TargetArn  string `dynamodbav:"targetArn"`  // SQS queue ARN
}

// Handler executes one command. It must eventually call exactly one
// settling method on res; it may do so from another goroutine.
type Handler func(ctx context.Context, inv *Invoke, res *Resolver)

// CommandFunc is a synchronous command implementation
type CommandFunc func(ctx context.Context, inv *Invoke) (any, error)

// Sync adapts a CommandFunc to a Handler
func Sync(fn CommandFunc) Handler {
	return func(ctx context.Context, inv *Invoke, res *Resolver) {
		value, err := fn(ctx, inv)
		if err != nil {
			res.RejectError(err)
			return
		}
		res.Resolve(value)
	}
}

// Registration binds a (module, command) pair to its handler
type Registration struct {
	Module     string
	Command    string
	Handler    Handler
	Permission string // empty means no permission is required
}
