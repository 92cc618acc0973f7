package db

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// DynamoDBClient defines the interface for DynamoDB operations
type DynamoDBClient interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps DynamoDB operations with OTel tracing
type Client struct {
	ddb       DynamoDBClient
	tableName string
}

// NewClient creates a new DynamoDB client with OTel instrumentation
func NewClient(ctx context.Context, tableName string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Add OTel instrumentation for X-Ray tracing
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return NewFromConfig(cfg, tableName), nil
}

// NewFromConfig creates a client from an already instrumented AWS config
func NewFromConfig(cfg aws.Config, tableName string) *Client {
	return &Client{
		ddb:       dynamodb.NewFromConfig(cfg),
		tableName: tableName,
	}
}

// QueryByPK returns every item under partition key pk, following pagination
func (c *Client) QueryByPK(ctx context.Context, pk string) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key("pk").Equal(expression.Value(pk))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var items []map[string]types.AttributeValue
	for {
		output, err := c.ddb.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", pk, err)
		}
		items = append(items, output.Items...)
		if len(output.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}
