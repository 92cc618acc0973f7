package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ParseCapabilities reads capabilities from JSON. It accepts a single
// capability object, an array of them, or {"capabilities": [...]}.
func ParseCapabilities(data []byte) ([]Capability, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("capability document is empty")
	}

	if data[0] == '[' {
		var caps []Capability
		if err := json.Unmarshal(data, &caps); err != nil {
			return nil, fmt.Errorf("failed to parse capabilities: %w", err)
		}
		return caps, nil
	}

	var probe struct {
		Capabilities []Capability `json:"capabilities"`
		Identifier   string       `json:"identifier"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse capabilities: %w", err)
	}
	if probe.Identifier == "" {
		return probe.Capabilities, nil
	}

	var single Capability
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to parse capability: %w", err)
	}
	return []Capability{single}, nil
}

// LoadCapabilityFile reads capabilities from a JSON file
func LoadCapabilityFile(path string) ([]Capability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capability file: %w", err)
	}
	return ParseCapabilities(data)
}

// SSMClient defines the interface for SSM operations
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMCapabilitySource loads capabilities from an SSM parameter
type SSMCapabilitySource struct {
	client SSMClient
}

// NewSSMCapabilitySource creates a new SSMCapabilitySource
func NewSSMCapabilitySource(client SSMClient) *SSMCapabilitySource {
	return &SSMCapabilitySource{client: client}
}

// Load retrieves and parses the capability document stored in name
func (s *SSMCapabilitySource) Load(ctx context.Context, name string) ([]Capability, error) {
	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read SSM parameter: %w", err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return nil, fmt.Errorf("parameter value is empty")
	}

	return ParseCapabilities([]byte(*result.Parameter.Value))
}
