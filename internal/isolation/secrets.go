package isolation

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// keyDerivationInfo binds derived keys to their use
const keyDerivationInfo = "webview-ipc-bridge isolation v1"

// SecretsClient defines the interface for Secrets Manager operations
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource provisions isolation keys from Secrets Manager
type SecretsManagerSource struct {
	client SecretsClient
}

// NewSecretsManagerSource creates a new SecretsManagerSource
func NewSecretsManagerSource(client SecretsClient) *SecretsManagerSource {
	return &SecretsManagerSource{client: client}
}

// Load reads the secret and turns it into keys. A binary secret or a base64
// string of exactly 32 bytes is used as the key directly; any other string
// is treated as a passphrase and run through HKDF.
func (s *SecretsManagerSource) Load(ctx context.Context, secretARN string) (*Keys, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	if len(result.SecretBinary) > 0 {
		return KeysFromRaw(result.SecretBinary)
	}

	if result.SecretString == nil || *result.SecretString == "" {
		return nil, fmt.Errorf("secret value is empty")
	}

	secret := *result.SecretString
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == KeySize {
		return KeysFromRaw(raw)
	}
	return DeriveKeys([]byte(secret), nil, keyDerivationInfo)
}
