package env

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerSource resolves the bearer credential from an AWS Secrets
// Manager secret instead of env/TOML, for worker-host deployments that
// already run alongside AWS. The secret's string
// value is the raw bearer token; organization/project scoping, if any, is
// left to the caller's own secret layout.
type SecretsManagerSource struct {
	Client   *secretsmanager.Client
	SecretID string
}

func (s SecretsManagerSource) Resolve(ctx context.Context, _ string) (Credential, bool, error) {
	if s.Client == nil || s.SecretID == "" {
		return Credential{}, false, nil
	}
	out, err := s.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.SecretID),
	})
	if err != nil {
		return Credential{}, false, err
	}
	if out.SecretString == nil {
		return Credential{}, false, nil
	}
	return Credential{Token: *out.SecretString}, true, nil
}
