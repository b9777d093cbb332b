package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// SecretManager retrieves AI provider credentials from a secret backend.
type SecretManager interface {
	GetSecret(key string) (string, error)
	GetOpenAIKey() (string, error)
	GetGeminiKey() (string, error)
}

// EnvSecretManager uses environment variables (default).
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "LOGGUARD_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envKey)
	}
	return value, nil
}

func (e *EnvSecretManager) GetOpenAIKey() (string, error) {
	return e.GetSecret("OPENAI_API_KEY")
}

func (e *EnvSecretManager) GetGeminiKey() (string, error) {
	return e.GetSecret("GEMINI_API_KEY")
}

// VaultSecretManager retrieves secrets from HashiCorp Vault.
type VaultSecretManager struct {
	config *Config
	client *api.Client
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if config.Secrets.Vault.Token != "" {
		client.SetToken(config.Secrets.Vault.Token)
	} else {
		token := os.Getenv("VAULT_TOKEN")
		if token != "" {
			client.SetToken(token)
		}
	}

	return &VaultSecretManager{
		config: config,
		client: client,
	}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	path := v.config.Secrets.Vault.Path
	if path == "" {
		path = "secret/logguard"
	}

	secret, err := v.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path %s", path)
	}

	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret", key)
	}

	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}

	return strValue, nil
}

func (v *VaultSecretManager) GetOpenAIKey() (string, error) {
	return v.GetSecret("openai_api_key")
}

func (v *VaultSecretManager) GetGeminiKey() (string, error) {
	return v.GetSecret("gemini_api_key")
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager.
type AWSSecretManager struct {
	config *Config
	client *secretsmanager.SecretsManager
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	var sess *session.Session
	var err error

	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		sess, err = session.NewSession(&aws.Config{
			Region: aws.String(config.Secrets.AWS.Region),
			Credentials: credentials.NewStaticCredentials(
				config.Secrets.AWS.AccessKey,
				config.Secrets.AWS.SecretKey,
				"",
			),
		})
	} else {
		sess, err = session.NewSession(&aws.Config{
			Region: aws.String(config.Secrets.AWS.Region),
		})
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := secretsmanager.New(sess)
	return &AWSSecretManager{
		config: config,
		client: client,
	}, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	secretID := a.config.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = "logguard/secrets"
	}

	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	}

	result, err := a.client.GetSecretValue(input)
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in AWS secret", key)
	}

	return value, nil
}

func (a *AWSSecretManager) GetOpenAIKey() (string, error) {
	return a.GetSecret("openai_api_key")
}

func (a *AWSSecretManager) GetGeminiKey() (string, error) {
	return a.GetSecret("gemini_api_key")
}

// NewSecretManager creates the appropriate secret manager based on configuration.
func NewSecretManager(config *Config) (SecretManager, error) {
	provider := config.Secrets.Provider
	if provider == "" {
		provider = "env"
	}

	switch provider {
	case "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(config)
	case "aws":
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", provider)
	}
}

// LoadSecrets fills in provider API keys from the configured secret backend.
// Keys already present in the config (file or env override) are kept. A
// missing key is not an error here; the provider simply reports unconfigured.
func LoadSecrets(config *Config) error {
	manager, err := NewSecretManager(config)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}

	if config.Providers.OpenAI.APIKey == "" {
		if key, err := manager.GetOpenAIKey(); err == nil {
			config.Providers.OpenAI.APIKey = key
		}
	}
	if config.Providers.Gemini.APIKey == "" {
		if key, err := manager.GetGeminiKey(); err == nil {
			config.Providers.Gemini.APIKey = key
		}
	}

	return nil
}
