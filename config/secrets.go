package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// Credential reference schemes.
const (
	SecretSchemeEnv   = "env"
	SecretSchemeFile  = "file"
	SecretSchemeVault = "vault"
	SecretSchemeAWS   = "awssm"
)

var (
	// ErrInvalidSecretRef means a reference does not follow the scheme:target grammar.
	ErrInvalidSecretRef = errors.New("invalid credential reference")
	// ErrSecretNotFound means the reference is well formed but names nothing.
	ErrSecretNotFound = errors.New("credential not found")
	// ErrSecretBackend means a remote secret store could not be read.
	ErrSecretBackend = errors.New("secret backend unavailable")
)

// SecretRef is a parsed credential reference such as "env:NEO4J_PASSWORD",
// "file:/run/secrets/neo4j", "vault:explorviz/neo4j#password" or
// "awssm:prod/neo4j#password".
type SecretRef struct {
	Scheme string
	Target string
	Key    string
}

// IsZero reports whether the reference was empty.
func (r SecretRef) IsZero() bool {
	return r.Scheme == ""
}

// ParseSecretRef parses a credential reference. An empty string yields the
// zero SecretRef.
func ParseSecretRef(ref string) (SecretRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return SecretRef{}, nil
	}

	scheme, target, ok := strings.Cut(ref, ":")
	if !ok || target == "" {
		return SecretRef{}, fmt.Errorf("%w: %q has no scheme:target form", ErrInvalidSecretRef, ref)
	}

	switch scheme {
	case SecretSchemeEnv, SecretSchemeFile:
		return SecretRef{Scheme: scheme, Target: target}, nil
	case SecretSchemeVault, SecretSchemeAWS:
		path, key, _ := strings.Cut(target, "#")
		if path == "" {
			return SecretRef{}, fmt.Errorf("%w: %q has an empty path", ErrInvalidSecretRef, ref)
		}
		return SecretRef{Scheme: scheme, Target: path, Key: key}, nil
	default:
		return SecretRef{}, fmt.Errorf("%w: unknown scheme %q", ErrInvalidSecretRef, scheme)
	}
}

// SecretManager reads one value from a remote secret store.
type SecretManager interface {
	GetSecret(ctx context.Context, path, key string) (string, error)
}

// VaultSecretManager retrieves secrets from HashiCorp Vault
type VaultSecretManager struct {
	client    *api.Client
	mountPath string
}

func NewVaultSecretManager(cfg SecretsConfig) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: cfg.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Vault.Token != "" {
		client.SetToken(cfg.Vault.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	return &VaultSecretManager{
		client:    client,
		mountPath: strings.Trim(cfg.Vault.MountPath, "/"),
	}, nil
}

// GetSecret reads path below the configured mount. KV v2 responses, which
// nest the payload under "data", are unwrapped.
func (v *VaultSecretManager) GetSecret(ctx context.Context, path, key string) (string, error) {
	fullPath := strings.Trim(path, "/")
	if v.mountPath != "" {
		fullPath = v.mountPath + "/" + fullPath
	}

	secret, err := v.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read from Vault: %w", ErrSecretBackend, err)
	}

	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: no secret at %s", ErrSecretNotFound, fullPath)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	if key == "" {
		key = "password"
	}
	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not found in Vault secret %s", ErrSecretNotFound, key, fullPath)
	}

	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: secret value for key %s is not a string", ErrSecretNotFound, key)
	}

	return strValue, nil
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager
type AWSSecretManager struct {
	client *secretsmanager.SecretsManager
}

func NewAWSSecretManager(cfg SecretsConfig) (*AWSSecretManager, error) {
	awsCfg := &aws.Config{}
	if cfg.AWS.Region != "" {
		awsCfg.Region = aws.String(cfg.AWS.Region)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &AWSSecretManager{client: secretsmanager.New(sess)}, nil
}

// GetSecret fetches secretID. With a key the secret string is decoded as a
// JSON object and the key's value returned; without one the raw string is.
func (a *AWSSecretManager) GetSecret(ctx context.Context, secretID, key string) (string, error) {
	result, err := a.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to get secret from AWS: %w", ErrSecretBackend, err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("%w: secret %s has no string value", ErrSecretNotFound, secretID)
	}
	return lookupJSONKey(*result.SecretString, secretID, key)
}

func lookupJSONKey(raw, secretID, key string) (string, error) {
	if key == "" {
		return raw, nil
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(raw), &secrets); err != nil {
		return "", fmt.Errorf("%w: failed to parse secret %s as JSON: %v", ErrSecretNotFound, secretID, err)
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not found in secret %s", ErrSecretNotFound, key, secretID)
	}
	return value, nil
}

// SecretResolver turns credential references into values. Remote managers
// are created on first use.
type SecretResolver struct {
	cfg SecretsConfig

	mu    sync.Mutex
	vault SecretManager
	aws   SecretManager
}

// ResolverOption customises a SecretResolver.
type ResolverOption func(*SecretResolver)

// WithVaultManager overrides the manager used for vault: references.
func WithVaultManager(m SecretManager) ResolverOption {
	return func(r *SecretResolver) { r.vault = m }
}

// WithAWSManager overrides the manager used for awssm: references.
func WithAWSManager(m SecretManager) ResolverOption {
	return func(r *SecretResolver) { r.aws = m }
}

func NewSecretResolver(cfg SecretsConfig, opts ...ResolverOption) *SecretResolver {
	r := &SecretResolver{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the secret named by ref. An empty ref resolves to "".
//
// Errors wrap ErrInvalidSecretRef or ErrSecretNotFound when the reference
// itself is at fault, and ErrSecretBackend when a remote store failed.
func (r *SecretResolver) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := ParseSecretRef(ref)
	if err != nil {
		return "", err
	}
	if parsed.IsZero() {
		return "", nil
	}

	switch parsed.Scheme {
	case SecretSchemeEnv:
		value, ok := os.LookupEnv(parsed.Target)
		if !ok {
			return "", fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, parsed.Target)
		}
		return value, nil
	case SecretSchemeFile:
		data, err := os.ReadFile(parsed.Target)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSecretNotFound, err)
		}
		return strings.TrimSpace(string(data)), nil
	case SecretSchemeVault:
		m, err := r.vaultManager()
		if err != nil {
			return "", err
		}
		return m.GetSecret(ctx, parsed.Target, parsed.Key)
	case SecretSchemeAWS:
		m, err := r.awsManager()
		if err != nil {
			return "", err
		}
		return m.GetSecret(ctx, parsed.Target, parsed.Key)
	}

	return "", fmt.Errorf("%w: unknown scheme %q", ErrInvalidSecretRef, parsed.Scheme)
}

func (r *SecretResolver) vaultManager() (SecretManager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vault != nil {
		return r.vault, nil
	}
	if r.cfg.Vault.Address == "" {
		return nil, fmt.Errorf("%w: vault reference used but secrets.vault.address is empty", ErrInvalidSecretRef)
	}
	m, err := NewVaultSecretManager(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecretBackend, err)
	}
	r.vault = m
	return m, nil
}

func (r *SecretResolver) awsManager() (SecretManager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aws != nil {
		return r.aws, nil
	}
	m, err := NewAWSSecretManager(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecretBackend, err)
	}
	r.aws = m
	return m, nil
}
