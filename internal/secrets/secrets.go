// Package secrets provides the named secret values that workflow files can
// reference with secretName.
package secrets

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/subosito/gotenv"

	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

// Provider looks up a secret by name. A missing secret is reported with
// errors.ErrSecretNotFound.
type Provider interface {
	FetchSecret(ctx context.Context, name string) (string, error)
}

func notFound(name string) error {
	return fmt.Errorf("%w: %q", errors.ErrSecretNotFound, name)
}

// StaticProvider serves secrets from a fixed map.
type StaticProvider map[string]string

// FetchSecret implements Provider.
func (p StaticProvider) FetchSecret(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, ok := p[name]
	if !ok {
		return "", notFound(name)
	}
	return value, nil
}

// EnvProvider reads secret NAME from the environment variable <Prefix>NAME.
// Dashes and dots in the name become underscores and the result is upper-cased.
type EnvProvider struct {
	Prefix string
}

// FetchSecret implements Provider.
func (p EnvProvider) FetchSecret(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := p.Prefix + envKey(name)
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", notFound(name)
	}
	return value, nil
}

func envKey(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// FileProvider serves secrets from a dotenv file. The file is read on
// first use.
type FileProvider struct {
	Path string

	once    sync.Once
	secrets map[string]string
	loadErr error
}

// NewFileProvider returns a provider backed by the file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

// FetchSecret implements Provider.
func (p *FileProvider) FetchSecret(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.once.Do(func() {
		p.secrets, p.loadErr = LoadDotenv(p.Path)
	})
	if p.loadErr != nil {
		return "", p.loadErr
	}
	// Dotenv keys cannot contain dashes, so deploy-token is also looked up
	// as DEPLOY_TOKEN.
	if value, ok := p.secrets[name]; ok {
		return value, nil
	}
	if value, ok := p.secrets[envKey(name)]; ok {
		return value, nil
	}
	return "", notFound(name)
}

// LoadDotenv parses a dotenv file. Double-quoted values are unescaped,
// unquoted values lose trailing # comments and single-quoted values are
// taken literally. A line that does not parse fails the whole file.
func LoadDotenv(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open secrets file %s: %w", path, err)
	}
	defer file.Close()

	env, err := gotenv.StrictParse(file)
	if err != nil {
		return nil, fmt.Errorf("%w: secrets file %s: %v", errors.ErrInvalidArgument, path, err)
	}

	logger.LogDebug("Loaded secrets file", map[string]interface{}{
		"file":  path,
		"count": len(env),
	})
	return env, nil
}

// ChainProvider asks each provider in turn and returns the first hit.
type ChainProvider []Provider

// FetchSecret implements Provider.
func (c ChainProvider) FetchSecret(ctx context.Context, name string) (string, error) {
	for _, p := range c {
		value, err := p.FetchSecret(ctx, name)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, errors.ErrSecretNotFound) {
			return "", err
		}
	}
	return "", notFound(name)
}

// Masker hides secret values in text that is about to be logged.
type Masker struct {
	mu     sync.RWMutex
	values []string
}

// Add registers a value to be masked. Very short values are ignored since
// masking them would garble unrelated output.
func (m *Masker) Add(value string) {
	if len(value) < 3 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.values {
		if v == value {
			return
		}
	}
	m.values = append(m.values, value)
	// Longest first so a secret containing another is masked whole.
	sort.Slice(m.values, func(i, j int) bool { return len(m.values[i]) > len(m.values[j]) })
}

// Mask replaces every registered value in text with [MASKED].
func (m *Masker) Mask(text string) string {
	if m == nil {
		return text
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.values {
		text = strings.ReplaceAll(text, v, "[MASKED]")
	}
	return text
}

// MaskingProvider wraps a Provider and registers every fetched value with a Masker.
type MaskingProvider struct {
	Provider Provider
	Masker   *Masker
}

// FetchSecret implements Provider.
func (p MaskingProvider) FetchSecret(ctx context.Context, name string) (string, error) {
	value, err := p.Provider.FetchSecret(ctx, name)
	if err == nil && p.Masker != nil {
		p.Masker.Add(value)
	}
	return value, err
}
