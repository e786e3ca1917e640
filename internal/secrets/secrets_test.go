package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	content := "# deploy secrets\n" +
		"DEPLOY_TOKEN=abc123 # rotated monthly\n" +
		"export DB_PASSWORD=\"p@ss word\"\n" +
		"PEM=\"line1\\nline2\"\n" +
		"SINGLE='$not_expanded'\n" +
		"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	p := NewFileProvider(path)
	ctx := context.Background()

	v, err := p.FetchSecret(ctx, "deploy-token")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)

	v, err = p.FetchSecret(ctx, "DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "p@ss word", v)

	v, err = p.FetchSecret(ctx, "PEM")
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", v)

	v, err = p.FetchSecret(ctx, "SINGLE")
	require.NoError(t, err)
	assert.Equal(t, "$not_expanded", v)

	_, err = p.FetchSecret(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrSecretNotFound))
}

func TestFileProviderMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	require.NoError(t, os.WriteFile(path, []byte("GOOD=1\nmalformed line\n"), 0600))

	_, err := NewFileProvider(path).FetchSecret(context.Background(), "GOOD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestFileProviderMissingFile(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "nope.env"))
	_, err := p.FetchSecret(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, errors.ErrSecretNotFound))
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("WORKFLOW_SECRET_DEPLOY_TOKEN", "from-env")

	p := EnvProvider{Prefix: "WORKFLOW_SECRET_"}
	v, err := p.FetchSecret(context.Background(), "deploy-token")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	_, err = p.FetchSecret(context.Background(), "other")
	assert.True(t, errors.Is(err, errors.ErrSecretNotFound))
}

func TestChainProvider(t *testing.T) {
	chain := ChainProvider{
		StaticProvider{"a": "first"},
		StaticProvider{"a": "second", "b": "fallback"},
	}
	ctx := context.Background()

	v, err := chain.FetchSecret(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	v, err = chain.FetchSecret(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	_, err = chain.FetchSecret(ctx, "c")
	assert.True(t, errors.Is(err, errors.ErrSecretNotFound))
}

func TestMaskingProvider(t *testing.T) {
	masker := &Masker{}
	p := MaskingProvider{Provider: StaticProvider{"token": "s3cr3t-value", "short": "ab"}, Masker: masker}

	_, err := p.FetchSecret(context.Background(), "token")
	require.NoError(t, err)
	_, err = p.FetchSecret(context.Background(), "short")
	require.NoError(t, err)

	assert.Equal(t, "token=[MASKED] ab", masker.Mask("token=s3cr3t-value ab"))

	var nilMasker *Masker
	assert.Equal(t, "plain", nilMasker.Mask("plain"))
}
