package vtutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

func TestDetectHashType(t *testing.T) {
	assert.Equal(t, HashTypeMD5, detectHashType("d41d8cd98f00b204e9800998ecf8427e"))
	assert.Equal(t, HashTypeSHA1, detectHashType("da39a3ee5e6b4b0d3255bfef95601890afd80709"))
	assert.Equal(t, HashTypeSHA256, detectHashType("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
	assert.Empty(t, detectHashType("not-a-hash"))
	assert.Empty(t, detectHashType(""))
	assert.Empty(t, detectHashType("zz1d8cd98f00b204e9800998ecf8427e"))
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAPIKeyMissing))
}

func TestLookupFileRejectsBadHash(t *testing.T) {
	c, err := NewClient("test-key", WithRetrySettings(0, 0))
	require.NoError(t, err)

	_, err = c.LookupFile(context.Background(), "xyz")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestLookupFileServesCachedReports(t *testing.T) {
	c, err := NewClient("test-key")
	require.NoError(t, err)

	hash := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	c.cacheResult(hash, &FileReport{Hash: hash, Found: true, Malicious: 2, Harmless: 60})

	report, err := c.LookupFile(context.Background(), "  "+hash+" ")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Malicious)
	assert.Equal(t, 62, report.Total())
	assert.Equal(t, "https://www.virustotal.com/gui/file/"+hash, report.Permalink())
}
