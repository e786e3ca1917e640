package builtins

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

// HashAlgorithm represents supported hash algorithms
type HashAlgorithm string

const (
	SHA256   HashAlgorithm = "sha256"
	SHA512   HashAlgorithm = "sha512"
	BLAKE2b  HashAlgorithm = "blake2b"
	SHA3_256 HashAlgorithm = "sha3-256"
	SHA3_512 HashAlgorithm = "sha3-512"
)

// NewHash returns a fresh hash.Hash for algorithm.
func NewHash(algorithm HashAlgorithm) (hash.Hash, error) {
	switch HashAlgorithm(strings.ToLower(string(algorithm))) {
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case BLAKE2b:
		return blake2b.New256(nil)
	case SHA3_256:
		return sha3.New256(), nil
	case SHA3_512:
		return sha3.New512(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported hash algorithm '%s'", errors.ErrInvalidArgument, algorithm)
	}
}

// HashReader hashes everything read from r and returns the hex digest.
func HashReader(algorithm HashAlgorithm, r io.Reader) (string, error) {
	h, err := NewHash(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash operation failed: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile hashes the content of a file
func HashFile(algorithm HashAlgorithm, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", errors.ErrPathNotAccessible, path)
		}
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return HashReader(algorithm, file)
}

func newHashCommand(inv *Invocation) *cobra.Command {
	var algorithm, file, text, expect string

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Compute the digest of a file or a string",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var digest string
			var err error
			switch {
			case file != "" && cmd.Flags().Changed("text"):
				return fmt.Errorf("%w: only one of --file and --text may be set", errors.ErrInvalidArgument)
			case file != "":
				digest, err = HashFile(HashAlgorithm(algorithm), inv.path(file))
			default:
				digest, err = HashReader(HashAlgorithm(algorithm), strings.NewReader(text))
			}
			if err != nil {
				return err
			}

			inv.setOutput("digest", digest)
			inv.setOutput("algorithm", strings.ToLower(algorithm))
			fmt.Fprintln(cmd.OutOrStdout(), digest)

			if expect != "" && !strings.EqualFold(expect, digest) {
				return fmt.Errorf("digest mismatch: expected %s, got %s", expect, digest)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", string(SHA256), "sha256, sha512, blake2b, sha3-256 or sha3-512")
	cmd.Flags().StringVar(&file, "file", "", "file to hash")
	cmd.Flags().StringVar(&text, "text", "", "string to hash instead of a file")
	cmd.Flags().StringVar(&expect, "expect", "", "fail unless the digest equals this value")
	return cmd
}
