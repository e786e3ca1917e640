package vtutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	vt "github.com/VirusTotal/vt-go"

	"github.com/deploymenttheory/go-workflow-runner/internal/logger"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

// File hash types
const (
	HashTypeMD5    = "md5"
	HashTypeSHA1   = "sha1"
	HashTypeSHA256 = "sha256"
)

// FileReport summarizes the last VirusTotal analysis of a file.
type FileReport struct {
	Hash       string
	Found      bool
	Name       string
	Malicious  int
	Suspicious int
	Harmless   int
	Undetected int
	ScanDate   time.Time
}

// Total is the number of engines that reported a verdict.
func (r *FileReport) Total() int {
	return r.Malicious + r.Suspicious + r.Harmless + r.Undetected
}

// Permalink is the VirusTotal GUI page for the file.
func (r *FileReport) Permalink() string {
	return "https://www.virustotal.com/gui/file/" + r.Hash
}

// LookupFile fetches the report for a file by hash. A file VirusTotal has
// never seen yields a report with Found set to false.
func (c *Client) LookupFile(ctx context.Context, fileHash string) (*FileReport, error) {
	fileHash = strings.ToLower(strings.TrimSpace(fileHash))
	if detectHashType(fileHash) == "" {
		return nil, fmt.Errorf("%w: invalid hash format", errors.ErrInvalidArgument)
	}

	if cached, ok := c.getCachedResult(fileHash); ok {
		return cached, nil
	}

	var fileObj *vt.Object
	err := c.executeWithRetry(ctx, "file_lookup:"+fileHash, func() error {
		var err error
		fileObj, err = c.vtClient.GetObject(vt.URL("files/%s", fileHash))
		return err
	}, func(err error) bool { return !isNotFound(err) })

	if err != nil {
		if isNotFound(err) {
			logger.LogInfo("File not found in VirusTotal database", map[string]interface{}{
				"hash": fileHash,
			})
			report := &FileReport{Hash: fileHash}
			c.cacheResult(fileHash, report)
			return report, nil
		}
		return nil, fmt.Errorf("%w: %s", errors.ErrNetworkError, err.Error())
	}

	report := parseFileObject(fileObj, fileHash)
	c.cacheResult(fileHash, report)
	return report, nil
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NotFoundError") || strings.Contains(strings.ToLower(msg), "not found")
}

// parseFileObject reads the fields we report from a VirusTotal file object
func parseFileObject(obj *vt.Object, fileHash string) *FileReport {
	report := &FileReport{Hash: fileHash, Found: true}

	if sha256, err := obj.GetString("sha256"); err == nil && sha256 != "" {
		report.Hash = sha256
	}
	name, _ := obj.GetString("meaningful_name")
	report.Name = name

	if scanDate, err := obj.GetTime("last_analysis_date"); err == nil {
		report.ScanDate = scanDate
	}

	stat := func(key string) int {
		v, err := obj.GetInt64("last_analysis_stats." + key)
		if err != nil {
			return 0
		}
		return int(v)
	}
	report.Malicious = stat("malicious")
	report.Suspicious = stat("suspicious")
	report.Harmless = stat("harmless")
	report.Undetected = stat("undetected")
	return report
}

// detectHashType tries to determine the hash type from its format
func detectHashType(hash string) string {
	if !isHexString(hash) {
		return ""
	}
	switch len(hash) {
	case 32:
		return HashTypeMD5
	case 40:
		return HashTypeSHA1
	case 64:
		return HashTypeSHA256
	}
	return ""
}

// isHexString checks if a string is a valid hexadecimal string
func isHexString(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return s != ""
}
