package builtins

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/vtutil"
)

func run(t *testing.T, dir string, args ...string) (*Invocation, string, error) {
	t.Helper()
	var stdout bytes.Buffer
	inv := &Invocation{Dir: dir, Stdout: &stdout, Stderr: &bytes.Buffer{}}
	err := Run(context.Background(), inv, args)
	return inv, stdout.String(), err
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"compress", "echo", "extract", "hash", "json", "plist", "scan", "write-file"}, Names())
	assert.True(t, IsBuiltin("echo"))
	assert.False(t, IsBuiltin("help"))
	assert.False(t, IsBuiltin("bash"))
}

func TestRunUnknownCommand(t *testing.T) {
	_, _, err := run(t, "", "deploy", "--now")
	assert.True(t, errors.Is(err, errors.ErrUnknownCommand))

	_, _, err = run(t, "")
	assert.True(t, errors.Is(err, errors.ErrUnknownCommand))
}

func TestEcho(t *testing.T) {
	inv, out, err := run(t, "", "echo", "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
	assert.Equal(t, "hello world", inv.Outputs["message"])

	_, out, err = run(t, "", "echo", "-n", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestEchoRejectsUnknownFlag(t *testing.T) {
	_, _, err := run(t, "", "echo", "--bogus")
	assert.Error(t, err)
}

func TestCompressExtractRoundTrip(t *testing.T) {
	for _, format := range []string{FormatZip, FormatTar, FormatTarGzip, FormatTarBzip2, FormatTarXz} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "nested"), 0755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.txt"), []byte("alpha"), 0644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "nested", "b.txt"), []byte("beta"), 0644))

			inv, _, err := run(t, dir, "compress", "--format", format, "--source", "src", "--destination", "out/archive."+format)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "out", "archive."+format), inv.Outputs["path"])

			inv, _, err = run(t, dir, "extract", "--source", "out/archive."+format, "--destination", "unpacked")
			require.NoError(t, err)
			assert.Equal(t, format, inv.Outputs["format"], "format is detected from the file")

			data, err := os.ReadFile(filepath.Join(dir, "unpacked", "src", "nested", "b.txt"))
			require.NoError(t, err)
			assert.Equal(t, "beta", string(data))
		})
	}
}

func TestCompressExtractStreams(t *testing.T) {
	for _, format := range []string{FormatGzip, FormatBzip2, FormatXz} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			payload := bytes.Repeat([]byte("workflow "), 1000)
			require.NoError(t, os.WriteFile(filepath.Join(dir, "data.txt"), payload, 0644))

			_, _, err := run(t, dir, "compress", "--format", format, "--source", "data.txt", "--destination", "data.txt.z")
			require.NoError(t, err)

			detected, err := DetectArchiveFormat(filepath.Join(dir, "data.txt.z"))
			require.NoError(t, err)
			assert.Equal(t, format, detected)

			inv, _, err := run(t, dir, "extract", "--source", "data.txt.z", "--destination", "restored.txt")
			require.NoError(t, err)

			data, err := os.ReadFile(inv.Outputs["path"])
			require.NoError(t, err)
			assert.Equal(t, payload, data)
		})
	}
}

func TestExtractGzippedTarUnpacksEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "site"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site", "index.html"), []byte("<h1>hi</h1>"), 0644))

	_, _, err := run(t, dir, "compress", "--format", "tar", "--source", "site", "--destination", "site.tar")
	require.NoError(t, err)
	_, _, err = run(t, dir, "compress", "--format", "gzip", "--source", "site.tar", "--destination", "site.tar.gz")
	require.NoError(t, err)

	inv, _, err := run(t, dir, "extract", "--format", "auto", "--source", "site.tar.gz", "--destination", "public")
	require.NoError(t, err)
	assert.Equal(t, FormatTarGzip, inv.Outputs["format"])
	assert.Equal(t, filepath.Join(dir, "public"), inv.Outputs["path"])

	data, err := os.ReadFile(filepath.Join(dir, "public", "site", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(data))
}

func TestCompressStreamRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	_, _, err := run(t, dir, "compress", "--format", "xz", "--source", ".", "--destination", "x.xz")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, _, err = run(t, dir, "compress", "--format", "rar", "--source", ".", "--destination", "x.rar")
	assert.True(t, errors.Is(err, errors.ErrUnsupportedCompression))
}

func TestExtractRejectsEntriesOutsideDestination(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")

	f, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("../escaped.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, _, err = run(t, dir, "extract", "--source", "evil.zip", "--destination", "out")
	assert.True(t, errors.Is(err, errors.ErrInvalidArchive))
	assert.NoFileExists(t, filepath.Join(dir, "escaped.txt"))
}

func TestHash(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc.txt"), []byte("abc"), 0644))

	inv, out, err := run(t, dir, "hash", "--file", "abc.txt")
	require.NoError(t, err)
	const sha256abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	assert.Equal(t, sha256abc, inv.Outputs["digest"])
	assert.Equal(t, sha256abc+"\n", out)

	inv, _, err = run(t, dir, "hash", "--algorithm", "sha3-256", "--text", "abc")
	require.NoError(t, err)
	assert.Equal(t, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532", inv.Outputs["digest"])

	inv, _, err = run(t, dir, "hash", "--algorithm", "blake2b", "--text", "abc")
	require.NoError(t, err)
	assert.Len(t, inv.Outputs["digest"], 64)

	_, _, err = run(t, dir, "hash", "--file", "abc.txt", "--expect", "deadbeef")
	assert.ErrorContains(t, err, "digest mismatch")

	_, _, err = run(t, dir, "hash", "--algorithm", "md4", "--text", "abc")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

const infoPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleShortVersionString</key>
	<string>2.4.1</string>
	<key>LSMinimumSystemVersion</key>
	<dict>
		<key>major</key>
		<integer>13</integer>
	</dict>
	<key>Architectures</key>
	<array>
		<string>arm64</string>
		<string>x86_64</string>
	</array>
</dict>
</plist>
`

func TestPlist(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Info.plist"), []byte(infoPlist), 0644))

	inv, _, err := run(t, dir, "plist", "--file", "Info.plist", "--key", "CFBundleShortVersionString")
	require.NoError(t, err)
	assert.Equal(t, "2.4.1", inv.Outputs["value"])
	assert.Equal(t, "XML", inv.Outputs["format"])

	inv, _, err = run(t, dir, "plist", "--file", "Info.plist", "--key", "LSMinimumSystemVersion.major")
	require.NoError(t, err)
	assert.Equal(t, "13", inv.Outputs["value"])

	inv, _, err = run(t, dir, "plist", "--file", "Info.plist", "--key", "Architectures.1")
	require.NoError(t, err)
	assert.Equal(t, "x86_64", inv.Outputs["value"])

	inv, _, err = run(t, dir, "plist", "--file", "Info.plist", "--key", "Architectures")
	require.NoError(t, err)
	assert.JSONEq(t, `["arm64","x86_64"]`, inv.Outputs["value"])

	_, _, err = run(t, dir, "plist", "--file", "Info.plist", "--key", "Missing")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

type fakeScanner struct {
	report *vtutil.FileReport
	seen   string
}

func (f *fakeScanner) LookupFile(_ context.Context, sha256 string) (*vtutil.FileReport, error) {
	f.seen = sha256
	r := *f.report
	r.Hash = sha256
	return &r, nil
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.pkg"), []byte("abc"), 0644))

	scanner := &fakeScanner{report: &vtutil.FileReport{Found: true, Malicious: 0, Harmless: 70}}
	inv := &Invocation{Dir: dir, Scanner: scanner}
	require.NoError(t, Run(context.Background(), inv, []string{"scan", "--file", "app.pkg"}))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", scanner.seen)
	assert.Equal(t, "true", inv.Outputs["found"])
	assert.Equal(t, "0", inv.Outputs["malicious"])

	scanner.report = &vtutil.FileReport{Found: true, Malicious: 3}
	err := Run(context.Background(), &Invocation{Dir: dir, Scanner: scanner}, []string{"scan", "--file", "app.pkg"})
	assert.ErrorContains(t, err, "flagged as malicious")

	err = Run(context.Background(), &Invocation{Dir: dir, Scanner: scanner}, []string{"scan", "--file", "app.pkg", "--max-malicious", "-1"})
	assert.NoError(t, err)

	err = Run(context.Background(), &Invocation{Dir: dir}, []string{"scan", "--file", "app.pkg"})
	assert.True(t, errors.Is(err, errors.ErrAPIKeyMissing))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()

	inv, _, err := run(t, dir, "write-file", "--path", "nested/out.txt", "--content", "one")
	require.NoError(t, err)
	target := filepath.Join(dir, "nested", "out.txt")
	assert.Equal(t, target, inv.Outputs["path"])

	_, _, err = run(t, dir, "write-file", "--path", "nested/out.txt", "--content", "+two", "--append")
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "one+two", string(data))

	_, _, err = run(t, dir, "write-file", "--path", "nested", "--content", "x")
	assert.True(t, errors.Is(err, errors.ErrPathConflict))

	_, _, err = run(t, dir, "write-file", "--path", "x", "--mode", "999")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.json"), []byte(`{"image": {"tag": "1.0"}, "ports": [8080]}`), 0o644))

	inv, out, err := run(t, dir, "json", "--file", "app.json", "--key", "image.tag")
	require.NoError(t, err)
	assert.Equal(t, "1.0\n", out)
	assert.Equal(t, "1.0", inv.Outputs["value"])

	inv, _, err = run(t, dir, "json", "--file", "app.json", "--key", "ports.0")
	require.NoError(t, err)
	assert.Equal(t, "8080", inv.Outputs["value"])

	inv, _, err = run(t, dir, "json", "--file", "app.json", "--key", "image.tag", "--set", "2.0")
	require.NoError(t, err)
	assert.Equal(t, "2.0", inv.Outputs["value"])

	inv, _, err = run(t, dir, "json", "--file", "new/conf.json", "--key", "replicas", "--set", "3")
	require.NoError(t, err)
	assert.Equal(t, "3", inv.Outputs["value"])
	data, err := os.ReadFile(filepath.Join(dir, "new", "conf.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"replicas": 3}`, string(data))

	_, _, err = run(t, dir, "json", "--file", "app.json", "--key", "ports", "--delete")
	require.NoError(t, err)
	_, _, err = run(t, dir, "json", "--file", "app.json", "--key", "ports")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, _, err = run(t, dir, "json", "--file", "app.json", "--key", "a", "--set", "1", "--delete")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, _, err = run(t, dir, "json", "--file", "absent.json", "--key", "a")
	assert.True(t, errors.Is(err, errors.ErrPathNotAccessible))
}

func TestJSONSetKeepsLayout(t *testing.T) {
	dir := t.TempDir()
	original := "{\n  \"zeta\": \"last-alphabetically\",\n  \"alpha\": {\"tag\": \"1.0\"}\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.json"), []byte(original), 0o644))

	_, _, err := run(t, dir, "json", "--file", "app.json", "--key", "alpha.tag", "--set", "2.0")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "app.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"zeta\": \"last-alphabetically\",\n  \"alpha\": {\"tag\": 2.0}\n}\n", string(data))
}

func TestJSONTopLevelArray(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list.json"), []byte(`[{"name": "x"}]`), 0o644))

	inv, out, err := run(t, dir, "json", "--file", "list.json", "--key", "0.name")
	require.NoError(t, err)
	assert.Equal(t, "x\n", out)
	assert.Equal(t, "x", inv.Outputs["value"])
}
