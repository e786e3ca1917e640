package builtins

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"

	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
)

// Archive formats understood by compress and extract.
const (
	FormatZip   = "zip"
	FormatTar   = "tar"
	FormatGzip  = "gzip"
	FormatBzip2 = "bzip2"
	FormatXz    = "xz"
	FormatAuto  = "auto"

	FormatTarGzip  = "tar.gz"
	FormatTarBzip2 = "tar.bz2"
	FormatTarXz    = "tar.xz"
)

// tarballs maps each compressed tar format to its stream format.
var tarballs = map[string]string{
	FormatTarGzip:  FormatGzip,
	FormatTarBzip2: FormatBzip2,
	FormatTarXz:    FormatXz,
}

// extractsToDir reports whether format unpacks into a directory rather than
// a single file.
func extractsToDir(format string) bool {
	_, tarball := tarballs[format]
	return format == FormatZip || format == FormatTar || tarball
}

type magic struct {
	format string
	offset int
	bytes  []byte
}

// Checked in order; tar's "ustar" marker sits after the first header block fields.
var magicNumbers = []magic{
	{FormatZip, 0, []byte{0x50, 0x4B, 0x03, 0x04}},
	{FormatGzip, 0, []byte{0x1F, 0x8B}},
	{FormatBzip2, 0, []byte{0x42, 0x5A, 0x68}},
	{FormatXz, 0, []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}},
	tarMagic,
}

var tarMagic = magic{FormatTar, 257, []byte("ustar")}

// DetectArchiveFormat determines the archive format using magic numbers and file extension
func DetectArchiveFormat(filename string) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	header := make([]byte, 262)
	n, err := io.ReadFull(file, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	header = header[:n]

	for _, m := range magicNumbers {
		if hasMagic(header, m) {
			if format, ok := tarballOf(m.format, filename); ok {
				return format, nil
			}
			return m.format, nil
		}
	}

	// Fallback to extension-based detection
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGzip, nil
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return FormatTarBzip2, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz, nil
	}
	switch filepath.Ext(lower) {
	case ".zip":
		return FormatZip, nil
	case ".tar":
		return FormatTar, nil
	case ".gz":
		return FormatGzip, nil
	case ".bz2":
		return FormatBzip2, nil
	case ".xz":
		return FormatXz, nil
	default:
		return "", fmt.Errorf("%w: %s", errors.ErrUnsupportedCompression, filename)
	}
}

func hasMagic(header []byte, m magic) bool {
	return len(header) >= m.offset+len(m.bytes) && bytes.Equal(header[m.offset:m.offset+len(m.bytes)], m.bytes)
}

// tarballOf reports the compressed tar format for a stream whose decompressed
// content starts with a tar header.
func tarballOf(streamFormat, filename string) (string, bool) {
	var tarball string
	for format, stream := range tarballs {
		if stream == streamFormat {
			tarball = format
		}
	}
	if tarball == "" {
		return "", false
	}

	file, err := os.Open(filename)
	if err != nil {
		return "", false
	}
	defer file.Close()

	r, _, err := decompressor(streamFormat, file)
	if err != nil {
		return "", false
	}
	defer r.Close()

	header := make([]byte, 262)
	n, _ := io.ReadFull(r, header)
	return tarball, hasMagic(header[:n], tarMagic)
}

// Compress packs src into dst using format. zip and tar accept a file or a
// directory; the stream formats accept a single file.
func Compress(format, src, dst string) error {
	switch format {
	case FormatZip:
		return compressZIP(src, dst)
	case FormatTar:
		return compressTAR(src, dst)
	case FormatGzip, FormatBzip2, FormatXz:
		return compressStream(format, src, dst)
	case FormatTarGzip, FormatTarBzip2, FormatTarXz:
		return compressTarball(tarballs[format], src, dst)
	default:
		return fmt.Errorf("%w: %q", errors.ErrUnsupportedCompression, format)
	}
}

// Extract unpacks src. For zip and tar dst is a directory; for the stream
// formats it is the output file, or a directory to place it in.
func Extract(format, src, dst string) (string, error) {
	switch format {
	case FormatZip:
		return dst, extractZIP(src, dst)
	case FormatTar:
		return dst, extractTAR(src, dst)
	case FormatGzip, FormatBzip2, FormatXz:
		return extractStream(format, src, dst)
	case FormatTarGzip, FormatTarBzip2, FormatTarXz:
		return dst, extractTarball(tarballs[format], src, dst)
	default:
		return "", fmt.Errorf("%w: %q", errors.ErrUnsupportedCompression, format)
	}
}

// walkSource calls fn for every regular file under src with its archive name,
// which keeps the base name of src as the top-level entry.
func walkSource(src string, fn func(path, name string, info os.FileInfo) error) error {
	base := filepath.Dir(filepath.Clean(src))
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		return fn(path, filepath.ToSlash(rel), info)
	})
}

func compressZIP(src, dst string) (err error) {
	zipFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create zip file: %w", err)
	}
	defer closeInto(zipFile, &err)

	zipWriter := zip.NewWriter(zipFile)
	defer closeInto(zipWriter, &err)

	return walkSource(src, func(path, name string, info os.FileInfo) error {
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate

		entry, err := zipWriter.CreateHeader(hdr)
		if err != nil {
			return err
		}
		return copyFile(entry, path)
	})
}

func compressTAR(src, dst string) (err error) {
	outFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create tar file: %w", err)
	}
	defer closeInto(outFile, &err)
	return writeTAR(outFile, src)
}

func compressTarball(streamFormat, src, dst string) (err error) {
	outFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer closeInto(outFile, &err)

	w, err := compressor(streamFormat, outFile, "")
	if err != nil {
		return err
	}
	defer closeInto(w, &err)
	return writeTAR(w, src)
}

func writeTAR(w io.Writer, src string) (err error) {
	tw := tar.NewWriter(w)
	defer closeInto(tw, &err)

	return walkSource(src, func(path, name string, info os.FileInfo) error {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		return copyFile(tw, path)
	})
}

// compressor wraps w in the writer for a stream format. name is recorded in
// gzip headers.
func compressor(format string, w io.Writer, name string) (io.WriteCloser, error) {
	switch format {
	case FormatGzip:
		gw := gzip.NewWriter(w)
		gw.Name = name
		return gw, nil
	case FormatBzip2:
		return bzip2.NewWriter(w, nil)
	case FormatXz:
		return xz.NewWriter(w)
	}
	return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedCompression, format)
}

// decompressor wraps r in the reader for a stream format and returns the
// original file name when the format records one.
func decompressor(format string, r io.Reader) (io.ReadCloser, string, error) {
	switch format {
	case FormatGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", errors.ErrInvalidArchive, err)
		}
		return gr, gr.Name, nil
	case FormatBzip2:
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", errors.ErrInvalidArchive, err)
		}
		return br, "", nil
	case FormatXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", errors.ErrInvalidArchive, err)
		}
		return io.NopCloser(xr), "", nil
	}
	return nil, "", fmt.Errorf("%w: %q", errors.ErrUnsupportedCompression, format)
}

func compressStream(format, src, dst string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s compresses a single file, %s is a directory", errors.ErrInvalidArgument, format, src)
	}

	outputFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer closeInto(outputFile, &err)

	w, err := compressor(format, outputFile, filepath.Base(src))
	if err != nil {
		return err
	}
	defer closeInto(w, &err)

	if err := copyFile(w, src); err != nil {
		return fmt.Errorf("failed to compress file: %w", err)
	}
	return nil
}

func extractZIP(src, dst string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidArchive, err)
	}
	defer r.Close()

	for _, f := range r.File {
		fpath, err := safeJoin(dst, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0755); err != nil {
				return err
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeEntry(fpath, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTAR(src, dst string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()
	return untar(file, dst)
}

func extractTarball(streamFormat, src, dst string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	r, _, err := decompressor(streamFormat, file)
	if err != nil {
		return err
	}
	defer r.Close()
	return untar(r, dst)
}

func untar(r io.Reader, dst string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrInvalidArchive, err)
		}

		fpath, err := safeJoin(dst, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(fpath, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(fpath, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		}
	}
}

func extractStream(format, src, dst string) (string, error) {
	inputFile, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer inputFile.Close()

	r, recorded, err := decompressor(format, inputFile)
	if err != nil {
		return "", err
	}
	defer r.Close()
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if recorded != "" {
		name = filepath.Base(recorded)
	}

	out := dst
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		out = filepath.Join(dst, name)
	}
	if err := writeEntry(out, r, 0644); err != nil {
		return "", fmt.Errorf("failed to decompress file: %w", err)
	}
	return out, nil
}

// safeJoin joins an archive entry name to dst and rejects names that would
// land outside dst.
func safeJoin(dst, name string) (string, error) {
	root := filepath.Clean(dst)
	p := filepath.Join(root, filepath.FromSlash(name))
	if p != root && !strings.HasPrefix(p, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes the destination", errors.ErrInvalidArchive, name)
	}
	return p, nil
}

func writeEntry(path string, r io.Reader, perm os.FileMode) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer closeInto(out, &err)
	_, err = io.Copy(out, r)
	return err
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// closeInto closes c and stores its error in *err unless one is already set.
func closeInto(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
