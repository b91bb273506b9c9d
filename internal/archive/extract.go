// ABOUTME: Archive extraction for downloaded database payloads
// ABOUTME: Sniffs container formats by content and peels them until a raw payload remains

package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/h2non/filetype"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

var (
	// ErrNoPayload is returned when an archive contains no database member.
	ErrNoPayload = errors.New("no database payload found in archive")

	// ErrCorrupt is returned when a recognized container cannot be decoded.
	ErrCorrupt = errors.New("corrupt archive")
)

const (
	// payloadSuffix selects the database member inside tar and zip archives.
	payloadSuffix = ".mmdb"

	// macOS zip tooling litters archives with resource fork copies.
	macosPrefix = "__MACOSX/"

	// maxDepth bounds container nesting. Real distributions wrap the
	// payload at most twice (tar inside gzip); anything deeper is a
	// decompression bomb or garbage.
	maxDepth = 8

	// maxExpanded bounds a single decompression step.
	maxExpanded = int64(8) << 30
)

// Extract peels containers off data until a raw payload remains. Containers
// are recognized by content, never by file name: gzip, xz, bzip2, zip, and
// tar unwrap in any nesting order. Data that matches no container is
// returned as-is; whether it is a usable database is the caller's problem.
func Extract(data []byte) ([]byte, error) {
	for depth := 0; depth < maxDepth; depth++ {
		kind, err := filetype.Match(data)
		if err != nil {
			return nil, fmt.Errorf("sniffing payload: %w", err)
		}

		switch kind.Extension {
		case "gz":
			data, err = unwrapGzip(data)
		case "xz":
			data, err = unwrapXz(data)
		case "bz2":
			data, err = unwrapBzip2(data)
		case "zip":
			data, err = unwrapZip(data)
		case "tar":
			data, err = unwrapTar(data)
		default:
			return data, nil
		}
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: container nesting exceeds %d layers", ErrCorrupt, maxDepth)
}

func unwrapGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: opening gzip stream: %v", ErrCorrupt, err)
	}
	defer r.Close()

	out, err := readBounded(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading gzip stream: %v", ErrCorrupt, err)
	}
	return out, nil
}

func unwrapXz(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: opening xz stream: %v", ErrCorrupt, err)
	}

	out, err := readBounded(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading xz stream: %v", ErrCorrupt, err)
	}
	return out, nil
}

func unwrapBzip2(data []byte) ([]byte, error) {
	out, err := readBounded(bzip2.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: reading bzip2 stream: %v", ErrCorrupt, err)
	}
	return out, nil
}

// unwrapTar returns the first regular member whose name ends in .mmdb,
// skipping macOS resource fork entries.
func unwrapTar(data []byte) ([]byte, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, ErrNoPayload
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading tar: %v", ErrCorrupt, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !wantMember(hdr.Name) {
			continue
		}

		out, err := readBounded(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: reading tar member %s: %v", ErrCorrupt, hdr.Name, err)
		}
		return out, nil
	}
}

// unwrapZip returns the first member whose name ends in .mmdb, skipping
// macOS resource fork entries.
func unwrapZip(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: opening zip: %v", ErrCorrupt, err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !wantMember(f.Name) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: opening zip member %s: %v", ErrCorrupt, f.Name, err)
		}
		out, err := readBounded(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: reading zip member %s: %v", ErrCorrupt, f.Name, err)
		}
		return out, nil
	}
	return nil, ErrNoPayload
}

func wantMember(name string) bool {
	if strings.HasPrefix(name, macosPrefix) {
		return false
	}
	return strings.HasSuffix(name, payloadSuffix)
}

func readBounded(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxExpanded+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > maxExpanded {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxExpanded)
	}
	return out, nil
}
