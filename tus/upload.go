package tus

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Metadata holds the opaque key/value pairs attached to an upload at
// creation time and echoed back by the server on status requests.
type Metadata map[string]string

// Encode renders the metadata as an Upload-Metadata header value: each key
// followed by a space and the base64 encoding of its value, entries joined
// by commas. Keys are sorted so the header is stable. An empty map encodes
// to the empty string, in which case the header must be omitted entirely.
func (m Metadata) Encode() string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, fmt.Sprintf("%s %s", k, base64.StdEncoding.EncodeToString([]byte(m[k]))))
	}
	return strings.Join(entries, ",")
}

// DecodeMetadata parses an Upload-Metadata header value. A key without a
// value part decodes to the empty string.
func DecodeMetadata(s string) (Metadata, error) {
	m := make(Metadata)
	if s == "" {
		return m, nil
	}
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), " ", 2)
		if parts[0] == "" {
			continue
		}
		if len(parts) == 1 {
			m[parts[0]] = ""
			continue
		}
		value, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("decoding metadata value for %q: %w", parts[0], err)
		}
		m[parts[0]] = string(value)
	}
	return m, nil
}

// Fingerprint derives the stable identifier used as the resumability key for
// a local file. It is a pure function of the path and size, so two distinct
// files with identical path and size collide. That is a documented
// limitation of path+size fingerprinting, not something this package tries
// to detect.
func Fingerprint(path string, size int64) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fmt.Sprintf("%s-%d", path, size)
}

// Upload is a local byte source destined for a tus server.
type Upload struct {
	// Fingerprint identifies this upload in the Store when resuming is
	// enabled.
	Fingerprint string
	// Metadata is sent with the creation request.
	Metadata Metadata

	stream io.ReadSeeker
	size   int64
}

// NewUpload builds an Upload from an arbitrary seekable byte source. The
// declared size is fixed for the lifetime of the upload.
func NewUpload(stream io.ReadSeeker, size int64, fingerprint string, metadata Metadata) *Upload {
	if metadata == nil {
		metadata = make(Metadata)
	}
	return &Upload{
		Fingerprint: fingerprint,
		Metadata:    metadata,
		stream:      stream,
		size:        size,
	}
}

// NewUploadFromFile builds an Upload for a file, deriving the size from the
// file, the fingerprint from the absolute path and size, and a filename
// metadata entry.
func NewUploadFromFile(f *os.File) (*Upload, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	metadata := Metadata{
		"filename": filepath.Base(f.Name()),
	}
	return NewUpload(f, fi.Size(), Fingerprint(f.Name(), fi.Size()), metadata), nil
}

// Size returns the declared total byte length.
func (u *Upload) Size() int64 {
	return u.size
}

// UploadInfo describes an upload resource as last reported by the server.
type UploadInfo struct {
	// URL locates the upload resource on the server.
	URL string
	// ID is the last path segment of URL.
	ID string
	// Size is the declared total byte length.
	Size int64
	// Offset is the number of bytes the server has acknowledged. Never
	// exceeds Size.
	Offset int64
	// Metadata holds the pairs echoed by the server, if any.
	Metadata Metadata
	// CreatedAt is when this client created the resource. Zero for uploads
	// created by another process.
	CreatedAt time.Time
	// ExpiresAt is the server-announced expiration time, when present.
	ExpiresAt time.Time
}

// Complete reports whether the server has acknowledged all declared bytes.
func (i UploadInfo) Complete() bool {
	return i.Offset >= i.Size
}

func uploadID(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}
