package tus

import "net/http"

const defaultChunkSize = 1024 * 1024

// Config configures a Client.
type Config struct {
	// ChunkSize is the number of bytes sent per PATCH request.
	ChunkSize int64
	// Resume enables resumable uploads. When true, Store is required: the
	// client records fingerprint to upload-URL associations there so an
	// interrupted transfer can be picked up by a later process.
	Resume bool
	// RemoveFingerprintOnSuccess removes the fingerprint entry from the
	// Store once a final status request confirms the upload is complete.
	RemoveFingerprintOnSuccess bool
	// Store maps an upload fingerprint to its upload URL.
	Store Store
	// Header holds extra header values set on every request.
	Header http.Header
	// HTTPClient is the client used for all requests. Defaults to
	// http.DefaultClient. Timeouts and transport-level retry policy belong
	// here, not in this package.
	HTTPClient *http.Client
}

// DefaultConfig returns the Client configuration used when none is given:
// 1 MiB chunks, resuming disabled.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize: defaultChunkSize,
		Header:    make(http.Header),
	}
}

// Validate checks the configuration for values the client can't work with.
func (c *Config) Validate() error {
	if c.ChunkSize < 1 {
		return ErrChunkSize
	}
	if c.Resume && c.Store == nil {
		return ErrNilStore
	}
	return nil
}
