package tus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	netUrl "net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// ProtocolVersion is the tus version spoken by this client.
	ProtocolVersion = "1.0.0"

	TusResumableHeader   = "Tus-Resumable"
	UploadOffsetHeader   = "Upload-Offset"
	UploadLengthHeader   = "Upload-Length"
	UploadMetadataHeader = "Upload-Metadata"
	UploadExpiresHeader  = "Upload-Expires"
	ContentTypeHeader    = "Content-Type"

	offsetContentType = "application/offset+octet-stream"

	uploadExpiresFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// Client talks to a tus v1.0.0 server. It issues the three protocol requests
// (creation POST, status HEAD, chunk PATCH) sequentially and never retries on
// its own; wrap the HTTP client if retry or timeout policy is wanted. A
// Client may be shared by concurrent uploads as long as no two of them use
// the same fingerprint.
type Client struct {
	// URL is the creation endpoint uploads are POSTed to.
	URL string

	config     *Config
	httpClient *http.Client
}

// NewClient creates a tus client for the given creation endpoint. A nil
// config means DefaultConfig.
func NewClient(url string, config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	} else if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Header == nil {
		config.Header = make(http.Header)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		URL:        url,
		config:     config,
		httpClient: httpClient,
	}, nil
}

// CloseIdleConnections closes idle connections held by the underlying
// transport. Call it when the client is no longer needed.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	for k, v := range c.config.Header {
		req.Header[k] = v
	}
	req.Header.Set(TusResumableHeader, ProtocolVersion)
	return c.httpClient.Do(req)
}

// CreateUpload creates a new upload resource on the server and returns an
// Uploader positioned at offset zero. When resuming is enabled the
// fingerprint is recorded in the store before any bytes are sent, so a crash
// mid-transfer still leaves a resumable record behind.
func (c *Client) CreateUpload(ctx context.Context, u *Upload) (*Uploader, error) {
	if u == nil {
		return nil, ErrNilUpload
	}
	if c.config.Resume && u.Fingerprint == "" {
		return nil, ErrFingerprintNotSet
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(UploadLengthHeader, strconv.FormatInt(u.size, 10))
	if encoded := u.Metadata.Encode(); encoded != "" {
		req.Header.Set(UploadMetadataHeader, encoded)
	}

	res, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if !is2xx(res.StatusCode) {
		return nil, newProtocolError(res, "upload creation rejected")
	}
	location := res.Header.Get("Location")
	if location == "" {
		return nil, newProtocolError(res, "creation response missing Location header")
	}
	url, err := c.resolveLocation(location)
	if err != nil {
		return nil, newProtocolError(res, fmt.Sprintf("creation response Location not a valid URL: %v", err))
	}

	log.Debug().
		Str("location", url).
		Int("status", res.StatusCode).
		Int64("size", u.size).
		Msg("upload created")

	if c.config.Resume {
		c.config.Store.Set(u.Fingerprint, url)
	}

	return c.newUploader(u, UploadInfo{
		URL:       url,
		ID:        uploadID(url),
		Size:      u.size,
		Metadata:  u.Metadata,
		CreatedAt: time.Now(),
	}), nil
}

// GetStatus queries the server for the current state of an upload resource.
func (c *Client) GetStatus(ctx context.Context, url string) (UploadInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return UploadInfo{}, err
	}

	res, err := c.do(req)
	if err != nil {
		return UploadInfo{}, err
	}
	defer res.Body.Close()

	if !is2xx(res.StatusCode) {
		return UploadInfo{}, newProtocolError(res, "status request rejected")
	}
	size, err := strconv.ParseInt(res.Header.Get(UploadLengthHeader), 10, 64)
	if err != nil {
		return UploadInfo{}, newProtocolError(res, "status response missing or malformed Upload-Length header")
	}
	offset, err := strconv.ParseInt(res.Header.Get(UploadOffsetHeader), 10, 64)
	if err != nil {
		return UploadInfo{}, newProtocolError(res, "status response missing or malformed Upload-Offset header")
	}

	info := UploadInfo{
		URL:    url,
		ID:     uploadID(url),
		Size:   size,
		Offset: offset,
	}
	if raw := res.Header.Get(UploadMetadataHeader); raw != "" {
		metadata, err := DecodeMetadata(raw)
		if err != nil {
			return UploadInfo{}, newProtocolError(res, fmt.Sprintf("status response Upload-Metadata not decodable: %v", err))
		}
		info.Metadata = metadata
	}
	if raw := res.Header.Get(UploadExpiresHeader); raw != "" {
		if t, err := time.Parse(uploadExpiresFormat, raw); err == nil {
			info.ExpiresAt = t
		}
	}

	log.Debug().
		Str("url", url).
		Int64("offset", offset).
		Int64("size", size).
		Msg("upload status")

	return info, nil
}

// UploadChunk sends body as a PATCH at the given offset and returns the new
// offset committed by the server. The returned value is authoritative: it
// may differ from offset+len(body) if the server accepted the chunk only
// partially, and callers must adopt it instead of keeping a running total.
func (c *Client) UploadChunk(ctx context.Context, url string, body []byte, offset int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set(ContentTypeHeader, offsetContentType)
	req.Header.Set(UploadOffsetHeader, strconv.FormatInt(offset, 10))

	res, err := c.do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if !is2xx(res.StatusCode) {
		return 0, newProtocolError(res, "chunk rejected")
	}
	newOffset, err := strconv.ParseInt(res.Header.Get(UploadOffsetHeader), 10, 64)
	if err != nil {
		return 0, newProtocolError(res, "chunk response missing or malformed Upload-Offset header")
	}

	log.Debug().
		Str("url", url).
		Int64("offset", offset).
		Int("chunk_size", len(body)).
		Int64("new_offset", newOffset).
		Msg("chunk committed")

	return newOffset, nil
}

// ResumeUpload picks up a previously created upload by its fingerprint. It
// asks the server for the committed offset rather than trusting anything
// remembered locally, so an upload interrupted mid-chunk resumes from the
// last byte the server actually has.
func (c *Client) ResumeUpload(ctx context.Context, u *Upload) (*Uploader, error) {
	if u == nil {
		return nil, ErrNilUpload
	}
	if !c.config.Resume {
		return nil, ErrResumeNotEnabled
	}
	if u.Fingerprint == "" {
		return nil, ErrFingerprintNotSet
	}

	url, found := c.config.Store.Get(u.Fingerprint)
	if !found {
		return nil, &UploadNotFoundError{Fingerprint: u.Fingerprint}
	}

	info, err := c.GetStatus(ctx, url)
	if err != nil {
		return nil, err
	}
	info.Metadata = mergeMetadata(info.Metadata, u.Metadata)
	return c.newUploader(u, info), nil
}

// CreateOrResumeUpload resumes the upload when possible and creates a fresh
// one when resuming is disabled, the fingerprint is unknown, or the server
// reports the stored upload URL as not found. Any other failure propagates
// unchanged.
func (c *Client) CreateOrResumeUpload(ctx context.Context, u *Upload) (*Uploader, error) {
	if u == nil {
		return nil, ErrNilUpload
	}

	uploader, err := c.ResumeUpload(ctx, u)
	if err == nil {
		return uploader, nil
	}

	var notFound *UploadNotFoundError
	if errors.Is(err, ErrResumeNotEnabled) || errors.As(err, &notFound) || isUploadGone(err) {
		return c.CreateUpload(ctx, u)
	}
	return nil, err
}

// UploadFile transfers the file at path in its entirety, creating or
// resuming as appropriate, and returns the final server-confirmed state.
// The progress sink may be nil.
func (c *Client) UploadFile(ctx context.Context, path string, progress ProgressFunc) (UploadInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadInfo{}, err
	}
	defer f.Close()

	u, err := NewUploadFromFile(f)
	if err != nil {
		return UploadInfo{}, err
	}

	var uploader *Uploader
	if c.config.Resume {
		uploader, err = c.CreateOrResumeUpload(ctx, u)
	} else {
		uploader, err = c.CreateUpload(ctx, u)
	}
	if err != nil {
		return UploadInfo{}, err
	}
	uploader.Progress = progress

	return uploader.Upload(ctx)
}

func (c *Client) resolveLocation(location string) (string, error) {
	base, err := netUrl.Parse(c.URL)
	if err != nil {
		return "", err
	}
	ref, err := netUrl.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func is2xx(code int) bool {
	return code >= 200 && code < 300
}

// mergeMetadata fills pairs the server did not echo back from the local
// upload, preferring the server's view where both exist.
func mergeMetadata(server, local Metadata) Metadata {
	if server == nil {
		return local
	}
	for k, v := range local {
		if _, ok := server[k]; !ok {
			server[k] = v
		}
	}
	return server
}
