package tus

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrChunkSize         = errors.New("chunk size must be greater than zero")
	ErrNilStore          = errors.New("store can't be nil when resume is enabled")
	ErrNilUpload         = errors.New("upload can't be nil")
	ErrResumeNotEnabled  = errors.New("resuming not enabled")
	ErrFingerprintNotSet = errors.New("fingerprint not set")
)

// UploadNotFoundError is returned by resume operations when the store holds
// no upload URL for the given fingerprint.
type UploadNotFoundError struct {
	Fingerprint string
}

func (e *UploadNotFoundError) Error() string {
	return fmt.Sprintf("no stored upload found for fingerprint %q", e.Fingerprint)
}

// ProtocolError is returned when the server answered, but the answer does not
// satisfy the tus protocol: a non-2xx status, or a 2xx response missing a
// required header. Transport-level failures are never wrapped in a
// ProtocolError; they propagate as-is from the HTTP client.
type ProtocolError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Reason     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tus: %s (status %d)", e.Reason, e.StatusCode)
}

// maxErrBody bounds how much of an error response body is retained for
// diagnostics.
const maxErrBody = 4 << 10

func newProtocolError(res *http.Response, reason string) *ProtocolError {
	e := &ProtocolError{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Reason:     reason,
	}
	if res.Body != nil {
		e.Body, _ = io.ReadAll(io.LimitReader(res.Body, maxErrBody))
	}
	return e
}

// isUploadGone reports whether err is a ProtocolError saying the upload
// resource no longer exists on the server. Only 404 counts; 403 and 410
// deliberately do not trigger the create-or-resume fallback.
func isUploadGone(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound
}
