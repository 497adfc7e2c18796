package tus

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// ProgressFunc receives the committed fraction of an upload, in [0,1], after
// every chunk the server acknowledges. It is a reporting side channel; the
// transfer does not depend on it.
type ProgressFunc func(fraction float64)

// Uploader drives the chunked transfer of a single Upload. It sends chunks
// strictly one at a time: the starting offset of each PATCH is the offset
// the server returned for the previous one, so no request is issued before
// the prior response is observed.
type Uploader struct {
	// Progress, when set, is called after each committed chunk.
	Progress ProgressFunc

	client *Client
	upload *Upload
	info   UploadInfo
	offset int64
}

func (c *Client) newUploader(u *Upload, info UploadInfo) *Uploader {
	offset := info.Offset
	if offset > u.size {
		offset = u.size
	}
	return &Uploader{
		client: c,
		upload: u,
		info:   info,
		offset: offset,
	}
}

// URL returns the upload resource URL.
func (u *Uploader) URL() string {
	return u.info.URL
}

// Offset returns the local cursor: the offset the next chunk would be sent
// at. After an interruption this value must not be trusted; resume via the
// client instead, which re-queries the server.
func (u *Uploader) Offset() int64 {
	return u.offset
}

// Upload transfers the remaining bytes and returns the final state as
// confirmed by one last status request. That trailing status query is done
// unconditionally, also for uploads that had nothing left to send, so the
// returned offset is always the server's committed value rather than this
// client's bookkeeping.
func (u *Uploader) Upload(ctx context.Context) (UploadInfo, error) {
	buf := make([]byte, u.client.config.ChunkSize)

	for u.offset < u.upload.size {
		select {
		case <-ctx.Done():
			return UploadInfo{}, ctx.Err()
		default:
		}

		n, err := u.readChunk(buf)
		if err != nil {
			return UploadInfo{}, err
		}
		if n == 0 {
			// The source ran out before the declared size. End of data,
			// not an error; the upload stays resumable.
			log.Debug().
				Str("url", u.info.URL).
				Int64("offset", u.offset).
				Int64("size", u.upload.size).
				Msg("byte source exhausted before declared size")
			break
		}

		newOffset, err := u.client.UploadChunk(ctx, u.info.URL, buf[:n], u.offset)
		if err != nil {
			return UploadInfo{}, err
		}
		if newOffset > u.upload.size {
			newOffset = u.upload.size
		}
		u.offset = newOffset

		if u.Progress != nil {
			u.Progress(float64(u.offset) / float64(u.upload.size))
		}
	}

	final, err := u.client.GetStatus(ctx, u.info.URL)
	if err != nil {
		return UploadInfo{}, err
	}
	final.Metadata = mergeMetadata(final.Metadata, u.info.Metadata)
	final.CreatedAt = u.info.CreatedAt

	if final.Complete() {
		if u.Progress != nil && u.upload.size == 0 {
			u.Progress(1)
		}
		cfg := u.client.config
		if cfg.Resume && cfg.RemoveFingerprintOnSuccess && u.upload.Fingerprint != "" {
			cfg.Store.Remove(u.upload.Fingerprint)
		}
	}

	return final, nil
}

// readChunk reads the next chunk at the current cursor. The source is
// re-seeked every time because the server may have committed fewer bytes
// than the previous chunk carried.
func (u *Uploader) readChunk(buf []byte) (int, error) {
	if _, err := u.upload.stream.Seek(u.offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seeking byte source to %d: %w", u.offset, err)
	}
	n, err := u.upload.stream.Read(buf)
	if err != nil && err != io.EOF {
		return 0, err
	}
	return n, nil
}
