package remote

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Write appends p to the object. Every full part is uploaded in the
// background; at most UploadConcurrency parts are in flight, and Write blocks
// while that many are outstanding. A failed part upload is reported by the
// next Write, Flush or Close.
func (o *Object) Write(p []byte) (int, error) {
	if s := o.State(); s != StateOpen {
		return 0, &UsageError{Op: "write", ID: o.id, Reason: fmt.Sprintf("object is %s", s)}
	}
	if err := o.failure(); err != nil {
		return 0, err
	}

	partSize := int(o.opts.PartSize)
	if len(o.buf) == 0 && len(p) == partSize {
		if err := o.dispatch(bytes.Clone(p)); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	written := 0
	for len(p) > 0 {
		if o.buf == nil {
			o.buf = make([]byte, 0, partSize)
		}
		n := min(partSize-len(o.buf), len(p))
		o.buf = append(o.buf, p[:n]...)
		p = p[n:]
		written += n

		if len(o.buf) == partSize {
			part := o.buf
			o.buf = nil
			if err := o.dispatch(part); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// FlushAsync uploads any buffered data as a part without waiting for
// outstanding uploads.
func (o *Object) FlushAsync() error {
	if len(o.buf) == 0 {
		return o.failure()
	}
	if s := o.State(); s != StateOpen {
		return &UsageError{Op: "flush", ID: o.id, Reason: fmt.Sprintf("object is %s", s)}
	}
	part := o.buf
	o.buf = nil
	return o.dispatch(part)
}

// Flush uploads any buffered data and waits for every outstanding part. It
// returns the first upload failure.
func (o *Object) Flush() error {
	if err := o.FlushAsync(); err != nil {
		return err
	}
	if o.group == nil {
		return o.failure()
	}
	err := o.group.Wait()
	o.group, o.groupCtx = nil, nil
	if err != nil {
		return err
	}
	return o.failure()
}

// dispatch assigns the next part index to data and schedules its upload. data
// is owned by the upload from here on.
func (o *Object) dispatch(data []byte) error {
	if o.nextPart > MaxParts {
		return &UsageError{
			Op:     "write",
			ID:     o.id,
			Reason: fmt.Sprintf("part index %d exceeds the maximum of %d parts; use a larger part size", o.nextPart, MaxParts),
		}
	}
	index := o.nextPart
	o.nextPart++
	o.uploaded = true

	if o.group == nil {
		o.group, o.groupCtx = errgroup.WithContext(o.ctx)
		o.group.SetLimit(o.opts.UploadConcurrency)
	}
	ctx := o.groupCtx
	o.group.Go(func() error {
		if err := o.uploadPart(ctx, index, data); err != nil {
			o.fail(err)
			return err
		}
		return nil
	})
	return nil
}

func (o *Object) fail(err error) {
	o.uploadMu.Lock()
	defer o.uploadMu.Unlock()
	if o.uploadErr == nil {
		o.uploadErr = err
	}
}

func (o *Object) failure() error {
	o.uploadMu.Lock()
	defer o.uploadMu.Unlock()
	return o.uploadErr
}

// uploadPart transfers one part. The upload location is single-use, so a new
// one is requested for every attempt of the transfer.
func (o *Object) uploadPart(ctx context.Context, index int, data []byte) error {
	if index < 1 || index > MaxParts {
		return &UsageError{Op: "upload part", ID: o.id, Reason: fmt.Sprintf("index %d out of range [1, %d]", index, MaxParts)}
	}

	sum := md5.Sum(data)
	digest := hex.EncodeToString(sum[:])
	in := uploadInput{Index: index, Size: len(data), MD5: digest}
	budget := o.client.MaxRetries()

	req := o.client.NewRequest(http.MethodPost, "")
	req.Body = bytes.NewReader(data)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-MD5", digest)
	req.NoAuth = true
	req.AlwaysRetry = true
	req.Raw = true
	req.Compression = false
	req.URLFunc = func(ctx context.Context, attempt int) (string, http.Header, error) {
		target, err := requestUpload(ctx, o.client, o.id, in, max(budget-attempt, 0))
		if err != nil {
			return "", nil, err
		}
		header := make(http.Header, len(target.Headers))
		for k, v := range target.Headers {
			header.Set(k, v)
		}
		return target.URL, header, nil
	}

	if _, err := o.client.Do(ctx, req); err != nil {
		return fmt.Errorf("upload part %d of %s: %w", index, o.id, err)
	}

	o.log.Debug("uploaded part",
		zap.String("id", o.id),
		zap.Int("index", index),
		zap.Int("size", len(data)),
	)
	o.progress(len(data))
	return nil
}
