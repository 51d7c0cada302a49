package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
)

// DefaultMaxSize caps a single download.
const DefaultMaxSize = 64 << 20

// HTTPFetcher downloads media over HTTP. A failed transfer is not retried:
// the caller downgrades the message instead.
type HTTPFetcher struct {
	client  *resty.Client
	maxSize int64
}

func NewHTTPFetcher(timeout time.Duration, maxSize int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &HTTPFetcher{
		client:  resty.New().SetTimeout(timeout).SetResponseBodyLimit(int(maxSize)),
		maxSize: maxSize,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref inbound.MediaRef) (Blob, error) {
	if ref.URL == "" {
		return Blob{}, fmt.Errorf("%w: empty url", ErrFetch)
	}
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeaders(ref.Headers).
		Get(ref.URL)
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		return Blob{}, tooLarge(f.maxSize)
	}
	if err != nil {
		return Blob{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.IsError() {
		return Blob{}, fmt.Errorf("%w: status %d from %s", ErrFetch, resp.StatusCode(), ref.URL)
	}
	body := resp.Body()
	if int64(len(body)) > f.maxSize {
		return Blob{}, tooLarge(f.maxSize)
	}
	return Blob{Data: body, ContentType: resp.Header().Get("Content-Type")}, nil
}

func tooLarge(limit int64) error {
	return fmt.Errorf("%w: body exceeds limit of %d bytes", ErrFetch, limit)
}
