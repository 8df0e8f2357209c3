package multimodal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/BaSui01/claudegate/types"
	"go.uber.org/zap"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// URLValidator vets a URL before any network access.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// Fetcher downloads remote images for inline mode. The client must re-vet
// redirects and dialled addresses; safeurl.Validator.NewClient does both.
type Fetcher struct {
	client    Doer
	validator URLValidator
	cfg       VisionConfig
	logger    *zap.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(client Doer, validator URLValidator, cfg VisionConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:    client,
		validator: validator,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "image_fetcher")),
	}
}

// Fetch validates rawURL, downloads at most MaxImageSize+1 bytes and checks
// the result like an inline image.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	if err := f.validator.Validate(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, types.NewValidationError(types.ReasonInvalidImage, "bad image url").WithCause(err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fetchError(ctx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.NewValidationError(types.ReasonInvalidImage,
			fmt.Sprintf("image url returned status %d", resp.StatusCode))
	}

	limit := f.cfg.maxSize()
	if resp.ContentLength > limit {
		return nil, types.NewValidationError(types.ReasonImageTooLarge,
			fmt.Sprintf("image is %d bytes, limit %d", resp.ContentLength, limit))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fetchError(ctx, err)
	}
	if int64(len(raw)) > limit {
		return nil, types.NewValidationError(types.ReasonImageTooLarge,
			fmt.Sprintf("image exceeds %d bytes", limit))
	}

	img, err := f.cfg.ValidateBytes(raw)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("image fetched",
		zap.String("media_type", string(img.MediaType)),
		zap.Int64("size", img.Size))
	return img, nil
}

// fetchError keeps SSRF verdicts from redirects or dials and maps the rest.
func fetchError(ctx context.Context, err error) error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return types.NewError(types.KindCancelled, "image fetch cancelled").WithCause(err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.KindTimeout, "image fetch timed out").WithCause(err)
	}
	return types.NewValidationError(types.ReasonInvalidImage, "image could not be downloaded").WithCause(err)
}
