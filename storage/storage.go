package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"meal-analysis-service/pipeline"

	gcs "cloud.google.com/go/storage"
)

// Client fetches uploaded meal images from Google Cloud Storage.
type Client struct {
	gcs *gcs.Client
}

// NewClient creates a storage client using ambient credentials.
func NewClient(ctx context.Context) (*Client, error) {
	c, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Client{gcs: c}, nil
}

// Stat reports whether the object exists. A missing object or bucket is a
// precise not-found, anything else a transport failure.
func (c *Client) Stat(ctx context.Context, loc pipeline.Locator) error {
	_, err := c.gcs.Bucket(loc.Bucket).Object(loc.File).Attrs(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gcs.ErrObjectNotExist), errors.Is(err, gcs.ErrBucketNotExist):
		return pipeline.E(pipeline.KindNotFound,
			fmt.Sprintf("image object %s does not exist", loc), err)
	default:
		return pipeline.E(pipeline.KindUpstreamUnavailable,
			"failed to check image object", err)
	}
}

// Fetch downloads the object into memory.
func (c *Client) Fetch(ctx context.Context, loc pipeline.Locator) (*pipeline.ImagePayload, error) {
	obj := c.gcs.Bucket(loc.Bucket).Object(loc.File)

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, pipeline.E(pipeline.KindNotFound,
				fmt.Sprintf("image object %s does not exist", loc), err)
		}
		return nil, pipeline.E(pipeline.KindUpstreamUnavailable,
			"failed to check image object", err)
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, pipeline.E(pipeline.KindUpstreamUnavailable,
			"failed to open image object", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, pipeline.E(pipeline.KindUpstreamUnavailable,
			"failed to download image object", err)
	}

	return &pipeline.ImagePayload{
		Data:        data,
		ContentType: attrs.ContentType,
		Encoding:    "raw",
	}, nil
}

// ObjectURL returns the public URL the detection service reads the object from.
func (c *Client) ObjectURL(loc pipeline.Locator) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s",
		url.PathEscape(loc.Bucket), url.PathEscape(loc.File))
}
