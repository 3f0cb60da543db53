package cluster

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds every request made through the default client.
const DefaultTimeout = 5 * time.Second

var defaultClient = NewClient(DefaultTimeout)

// Client exchanges JSON documents with other instances.
type Client struct {
	resty *resty.Client
}

// NewClient returns a client whose requests time out after timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		resty: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// WithTransport replaces the HTTP transport, mostly for tests.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	c.resty.SetTransport(rt)
	return c
}

// PostJSON sends body as JSON and decodes the response into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, url string, body any, out any) error {
	req := c.resty.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if out != nil {
		req.SetResult(out).ForceContentType("application/json")
	}
	resp, err := req.Post(url)
	if err != nil {
		return errors.Wrapf(err, "post %s", url)
	}
	if resp.StatusCode() >= 300 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode()}
	}
	return nil
}

// GetJSON issues a GET with the given query parameters and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, query map[string]string, out any) error {
	resp, err := c.resty.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(out).
		ForceContentType("application/json").
		Get(url)
	if err != nil {
		return errors.Wrapf(err, "get %s", url)
	}
	if resp.StatusCode() >= 300 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode()}
	}
	return nil
}

// PostJSON posts through the default client.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return defaultClient.PostJSON(ctx, url, body, out)
}

// GetJSON gets through the default client.
func GetJSON(ctx context.Context, url string, out any) error {
	return defaultClient.GetJSON(ctx, url, nil, out)
}
