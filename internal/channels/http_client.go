package channels

import "net/http"

// HTTPClient is an interface for making HTTP requests
// This allows us to mock HTTP calls in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient wraps the standard http.Client
type DefaultHTTPClient struct {
	client *http.Client
}

// NewDefaultHTTPClient wraps c, or http.DefaultClient when c is nil.
func NewDefaultHTTPClient(c *http.Client) *DefaultHTTPClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &DefaultHTTPClient{client: c}
}

func (d *DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return d.client.Do(req)
}
