package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testClient returns a client closed at the end of the test. A nil cfg uses defaults.
func testClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	c := New(cfg)
	t.Cleanup(c.Close)
	return c
}

func testServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// drain reads and closes resp so the connection can be reused.
func drain(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		t.Logf("close response body: %v", err)
	}
}
