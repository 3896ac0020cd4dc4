package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		client := New(nil)
		t.Cleanup(client.Close)

		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
	})

	t.Run("custom config", func(t *testing.T) {
		client := testClient(t, &Config{
			DefaultTimeout: 5 * time.Second,
			UserAgent:      "TestAgent/1.0",
		})

		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "TestAgent/1.0", client.userAgent)
	})

	t.Run("zero values use defaults", func(t *testing.T) {
		cfg := Config{}
		client := testClient(t, &cfg)

		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
		assert.Equal(t, Config{}, cfg, "caller config must not be modified")
	})
}

func TestDo_BasicRequest(t *testing.T) {
	var receivedUA string
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	client := testClient(t, nil)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(t.Context(), req)
	require.NoError(t, err)
	defer drain(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", string(body))
	assert.Equal(t, "Kinga", receivedUA)
}

func TestDo_KeepsExplicitUserAgent(t *testing.T) {
	var receivedUA string
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
	})

	client := testClient(t, nil)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Custom/2.0")

	resp, err := client.Do(t.Context(), req)
	require.NoError(t, err)
	defer drain(t, resp)

	assert.Equal(t, "Custom/2.0", receivedUA)
}

func TestDo_NilRequest(t *testing.T) {
	client := testClient(t, nil)
	_, err := client.Do(t.Context(), nil)
	require.Error(t, err)
}

func TestDo_ContextCancellation(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})

	client := testClient(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	cancel()

	resp, err := client.Do(ctx, req)
	defer drain(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_DefaultTimeout(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	client := testClient(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(t.Context(), req)
	defer drain(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_ContextDeadlineOverridesDefault(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	client := testClient(t, &Config{DefaultTimeout: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(ctx, req)
	require.NoError(t, err)
	defer drain(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_BodyReadableAfterReturn(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	})

	// No context deadline: the default timeout context must stay alive
	// until the body is closed.
	client := testClient(t, &Config{DefaultTimeout: time.Second})
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(t.Context(), req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "payload", string(body))
}

func TestDo_ConcurrentRequests(t *testing.T) {
	var requestCount atomic.Int32
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	client := testClient(t, nil)

	const concurrency = 30
	var wg sync.WaitGroup
	for range concurrency {
		wg.Go(func() {
			req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
			if !assert.NoError(t, err) {
				return
			}
			resp, err := client.Do(t.Context(), req)
			if !assert.NoError(t, err) {
				return
			}
			defer drain(t, resp)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
	wg.Wait()

	assert.Equal(t, int32(concurrency), requestCount.Load())
}

func TestDo_Hooks(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	client := testClient(t, nil)

	var beforeCalled bool
	var afterStatus int
	client.SetBeforeRequestHook(func(r *http.Request) {
		beforeCalled = true
		assert.Equal(t, server.URL, r.URL.String())
	})
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		assert.NoError(t, err)
		afterStatus = resp.StatusCode
	})

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(t.Context(), req)
	require.NoError(t, err)
	defer drain(t, resp)

	assert.True(t, beforeCalled)
	assert.Equal(t, http.StatusAccepted, afterStatus)
}

func TestPostJSON(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "https://api.example.test/send",
		func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "secret", r.Header.Get("api-key"))
			assert.Equal(t, "Kinga", r.Header.Get("User-Agent"))

			var got map[string]string
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				return nil, err
			}
			assert.Equal(t, map[string]string{"to": "farmer@example.com"}, got)
			return httpmock.NewStringResponse(http.StatusCreated, `{"messageId":"1"}`), nil
		})

	client := testClient(t, &Config{Transport: transport})

	header := http.Header{}
	header.Set("api-key", "secret")
	resp, err := client.PostJSON(t.Context(), "https://api.example.test/send", header,
		map[string]string{"to": "farmer@example.com"})
	require.NoError(t, err)
	defer drain(t, resp)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestPostJSON_MarshalError(t *testing.T) {
	client := testClient(t, nil)
	_, err := client.PostJSON(t.Context(), "http://localhost", nil, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal body")
}

func TestClose(t *testing.T) {
	client := New(nil)
	client.Close()
	client.Close()
}
