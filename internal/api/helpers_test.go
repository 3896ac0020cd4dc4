package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kinga-app/kinga/internal/account"
	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/prediction"
	"github.com/kinga-app/kinga/internal/testutil"
	"github.com/kinga-app/kinga/internal/uploads"
)

type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) Register(ctx context.Context, name, email, password string) (*entities.User, error) {
	args := m.Called(ctx, name, email, password)
	u, _ := args.Get(0).(*entities.User)
	return u, args.Error(1)
}

func (m *mockAccounts) Verify(ctx context.Context, email, code string) error {
	return m.Called(ctx, email, code).Error(0)
}

func (m *mockAccounts) Authenticate(ctx context.Context, email, password string) (*account.Session, error) {
	args := m.Called(ctx, email, password)
	s, _ := args.Get(0).(*account.Session)
	return s, args.Error(1)
}

func (m *mockAccounts) RequestReset(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockAccounts) CompleteReset(ctx context.Context, email, code, newPassword string) error {
	return m.Called(ctx, email, code, newPassword).Error(0)
}

func (m *mockAccounts) ParseToken(token string) (*account.Claims, error) {
	args := m.Called(token)
	c, _ := args.Get(0).(*account.Claims)
	return c, args.Error(1)
}

type predictCall struct {
	name string
	data []byte
}

type fakePredictions struct {
	outcome    *prediction.Outcome
	err        error
	history    []prediction.HistoryEntry
	historyErr error

	mu    sync.Mutex
	calls []predictCall
}

func (f *fakePredictions) Predict(_ context.Context, imageName string, data []byte) (*prediction.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, predictCall{imageName, data})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func (f *fakePredictions) History(context.Context) ([]prediction.HistoryEntry, error) {
	return f.history, f.historyErr
}

type testEnv struct {
	server      *Server
	accounts    *mockAccounts
	predictions *fakePredictions
	store       *uploads.Store
}

func newTestEnv(t *testing.T, configure func(*Config), opts ...ServerOption) *testEnv {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = false
	cfg.MetricsPath = ""
	if configure != nil {
		configure(cfg)
	}

	store, err := uploads.New(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		accounts:    &mockAccounts{},
		predictions: &fakePredictions{},
		store:       store,
	}
	base := []ServerOption{
		WithAccounts(env.accounts),
		WithPredictions(env.predictions),
		WithUploads(store),
		WithAccessLogger(testutil.DiscardLogger()),
	}
	env.server, err = New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return env
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.server.Echo().ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return env.do(req)
}

func (env *testEnv) postRaw(path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, contentType)
	return env.do(req)
}

func (env *testEnv) get(path string) *httptest.ResponseRecorder {
	return env.do(httptest.NewRequest(http.MethodGet, path, http.NoBody))
}

// multipartRequest builds a POST with one file part; an empty field sends a form without files.
func multipartRequest(t *testing.T, path, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, w.WriteField("note", "no file here"))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}
