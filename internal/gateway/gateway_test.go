package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/timonen87/ocr-microservices/internal/broker"
	"github.com/timonen87/ocr-microservices/internal/ocr"
)

const testSecret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

type fakeCaller struct {
	corrID  string
	payload []byte
	resp    []byte
	err     error
}

func (f *fakeCaller) Do(ctx context.Context, corrID string, payload []byte, timeout time.Duration) ([]byte, error) {
	f.corrID = corrID
	f.payload = payload
	return f.resp, f.err
}

type fakeStatuses struct {
	set  map[string]string
	jobs map[string]map[string]string
}

func (f *fakeStatuses) SetStatus(ctx context.Context, id, status string) error {
	if f.set == nil {
		f.set = make(map[string]string)
	}
	f.set[id] = status
	return nil
}

func (f *fakeStatuses) GetJob(ctx context.Context, id string) (map[string]string, error) {
	return f.jobs[id], nil
}

func signedToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &UserClaims{
		ID: 7, Name: "alice", Email: "a@b.com",
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func uploadRequest(t *testing.T, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "scan.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/ocr", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newTestServer(caller Caller, statuses StatusStore, userServiceURL string) *Server {
	return New(caller, statuses, userServiceURL, testSecret, time.Second, nil)
}

func TestOCRReturnsWorkerResponseVerbatim(t *testing.T) {
	caller := &fakeCaller{resp: []byte(`{"user_id":7,"user_name":"alice","user_email":"a@b.com","ocr_text":""}`)}
	statuses := &fakeStatuses{}
	srv := newTestServer(caller, statuses, "")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, signedToken(t, testSecret)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, string(caller.resp), rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// The request envelope carries the claims plus the base64 file.
	var req ocr.Request
	require.NoError(t, json.Unmarshal(caller.payload, &req))
	require.Equal(t, int64(7), req.UserID)
	require.Equal(t, "alice", req.UserName)
	require.Equal(t, "a@b.com", req.UserEmail)
	decoded, err := base64.StdEncoding.DecodeString(req.File)
	require.NoError(t, err)
	require.Equal(t, []byte{0x89, 'P', 'N', 'G'}, decoded)

	// Status store saw the call get queued under the correlation id.
	require.Equal(t, "queued", statuses.set[caller.corrID])
	require.Equal(t, rec.Header().Get("X-Request-ID"), caller.corrID)
}

func TestOCRTimeoutMapsTo504(t *testing.T) {
	srv := newTestServer(&fakeCaller{err: broker.ErrTimeout}, nil, "")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, signedToken(t, testSecret)))
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestOCRTransportErrorMapsTo503(t *testing.T) {
	caller := &fakeCaller{err: &broker.TransportError{Op: "publish", Err: errors.New("down")}}
	srv := newTestServer(caller, nil, "")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, signedToken(t, testSecret)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOCRRejectsMissingToken(t *testing.T) {
	srv := newTestServer(&fakeCaller{}, nil, "")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOCRRejectsForeignSignature(t *testing.T) {
	srv := newTestServer(&fakeCaller{}, nil, "")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, signedToken(t, "wrong-secret")))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOCRRejectsMissingFile(t *testing.T) {
	srv := newTestServer(&fakeCaller{}, nil, "")
	req := httptest.NewRequest(http.MethodPost, "/ocr", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, testSecret))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyRelaysStatusAndBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/token", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"bad credentials"}`))
	}))
	defer upstream.Close()

	srv := newTestServer(&fakeCaller{}, nil, upstream.URL)
	req := httptest.NewRequest(http.MethodPost, "/login",
		bytes.NewBufferString(`{"username":"u","password":"p"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"detail":"bad credentials"}`, rec.Body.String())
}

func TestProxyUnreachableUserService(t *testing.T) {
	srv := newTestServer(&fakeCaller{}, nil, "http://127.0.0.1:1")
	req := httptest.NewRequest(http.MethodPost, "/register",
		bytes.NewBufferString(`{"name":"n","email":"e","password":"p"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobStatusEndpoint(t *testing.T) {
	statuses := &fakeStatuses{jobs: map[string]map[string]string{
		"known": {"status": "succeeded", "updated_at": "1700000000"},
	}}
	srv := newTestServer(&fakeCaller{}, statuses, "")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/known", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "succeeded")

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobStatusDisabledWithoutStore(t *testing.T) {
	srv := newTestServer(&fakeCaller{}, nil, "")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/any", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeCaller{}, nil, "")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
