package file

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/eriker75/onenglish-sub002/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRouter(t *testing.T, svc *Service, cfg HandlerConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if cfg.UploadTempDir == "" {
		cfg.UploadTempDir = t.TempDir()
	}
	r := gin.New()
	RegisterRoutes(r.Group("/v1"), svc, cfg)
	RegisterPublicRoutes(r, "/uploads", svc)
	return r
}

func multipartBody(t *testing.T, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func doUpload(t *testing.T, r http.Handler, method, path, filename, contentType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := multipartBody(t, filename, contentType, content)
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", formType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) Result {
	t.Helper()
	var res Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return res
}

func TestUploadHandlerCreatesFile(t *testing.T) {
	tmp := t.TempDir()
	svc, _, _ := newLocalStack(t)
	r := newTestRouter(t, svc, HandlerConfig{UploadTempDir: tmp})

	rr := doUpload(t, r, http.MethodPost, "/v1/files", "cat.png", "image/png", []byte("png bytes"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	res := decodeResult(t, rr)
	assert.Equal(t, CategoryImage, res.Category)
	assert.Equal(t, "/uploads/image/"+res.StoredName, res.URL)
	assert.NotEqual(t, uuid.Nil, res.ID)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "spooled upload must be removed")

	req := httptest.NewRequest(http.MethodGet, res.URL, nil)
	served := httptest.NewRecorder()
	r.ServeHTTP(served, req)
	require.Equal(t, http.StatusOK, served.Code)
	assert.Equal(t, "png bytes", served.Body.String())
	assert.Equal(t, "image/png", served.Header().Get("Content-Type"))
}

func TestUploadHandlerRejectsUnsupportedType(t *testing.T) {
	svc, _, _ := newLocalStack(t)
	r := newTestRouter(t, svc, HandlerConfig{})

	rr := doUpload(t, r, http.MethodPost, "/v1/files", "malware.exe", "application/octet-stream", []byte("MZ"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unsupported file type")
}

func TestUploadHandlerRejectsOversizedFile(t *testing.T) {
	svc, _, _ := newLocalStack(t)
	r := newTestRouter(t, svc, HandlerConfig{MaxUploadSize: 4})

	rr := doUpload(t, r, http.MethodPost, "/v1/files", "cat.png", "image/png", []byte("0123456789"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "file too large")
}

func TestUploadHandlerRequiresFileField(t *testing.T) {
	svc, _, _ := newLocalStack(t)
	r := newTestRouter(t, svc, HandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/files", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReplaceGetAndDeleteHandlers(t *testing.T) {
	svc, _, _ := newLocalStack(t)
	r := newTestRouter(t, svc, HandlerConfig{})

	created := decodeResult(t, doUpload(t, r, http.MethodPost, "/v1/files", "notes.pdf", "application/pdf", []byte("v1")))

	rr := doUpload(t, r, http.MethodPut, "/v1/files/"+created.ID.String(), "clip.mp4", "video/mp4", []byte("v2"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	replaced := decodeResult(t, rr)
	assert.Equal(t, created.ID, replaced.ID)
	assert.Equal(t, CategoryVideo, replaced.Category)
	assert.NotEqual(t, created.StoredName, replaced.StoredName)

	get := httptest.NewRecorder()
	r.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/v1/files/"+created.ID.String(), nil))
	require.Equal(t, http.StatusOK, get.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &body))
	assert.Equal(t, "clip.mp4", body["originalName"])
	assert.Equal(t, replaced.URL, body["url"])

	content := httptest.NewRecorder()
	r.ServeHTTP(content, httptest.NewRequest(http.MethodGet, "/v1/files/"+created.ID.String()+"/content", nil))
	require.Equal(t, http.StatusOK, content.Code)
	assert.Equal(t, "v2", content.Body.String())
	assert.Contains(t, content.Header().Get("Content-Disposition"), "attachment")

	stale := httptest.NewRecorder()
	r.ServeHTTP(stale, httptest.NewRequest(http.MethodGet, created.URL, nil))
	assert.Equal(t, http.StatusNotFound, stale.Code, "replaced object must not be served")

	del := httptest.NewRecorder()
	r.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/v1/files/"+created.ID.String(), nil))
	require.Equal(t, http.StatusOK, del.Code)
	assert.JSONEq(t, `{"message":"deleted"}`, del.Body.String())

	gone := httptest.NewRecorder()
	r.ServeHTTP(gone, httptest.NewRequest(http.MethodGet, "/v1/files/"+created.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestHandlersRejectInvalidFileID(t *testing.T) {
	svc, _, _ := newLocalStack(t)
	r := newTestRouter(t, svc, HandlerConfig{})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/files/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPresignHandlerWithoutSupport(t *testing.T) {
	svc, _, _ := newLocalStack(t)
	r := newTestRouter(t, svc, HandlerConfig{})

	created := decodeResult(t, doUpload(t, r, http.MethodPost, "/v1/files", "cat.png", "image/png", []byte("x")))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/files/"+created.ID.String()+"/presigned", nil))
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestInternalFailuresMapTo500(t *testing.T) {
	repo := newFakeRepo()
	backend := newFakeBackend()
	svc := newTestService(t, repo, backend)
	sequentialNames(svc, "A.png")
	backend.putErr["A.png"] = fmt.Errorf("disk full")
	r := newTestRouter(t, svc, HandlerConfig{})

	rr := doUpload(t, r, http.MethodPost, "/v1/files", "cat.png", "image/png", []byte("x"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "disk full", "internal detail stays in the logs")
}

func TestDownloadEncodesNonASCIIFilename(t *testing.T) {
	svc, _, _ := newLocalStack(t)
	r := newTestRouter(t, svc, HandlerConfig{})

	created := decodeResult(t, doUpload(t, r, http.MethodPost, "/v1/files", "résumé final.pdf", "application/pdf", []byte("pdf")))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/files/"+created.ID.String()+"/content", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	header := rr.Header().Get("Content-Disposition")
	assert.NotContains(t, header, `\u`)
	disposition, params, err := mime.ParseMediaType(header)
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, "résumé final.pdf", params["filename"])
}

func TestFailureLogCarriesAuthenticatedUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	defer zap.ReplaceGlobals(zap.New(core))()

	backend := newFakeBackend()
	svc := newTestService(t, newFakeRepo(), backend)
	sequentialNames(svc, "A.png")
	backend.putErr["A.png"] = errors.New("disk full")

	verifier, err := auth.NewVerifier("secret")
	require.NoError(t, err)
	r := gin.New()
	group := r.Group("/v1")
	group.Use(auth.Middleware(verifier))
	RegisterRoutes(group, svc, HandlerConfig{UploadTempDir: t.TempDir()})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "teacher-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	body, formType := multipartBody(t, "cat.png", "image/png", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/v1/files", body)
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	entries := logs.FilterMessage("file operation failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "teacher-7", entries[0].ContextMap()["user_id"])
}
