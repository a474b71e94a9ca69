package file

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/eriker75/onenglish-sub002/internal/auth"
	"github.com/eriker75/onenglish-sub002/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// multipartOverhead is the allowance for form boundaries and headers on top
// of the maximum file size.
const multipartOverhead = 1 << 20

// UploadSpoolPrefix names request bodies spooled into UploadTempDir.
const UploadSpoolPrefix = "upload-"

// HandlerConfig tunes the HTTP layer around the service.
type HandlerConfig struct {
	UploadTempDir string
	MaxUploadSize int64
	PresignTTL    time.Duration
}

// RegisterRoutes mounts file operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service, cfg HandlerConfig) {
	handler := newHandler(service, cfg)
	group.POST("/files", handler.uploadFile)
	group.GET("/files/:fileID", handler.getFile)
	group.GET("/files/:fileID/content", handler.downloadFile)
	group.GET("/files/:fileID/presigned", handler.presignFile)
	group.PUT("/files/:fileID", handler.replaceFile)
	group.DELETE("/files/:fileID", handler.deleteFile)
}

// RegisterPublicRoutes serves stored objects by their public address. Used
// with the local backend, whose URLs point back at this server.
func RegisterPublicRoutes(router gin.IRouter, basePath string, service *Service) {
	handler := newHandler(service, HandlerConfig{})
	group := router.Group(basePath)
	group.GET("/:category/:storedName", handler.servePublic)
	group.HEAD("/:category/:storedName", handler.servePublic)
}

type httpHandler struct {
	service *Service
	cfg     HandlerConfig
}

func newHandler(service *Service, cfg HandlerConfig) *httpHandler {
	if cfg.UploadTempDir == "" {
		cfg.UploadTempDir = os.TempDir()
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaultMaxFileSize
	}
	return &httpHandler{service: service, cfg: cfg}
}

type recordResponse struct {
	Record
	URL string `json:"url"`
}

func (h *httpHandler) uploadFile(c *gin.Context) {
	up, cleanup, ok := h.receiveUpload(c)
	if !ok {
		return
	}
	defer cleanup()

	stored, err := h.service.Save(c.Request.Context(), up)
	if err != nil {
		h.writeError(c, "save", err)
		return
	}
	h.warnOrphans(c, "save", stored)

	c.JSON(http.StatusCreated, h.service.ResultFor(stored.Record))
}

func (h *httpHandler) replaceFile(c *gin.Context) {
	fileID, ok := parseFileID(c)
	if !ok {
		return
	}

	up, cleanup, ok := h.receiveUpload(c)
	if !ok {
		return
	}
	defer cleanup()

	stored, err := h.service.Update(c.Request.Context(), fileID, up)
	if err != nil {
		h.writeError(c, "update", err)
		return
	}
	h.warnOrphans(c, "update", stored)

	c.JSON(http.StatusOK, h.service.ResultFor(stored.Record))
}

func (h *httpHandler) getFile(c *gin.Context) {
	fileID, ok := parseFileID(c)
	if !ok {
		return
	}

	rec, err := h.service.Get(c.Request.Context(), fileID)
	if err != nil {
		h.writeError(c, "get", err)
		return
	}

	c.JSON(http.StatusOK, recordResponse{Record: rec, URL: h.service.URL(rec)})
}

func (h *httpHandler) downloadFile(c *gin.Context) {
	fileID, ok := parseFileID(c)
	if !ok {
		return
	}

	rec, reader, err := h.service.Open(c.Request.Context(), fileID)
	if err != nil {
		h.writeError(c, "download", err)
		return
	}
	defer reader.Close()

	writeObject(c, rec, reader, "attachment")
}

func (h *httpHandler) servePublic(c *gin.Context) {
	category := Category(c.Param("category"))
	if !category.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	rec, reader, err := h.service.OpenByStoredName(c.Request.Context(), category, c.Param("storedName"))
	if err != nil {
		h.writeError(c, "serve", err)
		return
	}
	defer reader.Close()

	c.Header("Cache-Control", "public, max-age=86400, immutable")
	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", rec.MimeType)
		c.Header("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
		c.Status(http.StatusOK)
		return
	}
	writeObject(c, rec, reader, "inline")
}

func (h *httpHandler) presignFile(c *gin.Context) {
	fileID, ok := parseFileID(c)
	if !ok {
		return
	}

	ttl := h.cfg.PresignTTL
	if raw := c.Query("ttl"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ttl"})
			return
		}
		ttl = parsed
	}

	url, err := h.service.PresignedURL(c.Request.Context(), fileID, ttl)
	if err != nil {
		h.writeError(c, "presign", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":     url,
		"expires": time.Now().Add(ttl).UTC(),
	})
}

func (h *httpHandler) deleteFile(c *gin.Context) {
	fileID, ok := parseFileID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), fileID); err != nil {
		h.writeError(c, "delete", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// receiveUpload spools the "file" part to disk. The returned cleanup always
// removes the spooled copy.
func (h *httpHandler) receiveUpload(c *gin.Context) (Upload, func(), bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadSize+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
			return Upload{}, nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return Upload{}, nil, false
	}
	if fileHeader.Size > h.cfg.MaxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return Upload{}, nil, false
	}

	if err := os.MkdirAll(h.cfg.UploadTempDir, 0o750); err != nil {
		requestLogger(c).Error("create upload temp dir", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to receive file"})
		return Upload{}, nil, false
	}

	path := filepath.Join(h.cfg.UploadTempDir, UploadSpoolPrefix+uuid.NewString())
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			requestLogger(c).Warn("remove spooled upload", zap.String("path", path), zap.Error(err))
		}
	}
	if err := c.SaveUploadedFile(fileHeader, path); err != nil {
		cleanup()
		requestLogger(c).Error("spool upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to receive file"})
		return Upload{}, nil, false
	}

	return Upload{
		Path:         path,
		OriginalName: fileHeader.Filename,
		Size:         fileHeader.Size,
		MimeType:     detectContentType(fileHeader),
	}, cleanup, true
}

func (h *httpHandler) writeError(c *gin.Context, op string, err error) {
	log := requestLogger(c).With(zap.String("op", op))

	switch {
	case errors.Is(err, ErrFileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
	case errors.Is(err, ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
	case errors.Is(err, ErrFileTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
	case errors.Is(err, ErrPresignUnsupported):
		c.JSON(http.StatusNotImplemented, gin.H{"error": "presigned urls are not available"})
	default:
		fields := []zap.Field{zap.Error(err)}
		if opErr, ok := AsOperationError(err); ok {
			fields = append(fields,
				zap.String("rollback", string(opErr.Rollback)),
				zap.Bool("requires_intervention", opErr.RequiresIntervention()),
				zap.Bool("orphan_risk", opErr.OrphanRisk()),
			)
		}
		log.Error("file operation failed", fields...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to %s file", op)})
	}
}

func (h *httpHandler) warnOrphans(c *gin.Context, op string, stored Stored) {
	if len(stored.Orphans) == 0 {
		return
	}
	refs := make([]string, len(stored.Orphans))
	for i, o := range stored.Orphans {
		refs[i] = o.String()
	}
	requestLogger(c).Warn("operation succeeded with orphan risk",
		zap.String("op", op), zap.Stringer("file_id", stored.Record.ID), zap.Strings("orphans", refs))
}

func writeObject(c *gin.Context, rec Record, reader io.Reader, disposition string) {
	contentType := rec.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": rec.OriginalName}))
	c.Header("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, reader); err != nil {
		requestLogger(c).Warn("stream object", zap.Stringer("file_id", rec.ID), zap.Error(err))
	}
}

// requestLogger tags the request logger with the caller when auth is on.
func requestLogger(c *gin.Context) *zap.Logger {
	log := logger.FromContext(c)
	if user, ok := auth.CurrentUser(c); ok {
		log = log.With(zap.String("user_id", user.ID))
	}
	return log
}

func parseFileID(c *gin.Context) (uuid.UUID, bool) {
	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return uuid.Nil, false
	}
	return fileID, true
}

func detectContentType(fileHeader *multipart.FileHeader) string {
	if fileHeader == nil {
		return "application/octet-stream"
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
