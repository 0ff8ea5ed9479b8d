package handlers

import (
	"errors"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/thereayou/concord/internal/config"
	"github.com/thereayou/concord/internal/database"
	"github.com/thereayou/concord/internal/files"
	"github.com/thereayou/concord/internal/models"
	"github.com/thereayou/concord/internal/services"
)

// multipartOverhead is slack for form boundaries and headers on top of the
// file size limit.
const multipartOverhead = 64 * 1024

// HTTPHandler serves the plain HTTP surface: health, invites and files.
type HTTPHandler struct {
	cfg   *config.Config
	store services.Store
	meta  services.FileStore
	blobs *files.Store
}

func NewHTTPHandler(cfg *config.Config, store services.Store, meta services.FileStore, blobs *files.Store) *HTTPHandler {
	return &HTTPHandler{cfg: cfg, store: store, meta: meta, blobs: blobs}
}

func (h *HTTPHandler) Health(c *gin.Context) {
	realm, err := h.store.GetRealm()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "realm": realm.Name})
}

func (h *HTTPHandler) GetInvite(c *gin.Context) {
	id := c.Param("id")
	key, err := h.store.GetInviteKey(id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invite not found"})
		return
	}
	if err != nil {
		log.Printf("[http] get invite: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load invite"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "key": key})
}

// UploadFile stores the multipart "file" field as an unlinked attachment.
// A later channel:message links it by id.
func (h *HTTPHandler) UploadFile(c *gin.Context) {
	limit := h.cfg.MaxFileSize
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if limit > 0 && fh.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	if h.cfg.MaxStorageBytes > 0 {
		used, err := h.meta.TotalStorageBytes()
		if err != nil {
			log.Printf("[http] storage usage: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check storage"})
			return
		}
		if used+fh.Size > h.cfg.MaxStorageBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "storage limit reached"})
			return
		}
	}

	src, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer src.Close()

	name, size, mimeType, err := h.blobs.Save(src, limit)
	if errors.Is(err, files.ErrTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	if err != nil {
		log.Printf("[http] save upload: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	att := &models.Attachment{
		ID:          uuid.NewString(),
		Filename:    filepath.Base(fh.Filename),
		MimeType:    mimeType,
		Size:        size,
		StoragePath: name,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := h.meta.CreateAttachment(att); err != nil {
		log.Printf("[http] create attachment: %v", err)
		if rmErr := h.blobs.Remove(name); rmErr != nil {
			log.Printf("[http] remove %s: %v", name, rmErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       att.ID,
		"filename": att.Filename,
		"mimeType": att.MimeType,
		"size":     att.Size,
	})
}

func (h *HTTPHandler) DownloadFile(c *gin.Context) {
	att, err := h.meta.GetAttachment(c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if err != nil {
		log.Printf("[http] get attachment: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load file"})
		return
	}

	f, err := h.blobs.Open(att.StoragePath)
	if err != nil {
		log.Printf("[http] open blob %s: %v", att.StoragePath, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	defer f.Close()

	c.DataFromReader(http.StatusOK, att.Size, att.MimeType, f, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}),
	})
}
