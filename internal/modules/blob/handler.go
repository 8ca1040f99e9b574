package blob

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/delimatsuo/dressup-core/internal/modules/session"
	"github.com/delimatsuo/dressup-core/internal/pkg/response"
)

type Handler struct {
	svc      *Service
	sessions *session.Service
}

func NewHandler(svc *Service, sessions *session.Service) *Handler {
	return &Handler{svc: svc, sessions: sessions}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, rateLimitMW gin.HandlerFunc) {
	rg.POST("/session/:id/photos", rateLimitMW, h.upload)
	rg.GET("/files/secure", h.validateSecureURL)
}

func (h *Handler) upload(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	// Uploads are gated on a live session even though blob expiry itself is
	// session-independent.
	if _, err := h.sessions.Get(ctx, sessionID); err != nil {
		response.Error(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "file is unreadable")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		response.BadRequest(c, "file is unreadable")
		return
	}

	rec, err := h.svc.Upload(ctx, UploadInput{
		SessionID:    sessionID,
		Category:     c.PostForm("category"),
		Type:         c.PostForm("type"),
		OriginalName: fileHeader.Filename,
		MimeType:     fileHeader.Header.Get("Content-Type"),
		Data:         data,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	sess, err := h.sessions.AttachPhoto(ctx, sessionID, rec.Metadata.Category, session.PhotoRef{
		URL:        rec.URL,
		Type:       rec.Metadata.Type,
		UploadedAt: rec.Metadata.UploadedAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{
		"blob":      rec,
		"expiresAt": sess.ExpiresAt,
	})
}

func (h *Handler) validateSecureURL(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		response.BadRequest(c, "url query parameter is required")
		return
	}
	valid, err := h.svc.ValidateSecureURL(rawURL)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"valid": valid})
}
