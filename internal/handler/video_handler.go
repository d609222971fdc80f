package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vidshare/backend/internal/apperror"
	"github.com/vidshare/backend/internal/middleware"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/service"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

type VideoHandler struct {
	videoService *service.VideoService
}

func NewVideoHandler(videoService *service.VideoService) *VideoHandler {
	return &VideoHandler{
		videoService: videoService,
	}
}

// HashtagList accepts either a JSON array of strings or one comma separated string.
type HashtagList []string

func (h *HashtagList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*h = list
		return nil
	}

	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return errors.New("hashtags must be a string array or a comma separated string")
	}
	*h = splitHashtags(joined)
	return nil
}

// UploadRequest is the JSON body of POST /api/upload. VideoBase64 carries the
// binary; VideoBlobName references an object that is already stored.
type UploadRequest struct {
	CreatorID         string      `json:"creatorId"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Hashtags          HashtagList `json:"hashtags"`
	VideoBase64       string      `json:"videoBase64"`
	VideoBlobName     string      `json:"videoBlobName"`
	ThumbnailBlobName string      `json:"thumbnailBlobName"`
}

type VideoResponse struct {
	ID           string    `json:"id"`
	CreatorID    string    `json:"creatorId,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Hashtags     []string  `json:"hashtags"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

func newVideoResponse(v *models.Video) VideoResponse {
	return VideoResponse{
		ID:           v.ID,
		CreatorID:    v.UploaderID,
		Title:        v.Title,
		Description:  v.Description,
		Hashtags:     v.Tags(),
		URL:          v.URL,
		ThumbnailURL: v.ThumbnailURL,
		UploadedAt:   v.UploadedAt,
	}
}

func (h *VideoHandler) Upload(c *gin.Context) {
	var (
		input service.UploadInput
		err   error
	)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		input, err = h.bindMultipart(c)
	} else {
		input, err = h.bindJSON(c)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if closer, ok := input.Content.(io.Closer); ok {
		defer closer.Close()
	}

	// A verified token identifies the uploader better than the body does
	if claims, ok := middleware.ClaimsFromContext(c); ok {
		input.UploaderID = claims.UserID
	}

	video, err := h.videoService.Upload(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Video uploaded successfully",
		"videoId": video.ID,
		"url":     video.URL,
	})
}

func (h *VideoHandler) bindJSON(c *gin.Context) (service.UploadInput, error) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Log.Warn("Upload request parsing failed",
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		return service.UploadInput{}, bindError(err)
	}

	input := service.UploadInput{
		UploaderID:        strings.TrimSpace(req.CreatorID),
		Title:             req.Title,
		Description:       req.Description,
		Hashtags:          req.Hashtags,
		VideoBlobName:     req.VideoBlobName,
		ThumbnailBlobName: req.ThumbnailBlobName,
	}

	if req.VideoBase64 != "" {
		encoded, contentType := stripDataURL(req.VideoBase64)
		input.Content = base64.NewDecoder(base64.StdEncoding, strings.NewReader(encoded))
		input.ContentType = contentType
	}

	return input, nil
}

func (h *VideoHandler) bindMultipart(c *gin.Context) (service.UploadInput, error) {
	// Parse once up front so a size or framing error is not swallowed by PostForm
	if _, err := c.MultipartForm(); err != nil {
		logger.Log.Warn("Upload form parsing failed",
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		return service.UploadInput{}, bindError(err)
	}

	input := service.UploadInput{
		UploaderID:        strings.TrimSpace(c.PostForm("creatorId")),
		Title:             c.PostForm("title"),
		Description:       c.PostForm("description"),
		VideoBlobName:     c.PostForm("videoBlobName"),
		ThumbnailBlobName: c.PostForm("thumbnailBlobName"),
	}
	for _, raw := range c.PostFormArray("hashtags") {
		input.Hashtags = append(input.Hashtags, splitHashtags(raw)...)
	}

	fileHeader, err := c.FormFile("video")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return input, nil
		}
		return service.UploadInput{}, bindError(err)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return service.UploadInput{}, apperror.Validation("could not read video file")
	}
	input.Content = file
	input.ContentType = fileHeader.Header.Get("Content-Type")

	return input, nil
}

func (h *VideoHandler) List(c *gin.Context) {
	videos, err := h.videoService.List(c.Request.Context(), c.Query("search"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]VideoResponse, 0, len(videos))
	for i := range videos {
		response = append(response, newVideoResponse(&videos[i]))
	}

	c.JSON(http.StatusOK, response)
}

// stripDataURL removes a "data:<type>;base64," prefix and returns the media type.
func stripDataURL(s string) (string, string) {
	if !strings.HasPrefix(s, "data:") {
		return s, ""
	}
	header, payload, found := strings.Cut(s, ",")
	if !found {
		return s, ""
	}
	contentType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	return payload, contentType
}

func splitHashtags(joined string) []string {
	var tags []string
	for _, tag := range strings.Split(joined, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
