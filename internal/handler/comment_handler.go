package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/service"
)

type CommentHandler struct {
	commentService *service.CommentService
}

func NewCommentHandler(commentService *service.CommentService) *CommentHandler {
	return &CommentHandler{
		commentService: commentService,
	}
}

type PostCommentRequest struct {
	VideoID string `json:"videoId"`
	UserID  string `json:"userId"`
	Comment string `json:"comment"`
}

func (h *CommentHandler) Post(c *gin.Context) {
	var req PostCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	comment, err := h.commentService.Post(c.Request.Context(), req.VideoID, req.UserID, req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "Comment posted successfully",
		"commentId": comment.ID,
	})
}

func (h *CommentHandler) List(c *gin.Context) {
	comments, err := h.commentService.List(c.Request.Context(), c.Param("videoId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}

	c.JSON(http.StatusOK, comments)
}
