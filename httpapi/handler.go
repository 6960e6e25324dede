// Package httpapi exposes Kit operations over HTTP with gin.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/thesyncim/mediakit"
)

// Handler serves the /v1 API. Requests block until their job finishes.
type Handler struct {
	kit *mediakit.Kit
	log hclog.Logger
}

// NewHandler creates a handler backed by kit.
func NewHandler(kit *mediakit.Kit, log hclog.Logger) *Handler {
	if log == nil {
		log = mediakit.Logger()
	}
	return &Handler{kit: kit, log: log.Named("http")}
}

type infoRequest struct {
	URI string `json:"uri" binding:"required"`
}

type imageToVideoRequest struct {
	Image           string  `json:"image" binding:"required"`
	DurationSeconds float64 `json:"durationSeconds" binding:"required"`
}

type mergeRequest struct {
	URIs []string `json:"uris" binding:"required,min=1"`
}

type splitRequest struct {
	URI      string             `json:"uri" binding:"required"`
	Segments []mediakit.Segment `json:"segments" binding:"required,min=1"`
}

type watermarkRequest struct {
	URI      string `json:"uri" binding:"required"`
	Text     string `json:"text" binding:"required"`
	Position string `json:"position"`
}

// statusFor maps a result to its HTTP status.
func statusFor(res *mediakit.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Error.Code {
	case mediakit.KindInvalidArgument.Code():
		return http.StatusBadRequest
	case mediakit.KindIO.Code(), mediakit.KindFormat.Code():
		return http.StatusUnprocessableEntity
	case mediakit.KindCapability.Code():
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// respond waits for f and writes its result.
func (h *Handler) respond(c *gin.Context, f *mediakit.Future) {
	res, err := f.Wait(c.Request.Context())
	if err != nil {
		// The client went away; the job keeps running.
		h.log.Debug("request abandoned", "path", c.FullPath(), "error", err)
		c.Status(499)
		return
	}
	c.JSON(statusFor(res), res)
}

func badRequest(c *gin.Context, op mediakit.Operation, err error) {
	c.JSON(http.StatusBadRequest, &mediakit.Result{
		Operation: op,
		MediaType: mediakit.MediaTypeVideo,
		Error: &mediakit.ResultError{
			Code:    mediakit.KindInvalidArgument.Code(),
			Message: err.Error(),
		},
	})
}

// HandleInfo describes one input.
func (h *Handler) HandleInfo(c *gin.Context) {
	var req infoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, mediakit.OpGetMediaInfo, err)
		return
	}
	h.respond(c, h.kit.GetMediaInfo(c.Request.Context(), req.URI))
}

// HandleImageToVideo renders a still image into a video.
func (h *Handler) HandleImageToVideo(c *gin.Context) {
	var req imageToVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, mediakit.OpConvertImageToVideo, err)
		return
	}
	h.respond(c, h.kit.ConvertImageToVideo(c.Request.Context(), req.Image, req.DurationSeconds))
}

// HandleMerge concatenates videos.
func (h *Handler) HandleMerge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, mediakit.OpMergeVideos, err)
		return
	}
	h.respond(c, h.kit.MergeVideos(c.Request.Context(), req.URIs))
}

// HandleSplit cuts a video into segments.
func (h *Handler) HandleSplit(c *gin.Context) {
	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, mediakit.OpSplitVideo, err)
		return
	}
	h.respond(c, h.kit.SplitVideo(c.Request.Context(), req.URI, req.Segments))
}

// HandleWatermark blends text onto a video.
func (h *Handler) HandleWatermark(c *gin.Context) {
	var req watermarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, mediakit.OpWatermarkVideo, err)
		return
	}
	h.respond(c, h.kit.WatermarkVideo(c.Request.Context(), req.URI, req.Text, req.Position))
}

// HandleProviders lists the platform providers.
func (h *Handler) HandleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": mediakit.Providers()})
}
