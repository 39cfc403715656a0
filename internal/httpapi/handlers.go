package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"segtag/internal/asset"
	"segtag/internal/blob"
	"segtag/internal/export"
	"segtag/internal/geometry"
	"segtag/internal/labelset"
	"segtag/internal/progress"
	"segtag/internal/session"
	"segtag/internal/traverse"
)

// maxDocumentBytes bounds uploaded documents and tag files.
const maxDocumentBytes = 256 << 20

func (s *Server) handleCategories(c *gin.Context) {
	table := s.sess.Categories()
	c.JSON(http.StatusOK, gin.H{"version": table.Version(), "categories": table.Entries()})
}

func (s *Server) handleImages(c *gin.Context) {
	ds := s.sess.Dataset()
	if ds == nil {
		s.fail(c, http.StatusConflict, "NO_DOCUMENT", session.ErrNoDataset)
		return
	}
	c.JSON(http.StatusOK, progress.Summarize(ds))
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.sess.View())
}

// SelectionRequest changes any of image, split and policy.
type SelectionRequest struct {
	Image  *string `json:"image"`
	Split  *int    `json:"split"`
	Policy *string `json:"policy"`
}

func (s *Server) handleSelection(c *gin.Context) {
	var req SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	ctx := c.Request.Context()
	if req.Policy != nil {
		p, ok := traverse.ParsePolicy(*req.Policy)
		if !ok {
			s.fail(c, http.StatusBadRequest, "INVALID_POLICY", fmt.Errorf("unknown policy %q", *req.Policy))
			return
		}
		s.sess.SetPolicy(ctx, p)
	}
	if req.Image != nil || req.Split != nil {
		cur := s.sess.Selection()
		image, split := cur.ImageKey, cur.SplitIndex
		if req.Image != nil {
			image = *req.Image
		}
		if req.Split != nil {
			split = *req.Split
		}
		if _, err := s.sess.Select(ctx, image, split); err != nil {
			switch {
			case errors.Is(err, session.ErrNoDataset):
				s.fail(c, http.StatusConflict, "NO_DOCUMENT", err)
			case errors.Is(err, session.ErrImageNotFound):
				s.fail(c, http.StatusNotFound, "IMAGE_NOT_FOUND", err)
			default:
				s.fail(c, http.StatusBadRequest, "INVALID_SELECTION", err)
			}
			return
		}
	}
	c.JSON(http.StatusOK, s.sess.View())
}

func (s *Server) handleNext(c *gin.Context) {
	moved := s.sess.Next(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"moved": moved, "state": s.sess.View()})
}

func (s *Server) handlePrev(c *gin.Context) {
	moved := s.sess.Prev(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"moved": moved, "state": s.sess.View()})
}

// LabelRequest names a category by canonical or display string.
type LabelRequest struct {
	Category string `json:"category" binding:"required"`
}

// LabelResponse reports the outcome. Rejected labels are not HTTP errors.
type LabelResponse struct {
	session.LabelResult
	Error string       `json:"error,omitempty"`
	State session.View `json:"state"`
}

func (s *Server) handleLabel(c *gin.Context) {
	var req LabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	ctx, done := s.instr.Track(c.Request.Context(), "label")
	res, err := s.sess.Label(ctx, req.Category)
	done(err)
	switch {
	case errors.Is(err, session.ErrNoDataset):
		s.fail(c, http.StatusConflict, "NO_DOCUMENT", err)
		return
	case err != nil:
		c.JSON(http.StatusOK, LabelResponse{LabelResult: res, Error: err.Error(), State: s.sess.View()})
		return
	}
	c.JSON(http.StatusOK, LabelResponse{LabelResult: res, State: s.sess.View()})
}

// DisplayRequest carries the natural and rendered size of the main image.
type DisplayRequest struct {
	Natural  geometry.Size `json:"natural"`
	Rendered geometry.Size `json:"rendered"`
}

func (s *Server) handleDisplay(c *gin.Context) {
	var req DisplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	scale, err := s.sess.SetDisplay(req.Natural, req.Rendered)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_DISPLAY", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scale": scale, "state": s.sess.View()})
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDocumentBytes))
}

func (s *Server) handleDocument(c *gin.Context) {
	data, err := readBody(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	ctx, done := s.instr.Track(c.Request.Context(), "load_document")
	var sel session.Selection
	if c.Query("mode") == "reload" {
		sel, err = s.sess.ReloadDocument(ctx, data)
	} else {
		sel, err = s.sess.LoadDocument(ctx, data)
	}
	done(err)
	var le *labelset.LoadError
	if errors.As(err, &le) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: le.Error(), Code: "LOAD_FAILED", Reason: le.Reason})
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "LOAD_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selection": sel, "images": s.sess.Dataset().Len()})
}

func (s *Server) handleTags(c *gin.Context) {
	data, err := readBody(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	ctx, done := s.instr.Track(c.Request.Context(), "merge_tags")
	report, err := s.sess.MergeTags(ctx, data)
	done(err)
	switch {
	case errors.Is(err, session.ErrNoDataset):
		s.fail(c, http.StatusConflict, "NO_DOCUMENT", err)
	case err != nil:
		s.fail(c, http.StatusBadRequest, "INVALID_TAGS", err)
	default:
		c.JSON(http.StatusOK, gin.H{"report": report, "notice": session.NoticeTagsLoaded})
	}
}

func (s *Server) handleExport(c *gin.Context) {
	_, done := s.instr.Track(c.Request.Context(), "export")
	data, err := s.sess.Export()
	done(err)
	if err != nil {
		s.fail(c, http.StatusConflict, "NO_DOCUMENT", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.DocumentFile+`"`)
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleExportTags(c *gin.Context) {
	data, err := s.sess.ExportTags()
	switch {
	case errors.Is(err, session.ErrNoTags):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: session.NoticeNoTags, Code: "NO_TAGS"})
		return
	case err != nil:
		s.fail(c, http.StatusConflict, "NO_DOCUMENT", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.TagsFile+`"`)
	c.Data(http.StatusOK, "application/json", data)
}

// ExportRequest schedules an artifact export.
type ExportRequest struct {
	Kinds       []export.Kind `json:"kinds"`
	RequestedBy string        `json:"requested_by"`
	Reason      string        `json:"reason"`
}

func (s *Server) handleEnqueueExport(c *gin.Context) {
	if s.exports == nil {
		s.fail(c, http.StatusServiceUnavailable, "EXPORTS_DISABLED", errors.New("export worker not configured"))
		return
	}
	var req ExportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
			return
		}
	}
	ds := s.sess.Dataset()
	if ds == nil {
		s.fail(c, http.StatusConflict, "NO_DOCUMENT", session.ErrNoDataset)
		return
	}
	if s.limit != nil && !s.limit.Allow() {
		c.Header("Retry-After", "60")
		s.fail(c, http.StatusTooManyRequests, "RATE_LIMITED", errors.New("too many export requests"))
		return
	}
	record, err := s.exports.Enqueue(c.Request.Context(), export.Input{
		Dataset:     ds,
		Kinds:       req.Kinds,
		RequestedBy: req.RequestedBy,
		Reason:      req.Reason,
	})
	switch {
	case errors.Is(err, export.ErrQueueFull):
		s.fail(c, http.StatusServiceUnavailable, "QUEUE_FULL", err)
	case err != nil:
		s.fail(c, http.StatusBadRequest, "INVALID_EXPORT", err)
	default:
		c.JSON(http.StatusAccepted, record)
	}
}

func (s *Server) handleGetExport(c *gin.Context) {
	if s.exports == nil {
		s.fail(c, http.StatusServiceUnavailable, "EXPORTS_DISABLED", errors.New("export worker not configured"))
		return
	}
	record, ok := s.exports.Get(c.Param("id"))
	if !ok {
		s.fail(c, http.StatusNotFound, "EXPORT_NOT_FOUND", fmt.Errorf("export %s not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleAsset(kind session.AssetKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, info, err := s.sess.ReadAsset(c.Request.Context(), kind)
		var nf *asset.NotFoundError
		switch {
		case errors.As(err, &nf):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "ASSET_NOT_FOUND", ExpectedPath: nf.ExpectedPath})
			return
		case errors.Is(err, asset.ErrNoRoot):
			s.fail(c, http.StatusConflict, "NO_ROOT", err)
			return
		case errors.Is(err, session.ErrNoDataset), errors.Is(err, session.ErrNoMask):
			s.fail(c, http.StatusConflict, "NO_SELECTION", err)
			return
		case errors.Is(err, session.ErrSelectionChanged):
			s.fail(c, http.StatusConflict, "SELECTION_CHANGED", err)
			return
		case err != nil:
			s.fail(c, http.StatusBadGateway, "ASSET_ERROR", err)
			return
		}
		contentType := info.ContentType
		if contentType == "" {
			contentType = "image/jpeg"
		}
		c.Data(http.StatusOK, contentType, data)
	}
}

// RootRequest grants a directory root. An empty fs root clears it.
type RootRequest struct {
	Driver   blob.Driver `json:"driver"`
	Root     string      `json:"root"`
	Bucket   string      `json:"bucket"`
	Prefix   string      `json:"prefix"`
	Region   string      `json:"region"`
	Endpoint string      `json:"endpoint"`
}

func (r RootRequest) config() blob.Config {
	return blob.Config{
		Driver: r.Driver,
		Root:   r.Root,
		S3: blob.S3Config{
			Bucket:    r.Bucket,
			Prefix:    r.Prefix,
			Region:    r.Region,
			Endpoint:  r.Endpoint,
			PathStyle: r.Endpoint != "",
		},
	}
}

func (s *Server) handleSetRoot(c *gin.Context) {
	var req RootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	cfg := req.config()
	if !cfg.Configured() {
		s.sess.ClearRoot()
		c.JSON(http.StatusOK, gin.H{"root_selected": false})
		return
	}
	store, err := s.openRoot(c.Request.Context(), cfg)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "ROOT_UNAVAILABLE", err)
		return
	}
	name := cfg.Root
	if cfg.Driver == blob.DriverS3 {
		name = "s3://" + cfg.S3.Bucket + "/" + cfg.S3.Prefix
	}
	s.sess.SetRoot(store, name)
	c.JSON(http.StatusOK, gin.H{"root_selected": true, "root": name})
}

func (s *Server) handleClearRoot(c *gin.Context) {
	s.sess.ClearRoot()
	c.Status(http.StatusNoContent)
}
