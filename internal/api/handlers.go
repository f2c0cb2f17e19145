package api

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/codec"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/dicomweb"
	"github.com/Joeycho/xnat-dicomweb-proxy/internal/models"
)

const userKey = "dicomweb.user"

// APIHandler holds dependencies for API handlers.
type APIHandler struct {
	service *dicomweb.Service
}

// NewAPIHandler creates a new handler instance.
func NewAPIHandler(service *dicomweb.Service) *APIHandler {
	return &APIHandler{service: service}
}

// HealthCheckHandler handles health check requests.
func (h *APIHandler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IdentifyUser stores the caller taken from HTTP Basic credentials, or the
// guest user when there are none.
func IdentifyUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := models.Guest
		if name, password, ok := c.Request.BasicAuth(); ok && name != "" {
			user = models.User{Name: name, Password: password}
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) models.User {
	if v, ok := c.Get(userKey); ok {
		if user, ok := v.(models.User); ok {
			return user
		}
	}
	return models.Guest
}

// SearchStudiesHandler handles QIDO-RS study searches.
func (h *APIHandler) SearchStudiesHandler(c *gin.Context) {
	sets, err := h.service.SearchStudies(c.Request.Context(), currentUser(c), c.Param("projectId"))
	h.writeSearch(c, sets, err)
}

// SearchSeriesHandler handles QIDO-RS series searches.
func (h *APIHandler) SearchSeriesHandler(c *gin.Context) {
	sets, err := h.service.SearchSeries(c.Request.Context(), currentUser(c), c.Param("projectId"), c.Param("study"))
	h.writeSearch(c, sets, err)
}

// SearchInstancesHandler handles QIDO-RS instance searches.
func (h *APIHandler) SearchInstancesHandler(c *gin.Context) {
	sets, err := h.service.SearchInstances(c.Request.Context(), currentUser(c),
		c.Param("projectId"), c.Param("study"), c.Param("series"))
	h.writeSearch(c, sets, err)
}

func (h *APIHandler) writeSearch(c *gin.Context, sets []*codec.AttributeSet, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	sets, err = paginate(c, sets)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	writeDicomJSON(c, sets)
}

// paginate applies the QIDO-RS limit and offset query parameters.
func paginate(c *gin.Context, sets []*codec.AttributeSet) ([]*codec.AttributeSet, error) {
	offset, err := queryInt(c, "offset")
	if err != nil {
		return nil, err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return nil, err
	}
	if offset >= len(sets) {
		return []*codec.AttributeSet{}, nil
	}
	sets = sets[offset:]
	if limit > 0 && limit < len(sets) {
		sets = sets[:limit]
	}
	return sets, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key + " parameter")
	}
	return n, nil
}

// RetrieveStudyHandler streams every instance of a study.
func (h *APIHandler) RetrieveStudyHandler(c *gin.Context) {
	bundle, err := h.service.RetrieveStudy(c.Request.Context(), currentUser(c), c.Param("projectId"), c.Param("study"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.writeBundle(c, bundle)
}

// RetrieveSeriesHandler streams every instance of a series.
func (h *APIHandler) RetrieveSeriesHandler(c *gin.Context) {
	bundle, err := h.service.RetrieveSeries(c.Request.Context(), currentUser(c),
		c.Param("projectId"), c.Param("study"), c.Param("series"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.writeBundle(c, bundle)
}

func (h *APIHandler) writeBundle(c *gin.Context, bundle *dicomweb.Bundle) {
	ctx := c.Request.Context()
	c.Header("Content-Type", bundle.ContentType())
	c.Status(http.StatusOK)
	if err := bundle.Write(ctx, c.Writer); err != nil {
		// status and headers are already written
		slog.ErrorContext(ctx, "Failed to stream multipart response", "path", c.Request.URL.Path, "error", err)
	}
}

// RetrieveInstanceHandler returns one instance as application/dicom.
func (h *APIHandler) RetrieveInstanceHandler(c *gin.Context) {
	ctx := c.Request.Context()
	inst, err := h.service.RetrieveInstance(ctx, currentUser(c),
		c.Param("projectId"), c.Param("study"), c.Param("series"), c.Param("instance"))
	if err != nil {
		h.fail(c, err)
		return
	}
	f, err := inst.Open(h.service.Fs())
	if errors.Is(err, fs.ErrNotExist) {
		err = dicomweb.ErrNotFound
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()
	c.DataFromReader(http.StatusOK, inst.Size, codec.ContentTypeDICOM, f, nil)
}

// StudyMetadataHandler returns the instance metadata of a study.
func (h *APIHandler) StudyMetadataHandler(c *gin.Context) {
	sets, err := h.service.RetrieveStudyMetadata(c.Request.Context(), currentUser(c), c.Param("projectId"), c.Param("study"))
	h.writeMetadata(c, sets, err)
}

// SeriesMetadataHandler returns the instance metadata of a series.
func (h *APIHandler) SeriesMetadataHandler(c *gin.Context) {
	sets, err := h.service.RetrieveSeriesMetadata(c.Request.Context(), currentUser(c),
		c.Param("projectId"), c.Param("study"), c.Param("series"))
	h.writeMetadata(c, sets, err)
}

// InstanceMetadataHandler returns the metadata of one instance.
func (h *APIHandler) InstanceMetadataHandler(c *gin.Context) {
	sets, err := h.service.RetrieveMetadata(c.Request.Context(), currentUser(c),
		c.Param("projectId"), c.Param("study"), c.Param("series"), c.Param("instance"))
	h.writeMetadata(c, sets, err)
}

func (h *APIHandler) writeMetadata(c *gin.Context, sets []*codec.AttributeSet, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	writeDicomJSON(c, sets)
}

// RenderedHandler renders the first frame of an instance.
func (h *APIHandler) RenderedHandler(c *gin.Context) {
	h.rendered(c, nil)
}

// RenderedFramesHandler renders the frames listed in the path.
func (h *APIHandler) RenderedFramesHandler(c *gin.Context) {
	h.rendered(c, dicomweb.ParseFrameNumbers(c.Param("frames")))
}

func (h *APIHandler) rendered(c *gin.Context, frames []int) {
	format := codec.NegotiateFormat(c.GetHeader("Accept"))
	out, err := h.service.RetrieveRendered(c.Request.Context(), currentUser(c),
		c.Param("projectId"), c.Param("study"), c.Param("series"), c.Param("instance"), frames, format)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(out) == 1 {
		c.Data(http.StatusOK, out[0].ContentType, out[0].Data)
		return
	}

	boundary := dicomweb.NewBoundary()
	var body bytes.Buffer
	if err := dicomweb.WriteRenderedFrames(&body, boundary, out); err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, dicomweb.MultipartContentType(string(format), boundary), body.Bytes())
}

func writeDicomJSON(c *gin.Context, sets []*codec.AttributeSet) {
	data, err := codec.MarshalArray(sets)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "Failed to encode DICOM JSON", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode response"})
		return
	}
	c.Data(http.StatusOK, codec.ContentTypeDicomJSON, data)
}

// fail maps engine errors to HTTP statuses.
func (h *APIHandler) fail(c *gin.Context, err error) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, dicomweb.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, dicomweb.ErrRenderFailed):
		c.JSON(http.StatusNotFound, gin.H{"error": "frame could not be rendered"})
	default:
		slog.ErrorContext(ctx, "DICOMweb request failed",
			"path", c.Request.URL.Path,
			"projectID", c.Param("projectId"),
			"studyUID", c.Param("study"),
			"seriesUID", c.Param("series"),
			"sopInstanceUID", c.Param("instance"),
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
