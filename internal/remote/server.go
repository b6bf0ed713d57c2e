package remote

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// recordGetter is implemented by services that can look up one record.
type recordGetter interface {
	Get(ctx context.Context, remoteID string) (Record, error)
}

// pushResponse is the body returned by POST /v1/records.
type pushResponse struct {
	ID string `json:"id"`
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// Handler exposes a Client over HTTP for HTTPClient to talk to.
//
// Routes:
//
//	GET    /healthz
//	GET    /v1/records?type=T&since=RFC3339   -> []Record
//	GET    /v1/records/:id                    -> Record (if supported)
//	POST   /v1/records                        -> {"id": "..."}
//	DELETE /v1/records/:id                    -> 204
type Handler struct {
	svc    Client
	logger *log.Logger
}

// NewHandler builds the HTTP handler for svc.
// If logger is nil, uses default stderr logger.
func NewHandler(svc Client, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	h := &Handler{svc: svc, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.GET("/records", h.pull)
	v1.GET("/records/:id", h.get)
	v1.POST("/records", h.push)
	v1.DELETE("/records/:id", h.delete)

	return r
}

func (h *Handler) pull(c *gin.Context) {
	recordType := c.Query("type")
	if recordType == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "type is required"})
		return
	}

	var since time.Time
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid since: " + err.Error()})
			return
		}
		since = t
	}

	records, err := h.svc.Pull(c.Request.Context(), recordType, since)
	if err != nil {
		h.fail(c, "pull", err)
		return
	}
	if records == nil {
		records = []Record{}
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) get(c *gin.Context) {
	getter, ok := h.svc.(recordGetter)
	if !ok {
		c.JSON(http.StatusNotImplemented, errorResponse{Error: "lookup not supported"})
		return
	}

	rec, err := getter.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) push(c *gin.Context) {
	var rec Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid record payload: " + err.Error()})
		return
	}

	id, err := h.svc.Push(c.Request.Context(), rec)
	if err != nil {
		h.fail(c, "push", err)
		return
	}
	c.JSON(http.StatusOK, pushResponse{ID: id})
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Printf("%s failed: %v", op, err)
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}

// statusFor maps service errors to HTTP status codes. HTTPClient maps
// them back.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
