package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"mailcast/internal/broadcast"
	"mailcast/internal/mailer"
)

type submitRequest struct {
	Subject     string   `json:"subject" binding:"required"`
	Body        string   `json:"body" binding:"required"`
	Recipients  []string `json:"recipients" binding:"required"`
	Concurrency int      `json:"concurrency"`
}

// asyncResponse and syncResponse are distinguishable by job_id presence
// alone: pollers get a handle, small jobs get the final summary.
type asyncResponse struct {
	JobID   string `json:"job_id"`
	Total   int    `json:"total"`
	Skipped int    `json:"skipped,omitempty"`
}

type syncResponse struct {
	Total     int `json:"total"`
	Done      int `json:"done"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}

	// Shallow address filter at the boundary; obviously bad entries are
	// skipped and reported, not fatal.
	valid := make([]string, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		if mailer.ValidAddress(r) {
			valid = append(valid, r)
		}
	}
	skipped := len(req.Recipients) - len(valid)

	res, err := s.svc.Submit(c.Request.Context(), broadcast.SubmitRequest{
		Subject:     req.Subject,
		Body:        req.Body,
		Recipients:  valid,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		switch {
		case errors.Is(err, broadcast.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, broadcast.ErrStopped):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	if res.Summary != nil {
		c.JSON(http.StatusOK, syncResponse{
			Total:     res.Summary.Total,
			Done:      res.Summary.Done,
			Succeeded: res.Summary.Succeeded,
			Failed:    res.Summary.Failed,
			Skipped:   skipped,
		})
		return
	}
	c.JSON(http.StatusAccepted, asyncResponse{JobID: res.JobID, Total: res.Total, Skipped: skipped})
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.svc.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, broadcast.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.svc.Registry().List()})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "broadcast history persistence is disabled"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	recs, err := s.store.RecentBroadcasts(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": recs})
}
