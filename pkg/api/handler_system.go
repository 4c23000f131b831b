package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type pauseRequest struct {
	By     string `json:"by"`
	Reason string `json:"reason"`
}

// systemStatus handles GET /api/system/status.
func (s *Server) systemStatus(c *gin.Context) {
	state := s.gate.State()
	c.JSON(http.StatusOK, gin.H{
		"paused": state.Paused,
		"state":  state,
	})
}

// systemPause handles POST /api/system/pause. Assignment paths stop at the
// next scheduler tick.
func (s *Server) systemPause(c *gin.Context) {
	var req pauseRequest
	// Body is optional.
	_ = c.ShouldBindJSON(&req)
	if req.By == "" {
		req.By = c.ClientIP()
	}
	if err := s.gate.Pause(req.By, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "paused": true})
}

// systemResume handles POST /api/system/resume.
func (s *Server) systemResume(c *gin.Context) {
	var req pauseRequest
	_ = c.ShouldBindJSON(&req)
	if req.By == "" {
		req.By = c.ClientIP()
	}
	if err := s.gate.Resume(req.By); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "paused": false})
}
