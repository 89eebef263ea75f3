package syncer

import (
	"context"
	"net/http"

	httperr "github.com/aevon-lab/klaviyo-sync/internal/core/errors"
	"github.com/gin-gonic/gin"
)

const (
	msgRunning = "App is running to load Klaviyo data every 24 hours!"
	msgLogged  = "Klaviyo Results Logged!"
)

// RegisterRoutes registers the trigger and status routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/", s.HandleIndex)
	r.GET("/append_klaviyo_data", s.HandleAppend)
	r.GET("/v1/sync/status", s.HandleStatus)
}

// HandleIndex handles GET /
func (s *Service) HandleIndex(c *gin.Context) {
	c.String(http.StatusOK, msgRunning)
}

// HandleAppend handles GET /append_klaviyo_data. The run is detached from the
// request's cancellation so a dropped client cannot abort a reconcile midway.
func (s *Service) HandleAppend(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())

	if _, err := s.Trigger(ctx); err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.String(http.StatusOK, msgLogged)
}

// HandleStatus handles GET /v1/sync/status
func (s *Service) HandleStatus(c *gin.Context) {
	report := s.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNoRunYet,
			Message:   "No sync run has finished yet",
		})
		return
	}

	if report.Err != nil {
		c.JSON(http.StatusOK, gin.H{
			"report": report,
			"error": httperr.ErrorResponse{
				ErrorType: httperr.HttpSyncFailed,
				Message:   report.Err.Error(),
				Details:   gin.H{"kind": report.Err.Kind},
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report, "rows": len(report.Rows)})
}
