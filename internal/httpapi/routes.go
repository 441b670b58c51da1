package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fixaren/backoffice/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func (s *Server) registerRoutes(api *gin.RouterGroup) {
	api.GET("/stages", s.listStages)
	api.POST("/stages/ensure", s.ensureStages)

	api.GET("/deals", s.listDeals)
	api.POST("/deals", s.createDeal)
	api.GET("/deals/:id", s.getDeal)
	api.PATCH("/deals/:id", s.updateDeal)
	api.POST("/deals/:id/move", s.moveDeal)
	api.GET("/deals/:id/activity", s.dealActivity)

	api.GET("/activity", s.listActivity)
	api.GET("/activity/stream", s.streamActivity)
	api.POST("/activity/:id/undo", s.undoActivity)

	api.GET("/automation", s.getAutomation)
	api.PATCH("/automation", s.updateAutomation)
	api.POST("/automation/triggers", s.handleTrigger)

	api.GET("/stats", s.stats)
}

func (s *Server) listStages(c *gin.Context) {
	stages, err := s.svc.ListStages(c.Request.Context(), principal(c).TenantID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages})
}

func (s *Server) ensureStages(c *gin.Context) {
	stages, err := s.svc.EnsureDefaultStages(c.Request.Context(), principal(c).TenantID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages})
}

type createDealRequest struct {
	Title       string              `json:"title"`
	Stage       string              `json:"stage"`
	CustomerID  *string             `json:"customer_id"`
	Value       decimal.NullDecimal `json:"value"`
	Description string              `json:"description"`
	Priority    string              `json:"priority"`
	Assignee    string              `json:"assignee"`
}

func (s *Server) createDeal(c *gin.Context) {
	var req createDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	p := principal(c)
	deal, err := s.svc.CreateDeal(c.Request.Context(), p.TenantID, pipeline.CreateDealInput{
		Title:       req.Title,
		StageSlug:   req.Stage,
		CustomerID:  req.CustomerID,
		Value:       req.Value,
		Description: req.Description,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		ActorID:     p.UserID,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, deal)
}

func (s *Server) listDeals(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}
	deals, err := s.svc.ListDeals(c.Request.Context(), principal(c).TenantID, pipeline.DealFilter{
		StageSlug:  c.Query("stage"),
		CustomerID: c.Query("customer_id"),
		Assignee:   c.Query("assignee"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals})
}

func (s *Server) getDeal(c *gin.Context) {
	deal, err := s.svc.GetDeal(c.Request.Context(), principal(c).TenantID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

func (s *Server) updateDeal(c *gin.Context) {
	var patch pipeline.DealPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	deal, err := s.svc.UpdateDealDetails(c.Request.Context(), principal(c).TenantID, c.Param("id"), patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

type moveRequest struct {
	Stage           string `json:"stage"`
	ExpectedVersion int64  `json:"expected_version"`
}

func (s *Server) moveDeal(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	if req.Stage == "" {
		badRequest(c, "stage is required")
		return
	}
	p := principal(c)
	res, err := s.svc.MoveDeal(c.Request.Context(), p.TenantID, c.Param("id"), req.Stage, pipeline.MoveOpts{
		TriggeredBy:     pipeline.TriggeredByUser,
		ActorID:         p.UserID,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": res.Deal, "activity": res.Activity, "moved": res.Moved()})
}

func (s *Server) dealActivity(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	views, err := s.svc.ListActivityForDeal(c.Request.Context(), principal(c).TenantID, c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": views})
}

func (s *Server) listActivity(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	since, ok := timeQuery(c, "since")
	if !ok {
		return
	}
	views, err := s.svc.ListActivity(c.Request.Context(), principal(c).TenantID, pipeline.ActivityFilter{
		TriggeredBy: c.Query("triggered_by"),
		DealID:      c.Query("deal_id"),
		Since:       since,
		Limit:       limit,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": views})
}

func (s *Server) undoActivity(c *gin.Context) {
	p := principal(c)
	res, err := s.svc.UndoActivity(c.Request.Context(), p.TenantID, c.Param("id"), p.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getAutomation(c *gin.Context) {
	settings, err := s.svc.GetAutomationSettings(c.Request.Context(), principal(c).TenantID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) updateAutomation(c *gin.Context) {
	var patch pipeline.AutomationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	settings, err := s.svc.UpdateAutomationSettings(c.Request.Context(), principal(c).TenantID, patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handleTrigger(c *gin.Context) {
	var t pipeline.Trigger
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	res, err := s.svc.HandleTrigger(c.Request.Context(), principal(c).TenantID, t)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.svc.GetPipelineStats(c.Request.Context(), principal(c).TenantID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// intQuery parses an optional integer query parameter, answering 400 on
// malformed input.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// timeQuery parses an optional RFC 3339 timestamp query parameter.
func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		badRequest(c, name+" must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return t.UTC(), true
}
