package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	statshandler "partnerhub/internal/services/stats/handler"
	"partnerhub/internal/timewindow"
)

type StatsHTTPHandler struct {
	stats *statshandler.StatsHandler
}

func NewStatsHTTPHandler(stats *statshandler.StatsHandler) *StatsHTTPHandler {
	return &StatsHTTPHandler{
		stats: stats,
	}
}

type RecountRequest struct {
	AffiliateID string `json:"affiliate_id"`
}

func parseRange(c *gin.Context) (timewindow.RangeKey, bool) {
	key, err := timewindow.ParseRange(c.Query("dateRange"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return "", false
	}
	return key, true
}

func (h *StatsHTTPHandler) GetAffiliateStats(c *gin.Context) {
	key, ok := parseRange(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	resp, err := h.stats.Report(ctx, c.Param("id"), key)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Stats retrieved successfully", resp))
}

func (h *StatsHTTPHandler) ExportAffiliateStats(c *gin.Context) {
	key, ok := parseRange(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	report, err := h.stats.Report(ctx, c.Param("id"), key)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	buf, err := reportWorkbook(report)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("Failed to build export: "+err.Error()))
		return
	}

	filename := fmt.Sprintf("affiliate_%s_%s_%s.xlsx", report.ReferralCode, report.Range, report.GeneratedAt.Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *StatsHTTPHandler) GetOverview(c *gin.Context) {
	key, ok := parseRange(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, 60*time.Second)
	defer cancel()

	resp, err := h.stats.Overview(ctx, key)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successWithMetaResponse("Overview retrieved successfully", resp, gin.H{"affiliates": len(resp.Affiliates)}))
}

func (h *StatsHTTPHandler) GetPipeline(c *gin.Context) {
	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	resp, err := h.stats.Pipeline(ctx, c.Query("affiliate_id"))
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Pipeline retrieved successfully", resp))
}

func (h *StatsHTTPHandler) Recount(c *gin.Context) {
	var req RecountRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
			return
		}
	}

	ctx, cancel := requestContext(c, 120*time.Second)
	defer cancel()

	resp, err := h.stats.Recount(ctx, req.AffiliateID)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	drifted := 0
	for _, r := range resp {
		if r.Drifted {
			drifted++
		}
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Counters recounted", resp, gin.H{"checked": len(resp), "drifted": drifted}))
}
