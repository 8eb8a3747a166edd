package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"partnerhub/internal/database/models"
	affiliatehandler "partnerhub/internal/services/affiliates/handler"
)

const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

type AffiliateHTTPHandler struct {
	affiliates    *affiliatehandler.AffiliateHandler
	publicBaseURL string
}

func NewAffiliateHTTPHandler(affiliates *affiliatehandler.AffiliateHandler, publicBaseURL string) *AffiliateHTTPHandler {
	return &AffiliateHTTPHandler{
		affiliates:    affiliates,
		publicBaseURL: publicBaseURL,
	}
}

// --- Request Structs for Binding ---

type CreateAffiliateRequest struct {
	Name           string           `json:"name" binding:"required"`
	Email          string           `json:"email"`
	ReferralCode   string           `json:"referral_code"`
	CommissionRate *decimal.Decimal `json:"commission_rate"`
}

type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type SetCommissionRateRequest struct {
	CommissionRate *decimal.Decimal `json:"commission_rate" binding:"required"`
}

type SetCustomLinkRequest struct {
	Slug string `json:"slug"`
}

type ListAffiliatesQuery struct {
	OnlyAvailable bool `form:"only_available"`
}

type AffiliateResponse struct {
	models.Affiliate
	ShareLink string `json:"share_link"`
}

func (h *AffiliateHTTPHandler) toResponse(a models.Affiliate) AffiliateResponse {
	return AffiliateResponse{Affiliate: a, ShareLink: affiliatehandler.EffectiveLink(a, h.publicBaseURL)}
}

// --- Admin Handlers ---

func (h *AffiliateHTTPHandler) CreateAffiliate(c *gin.Context) {
	var req CreateAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	resp, err := h.affiliates.CreateAffiliate(ctx, affiliatehandler.CreateAffiliateRequest{
		Name:           req.Name,
		Email:          req.Email,
		ReferralCode:   req.ReferralCode,
		CommissionRate: req.CommissionRate,
	})
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse("Affiliate created successfully", h.toResponse(*resp)))
}

func (h *AffiliateHTTPHandler) ListAffiliates(c *gin.Context) {
	var query ListAffiliatesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	affiliates, err := h.affiliates.ListAffiliates(ctx, affiliatehandler.ListAffiliatesFilter{OnlyAvailable: query.OnlyAvailable})
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	resp := make([]AffiliateResponse, 0, len(affiliates))
	for _, a := range affiliates {
		resp = append(resp, h.toResponse(a))
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Affiliates retrieved successfully", resp, gin.H{"total": len(resp)}))
}

func (h *AffiliateHTTPHandler) GetAffiliate(c *gin.Context) {
	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	resp, err := h.affiliates.GetAffiliate(ctx, c.Param("id"))
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Affiliate retrieved successfully", h.toResponse(*resp)))
}

func (h *AffiliateHTTPHandler) ApproveAffiliate(c *gin.Context) {
	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	resp, err := h.affiliates.ApproveAffiliate(ctx, c.Param("id"))
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Affiliate approved successfully", h.toResponse(*resp)))
}

func (h *AffiliateHTTPHandler) SetActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	resp, err := h.affiliates.SetActive(ctx, c.Param("id"), *req.Active)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Affiliate status updated successfully", h.toResponse(*resp)))
}

func (h *AffiliateHTTPHandler) SetCommissionRate(c *gin.Context) {
	var req SetCommissionRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	resp, err := h.affiliates.SetCommissionRate(ctx, c.Param("id"), *req.CommissionRate)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Commission rate updated successfully", h.toResponse(*resp)))
}

func (h *AffiliateHTTPHandler) SetCustomLink(c *gin.Context) {
	var req SetCustomLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	resp, err := h.affiliates.SetCustomTrackingLink(ctx, c.Param("id"), req.Slug)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Custom tracking link updated successfully", h.toResponse(*resp)))
}

// --- Affiliate Self-Service Handlers ---

// GetLinkQR renders the affiliate's share link as a PNG QR code.
func (h *AffiliateHTTPHandler) GetLinkQR(c *gin.Context) {
	size := defaultQRSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minQRSize || n > maxQRSize {
			c.JSON(http.StatusBadRequest, errorResponse("size must be between 128 and 1024"))
			return
		}
		size = n
	}

	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	affiliate, err := h.affiliates.GetAffiliate(ctx, c.Param("id"))
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	png, err := qrcode.Encode(affiliatehandler.EffectiveLink(*affiliate, h.publicBaseURL), qrcode.Medium, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("Failed to render QR code: "+err.Error()))
		return
	}

	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", png)
}
