package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"

	commissionhandler "partnerhub/internal/services/commissions/handler"
)

// CommissionLedgerClient reaches the commission service for releases and recomputes, so
// the gateway and the scheduler share one release path.
type CommissionLedgerClient interface {
	ReleaseReady(ctx context.Context, opts ...grpc.CallOption) (*commissionhandler.ReleaseStatus, error)
	ProcessReleases(ctx context.Context, opts ...grpc.CallOption) (*commissionhandler.ReleaseResult, error)
	ComputeCommission(ctx context.Context, appointmentID string, opts ...grpc.CallOption) (*commissionhandler.ComputeResult, error)
}

type CommissionsHTTPHandler struct {
	commissions *commissionhandler.CommissionHandler
	ledger      CommissionLedgerClient
}

func NewCommissionsHTTPHandler(commissions *commissionhandler.CommissionHandler, ledger CommissionLedgerClient) *CommissionsHTTPHandler {
	return &CommissionsHTTPHandler{
		commissions: commissions,
		ledger:      ledger,
	}
}

// --- Request Structs for Binding ---

type BookAppointmentRequest struct {
	ID            string    `json:"id"`
	AffiliateCode *string   `json:"affiliate_code"`
	CustomerEmail string    `json:"customer_email" binding:"required"`
	ScheduledAt   time.Time `json:"scheduled_at"`
}

type UpdateOutcomeRequest struct {
	Outcome   string           `json:"outcome" binding:"required"`
	SaleValue *decimal.Decimal `json:"sale_value"`
}

// --- Funnel and Closer Handlers ---

func (h *CommissionsHTTPHandler) BookAppointment(c *gin.Context) {
	var req BookAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	resp, err := h.commissions.RecordBooking(ctx, commissionhandler.BookingRequest{
		ID:            req.ID,
		AffiliateCode: req.AffiliateCode,
		CustomerEmail: req.CustomerEmail,
		ScheduledAt:   req.ScheduledAt,
	})
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	if resp.Duplicate {
		c.JSON(http.StatusOK, successResponse("Appointment already recorded", resp))
		return
	}
	c.JSON(http.StatusCreated, successResponse("Appointment booked successfully", resp))
}

func (h *CommissionsHTTPHandler) UpdateOutcome(c *gin.Context) {
	var req UpdateOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	resp, err := h.commissions.UpdateOutcome(ctx, c.Param("id"), commissionhandler.OutcomeUpdate{
		Outcome:   req.Outcome,
		SaleValue: req.SaleValue,
	})
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	if resp.CommissionError != "" {
		// The outcome is saved; the failed commission is surfaced for admins to retry.
		c.JSON(http.StatusAccepted, APIResponse{
			Success: false,
			Message: "Outcome updated but commission was not computed: " + resp.CommissionError,
			Data:    resp,
		})
		return
	}
	c.JSON(http.StatusOK, successResponse("Outcome updated successfully", resp))
}

func (h *CommissionsHTTPHandler) RecordLead(c *gin.Context) {
	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	resp, err := h.commissions.RecordLead(ctx, c.Param("id"))
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Lead "+resp.Reason, resp))
}

// --- Affiliate Self-Service Handlers ---

func (h *CommissionsHTTPHandler) GetPayoutSummary(c *gin.Context) {
	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	resp, err := h.commissions.PayoutSummary(ctx, c.Param("id"))
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Payout summary retrieved successfully", resp))
}

func (h *CommissionsHTTPHandler) ListCommissions(c *gin.Context) {
	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	resp, err := h.commissions.ListCommissions(ctx, c.Param("id"))
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successWithMetaResponse("Commissions retrieved successfully", resp, gin.H{"total": len(resp)}))
}

// --- Admin Release Handlers ---

func (h *CommissionsHTTPHandler) GetReleaseStatus(c *gin.Context) {
	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	resp, err := h.ledger.ReleaseReady(ctx)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Release status retrieved successfully", resp))
}

func (h *CommissionsHTTPHandler) ProcessReleases(c *gin.Context) {
	ctx, cancel := requestContext(c, 60*time.Second)
	defer cancel()

	resp, err := h.ledger.ProcessReleases(ctx)
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Commission release processed", resp))
}

func (h *CommissionsHTTPHandler) GetAppointmentCommission(c *gin.Context) {
	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	resp, err := h.commissions.CommissionForAppointment(ctx, c.Param("id"))
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Commission retrieved successfully", resp))
}

// ComputeCommission retries the commission of a closed appointment. Crediting twice is
// impossible, so the call is safe to repeat.
func (h *CommissionsHTTPHandler) ComputeCommission(c *gin.Context) {
	ctx, cancel := requestContext(c, 15*time.Second)
	defer cancel()

	resp, err := h.ledger.ComputeCommission(ctx, c.Param("id"))
	if err != nil {
		handleGRPCError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Commission "+resp.Reason, resp))
}
