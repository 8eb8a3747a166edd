package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	attributionhandler "partnerhub/internal/services/attribution/handler"
	"partnerhub/internal/utils"
)

type AttributionHTTPHandler struct {
	attribution  *attributionhandler.AttributionHandler
	cookieSecret []byte
	secureCookie bool
	logger       *slog.Logger
	now          func() time.Time
}

func NewAttributionHTTPHandler(attribution *attributionhandler.AttributionHandler, cookieSecret []byte, secureCookie bool, logger *slog.Logger) *AttributionHTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttributionHTTPHandler{
		attribution:  attribution,
		cookieSecret: cookieSecret,
		secureCookie: secureCookie,
		logger:       logger,
		now:          time.Now,
	}
}

type VisitResponse struct {
	AffiliateID  string `json:"affiliate_id"`
	ReferralCode string `json:"referral_code"`
	ClickCounted bool   `json:"click_counted"`
	ClickID      string `json:"click_id,omitempty"`
}

type CookieResponse struct {
	Attributed   bool   `json:"attributed"`
	AffiliateID  string `json:"affiliate_id,omitempty"`
	ReferralCode string `json:"referral_code,omitempty"`
}

func (h *AttributionHTTPHandler) ReferralVisit(c *gin.Context) {
	h.visit(c, attributionhandler.KindReferral, c.Param("code"))
}

func (h *AttributionHTTPHandler) CustomLinkVisit(c *gin.Context) {
	h.visit(c, attributionhandler.KindCustom, c.Param("slug"))
}

func (h *AttributionHTTPHandler) visit(c *gin.Context, kind attributionhandler.Kind, segment string) {
	ctx, cancel := requestContext(c, 5*time.Second)
	defer cancel()

	res, err := h.attribution.Visit(ctx, kind, segment, c.Request.URL.Query(), attributionhandler.Fingerprint{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		handleGRPCError(c, err)
		return
	}
	if !res.Attributable {
		c.JSON(http.StatusNotFound, errorResponse("Referral link "+res.Reason))
		return
	}

	// The referral cookie is set even when the click itself could not be recorded.
	value, err := utils.SignReferralCookie(h.cookieSecret, res.ReferralCode, res.AffiliateID, h.now())
	if err != nil {
		h.logger.ErrorContext(ctx, "sign referral cookie", "affiliate_id", res.AffiliateID, "error", err)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(utils.ReferralCookieName, value, int(utils.ReferralCookieTTL.Seconds()), "/", "", h.secureCookie, true)
	}

	resp := VisitResponse{AffiliateID: res.AffiliateID, ReferralCode: res.ReferralCode}
	if res.Click != nil {
		resp.ClickCounted = res.Click.Counted
		resp.ClickID = res.Click.ClickID
	}
	c.JSON(http.StatusOK, successResponse("Referral recorded", resp))
}

// ReferralCookie decodes the tracking cookie for the quiz funnel. A missing or tampered
// cookie is reported as unattributed.
func (h *AttributionHTTPHandler) ReferralCookie(c *gin.Context) {
	raw, err := c.Cookie(utils.ReferralCookieName)
	if err != nil || raw == "" {
		c.JSON(http.StatusOK, successResponse("No referral cookie", CookieResponse{}))
		return
	}
	claims, err := utils.ParseReferralCookie(h.cookieSecret, raw)
	if err != nil {
		h.logger.DebugContext(c.Request.Context(), "referral cookie rejected", "error", err)
		c.JSON(http.StatusOK, successResponse("No referral cookie", CookieResponse{}))
		return
	}
	c.JSON(http.StatusOK, successResponse("Referral cookie decoded", CookieResponse{
		Attributed:   true,
		AffiliateID:  claims.AffiliateID,
		ReferralCode: claims.ReferralCode,
	}))
}
