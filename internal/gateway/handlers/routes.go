package handlers

import (
	"github.com/gin-gonic/gin"

	"partnerhub/internal/gateway/middleware"
	"partnerhub/internal/utils"
)

// Router groups the HTTP handlers served by the gateway.
type Router struct {
	Attribution *AttributionHTTPHandler
	Affiliates  *AffiliateHTTPHandler
	Commissions *CommissionsHTTPHandler
	Stats       *StatsHTTPHandler
	Settings    *SettingsHTTPHandler
}

// Register mounts every route on r. publicLimit guards the unauthenticated attribution
// routes and may be nil.
func (rt Router) Register(r *gin.Engine, jwtSecret []byte, publicLimit gin.HandlerFunc) {
	limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if publicLimit == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{publicLimit, h}
	}

	// --- Public Attribution Routes ---
	r.GET("/r/:code", limited(rt.Attribution.ReferralVisit)...)
	r.GET("/go/:slug", limited(rt.Attribution.CustomLinkVisit)...)
	r.GET("/api/v1/attribution/cookie", limited(rt.Attribution.ReferralCookie)...)

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth(jwtSecret))
	{
		appointments := protected.Group("/appointments")
		{
			appointments.POST("", middleware.RequireRole(utils.RoleFunnel, utils.RoleCloser, utils.RoleAdmin), rt.Commissions.BookAppointment)
			appointments.PATCH("/:id/outcome", middleware.RequireRole(utils.RoleCloser, utils.RoleAdmin), rt.Commissions.UpdateOutcome)
		}

		protected.POST("/quiz-sessions/:id/lead", middleware.RequireRole(utils.RoleFunnel, utils.RoleAdmin), rt.Commissions.RecordLead)

		affiliate := protected.Group("/affiliates/:id")
		affiliate.Use(middleware.RequireAffiliateOrAdmin("id"))
		{
			affiliate.GET("", rt.Affiliates.GetAffiliate)
			affiliate.GET("/stats", rt.Stats.GetAffiliateStats)
			affiliate.GET("/payouts", rt.Commissions.GetPayoutSummary)
			affiliate.GET("/commissions", rt.Commissions.ListCommissions)
			affiliate.GET("/link/qr", rt.Affiliates.GetLinkQR)
		}
	}

	// --- Admin API Group ---
	admin := r.Group("/api/v1/admin")
	admin.Use(middleware.JWTAuth(jwtSecret), middleware.RequireRole(utils.RoleAdmin))
	{
		affiliates := admin.Group("/affiliates")
		{
			affiliates.POST("", rt.Affiliates.CreateAffiliate)
			affiliates.GET("", rt.Affiliates.ListAffiliates)
			affiliates.GET("/:id", rt.Affiliates.GetAffiliate)
			affiliates.PATCH("/:id/approve", rt.Affiliates.ApproveAffiliate)
			affiliates.PATCH("/:id/active", rt.Affiliates.SetActive)
			affiliates.PATCH("/:id/commission-rate", rt.Affiliates.SetCommissionRate)
			affiliates.PATCH("/:id/custom-link", rt.Affiliates.SetCustomLink)
			affiliates.GET("/:id/stats", rt.Stats.GetAffiliateStats)
			affiliates.GET("/:id/stats/export", rt.Stats.ExportAffiliateStats)
		}

		crm := admin.Group("/crm")
		{
			crm.GET("/overview", rt.Stats.GetOverview)
			crm.GET("/pipeline", rt.Stats.GetPipeline)
		}

		admin.GET("/settings", rt.Settings.GetSettings)
		admin.POST("/settings", rt.Settings.UpdateSettings)

		commissions := admin.Group("/commissions")
		{
			commissions.GET("/release", rt.Commissions.GetReleaseStatus)
			commissions.POST("/release", rt.Commissions.ProcessReleases)
		}

		admin.GET("/appointments/:id/commission", rt.Commissions.GetAppointmentCommission)
		admin.POST("/appointments/:id/commission", rt.Commissions.ComputeCommission)

		admin.POST("/maintenance/recount", rt.Stats.Recount)
	}
}
