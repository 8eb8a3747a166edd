package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"partnerhub/internal/events"
	"partnerhub/internal/observability"
	affiliatehandler "partnerhub/internal/services/affiliates/handler"
	attributionhandler "partnerhub/internal/services/attribution/handler"
	commissionhandler "partnerhub/internal/services/commissions/handler"
	commissionrpc "partnerhub/internal/services/commissions/rpc"
	settingshandler "partnerhub/internal/services/settings/handler"
	statshandler "partnerhub/internal/services/stats/handler"
	"partnerhub/internal/testutil"
	"partnerhub/internal/utils"
)

var (
	jwtSecret    = []byte("gateway-jwt-secret")
	cookieSecret = []byte("gateway-cookie-secret")
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testGateway struct {
	router    *gin.Engine
	publisher *events.MemoryPublisher
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	db := testutil.NewTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.MustNewMetrics(prometheus.NewRegistry())
	publisher := events.NewMemoryPublisher()

	settings := settingshandler.NewSettingsHandler(db, nil, logger)
	stats := statshandler.NewStatsHandler(db, nil, settings, time.UTC, logger)
	settings.AddChangeListener(stats)
	commissions := commissionhandler.NewCommissionHandler(db, settings, publisher, metrics, logger)
	commissions.SetStatsInvalidator(stats)

	r := gin.New()
	Router{
		Attribution: NewAttributionHTTPHandler(attributionhandler.NewAttributionHandler(db, nil, publisher, metrics, logger), cookieSecret, false, logger),
		Affiliates:  NewAffiliateHTTPHandler(affiliatehandler.NewAffiliateHandler(db, logger), "https://partners.example.com"),
		Commissions: NewCommissionsHTTPHandler(commissions, dialCommissionService(t, commissions)),
		Stats:       NewStatsHTTPHandler(stats),
		Settings:    NewSettingsHTTPHandler(settings),
	}.Register(r, jwtSecret, nil)
	return &testGateway{router: r, publisher: publisher}
}

// dialCommissionService serves the ledger over an in-memory gRPC listener, the way the
// commission service binary serves it.
func dialCommissionService(t *testing.T, ledger commissionrpc.Ledger) *commissionrpc.CommissionClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	commissionrpc.Register(srv, commissionrpc.NewServer(ledger))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return commissionrpc.NewCommissionClient(conn)
}

func bearer(t *testing.T, role, affiliateID string) string {
	t.Helper()
	tok, _, err := utils.GenerateToken(jwtSecret, "user-"+role, role, affiliateID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (g *testGateway) do(t *testing.T, method, path string, body any, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (test)")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (g *testGateway) createAffiliate(t *testing.T, code string, approve bool) string {
	t.Helper()
	admin := bearer(t, utils.RoleAdmin, "")
	w := g.do(t, http.MethodPost, "/api/v1/admin/affiliates", gin.H{"name": "Jane Doe", "email": "jane@example.com", "referral_code": code}, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created AffiliateResponse
	decode(t, w, &created)
	if approve {
		w = g.do(t, http.MethodPatch, "/api/v1/admin/affiliates/"+created.ID+"/approve", nil, admin)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	return created.ID
}

func TestReferralToCommissionFlow(t *testing.T) {
	g := newTestGateway(t)
	admin := bearer(t, utils.RoleAdmin, "")
	affiliateID := g.createAffiliate(t, "jane", false)

	w := g.do(t, http.MethodGet, "/r/jane", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code, "unapproved affiliates are not attributable")

	w = g.do(t, http.MethodPatch, "/api/v1/admin/affiliates/"+affiliateID+"/approve", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)

	w = g.do(t, http.MethodGet, "/r/jane?utm_source=newsletter", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var visit VisitResponse
	decode(t, w, &visit)
	assert.Equal(t, affiliateID, visit.AffiliateID)
	assert.True(t, visit.ClickCounted)

	var refCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == utils.ReferralCookieName {
			refCookie = c
		}
	}
	require.NotNil(t, refCookie)
	assert.True(t, refCookie.HttpOnly)
	assert.Equal(t, int(utils.ReferralCookieTTL.Seconds()), refCookie.MaxAge)

	w = g.do(t, http.MethodGet, "/r/jane", nil, "")
	decode(t, w, &visit)
	assert.False(t, visit.ClickCounted, "second visit within the hour is deduplicated")

	w = g.do(t, http.MethodGet, "/api/v1/attribution/cookie", nil, "", refCookie)
	var cookie CookieResponse
	decode(t, w, &cookie)
	assert.True(t, cookie.Attributed)
	assert.Equal(t, "jane", cookie.ReferralCode)
	assert.Equal(t, affiliateID, cookie.AffiliateID)

	w = g.do(t, http.MethodPost, "/api/v1/appointments", gin.H{
		"affiliate_code": "jane",
		"customer_email": "client@example.com",
		"scheduled_at":   time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}, bearer(t, utils.RoleFunnel, ""))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var booking commissionhandler.BookingResult
	decode(t, w, &booking)
	assert.True(t, booking.Attributed)

	w = g.do(t, http.MethodPatch, "/api/v1/appointments/"+booking.Appointment.ID+"/outcome",
		gin.H{"outcome": "converted", "sale_value": "1000"}, bearer(t, utils.RoleFunnel, ""))
	assert.Equal(t, http.StatusForbidden, w.Code, "funnel callers cannot close deals")

	w = g.do(t, http.MethodPatch, "/api/v1/appointments/"+booking.Appointment.ID+"/outcome",
		gin.H{"outcome": "converted", "sale_value": "1000"}, bearer(t, utils.RoleCloser, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var outcome commissionhandler.OutcomeResult
	decode(t, w, &outcome)
	require.NotNil(t, outcome.Commission)
	assert.True(t, decimal.NewFromInt(200).Equal(outcome.Commission.Amount))

	w = g.do(t, http.MethodGet, "/api/v1/affiliates/"+affiliateID+"/payouts", nil, bearer(t, utils.RoleAffiliate, affiliateID))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var payout commissionhandler.PayoutSummary
	decode(t, w, &payout)
	assert.True(t, decimal.NewFromInt(200).Equal(payout.Held))
	assert.True(t, payout.Available.IsZero())

	w = g.do(t, http.MethodGet, "/api/v1/affiliates/"+affiliateID+"/commissions", nil, bearer(t, utils.RoleAffiliate, "someone-else"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = g.do(t, http.MethodGet, "/api/v1/admin/commissions/release", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	var release commissionhandler.ReleaseStatus
	decode(t, w, &release)
	assert.Equal(t, int64(0), release.ReadyForRelease)
	assert.Equal(t, int64(1), release.TotalHeld)

	w = g.do(t, http.MethodPost, "/api/v1/admin/commissions/release", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var released commissionhandler.ReleaseResult
	decode(t, w, &released)
	assert.Zero(t, released.ReleasedCount)
	assert.False(t, released.HasMore)

	w = g.do(t, http.MethodPost, "/api/v1/admin/appointments/"+booking.Appointment.ID+"/commission", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var recompute commissionhandler.ComputeResult
	decode(t, w, &recompute)
	assert.False(t, recompute.Credited)
	assert.Equal(t, commissionhandler.ReasonAlreadyCredited, recompute.Reason)

	assert.Equal(t, 1, g.publisher.Count(events.CommissionCredited))
}

func TestReleaseEndpointsNeedCommissionService(t *testing.T) {
	db := testutil.NewTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	settings := settingshandler.NewSettingsHandler(db, nil, logger)
	commissions := commissionhandler.NewCommissionHandler(db, settings, events.NewMemoryPublisher(), nil, logger)

	lis := bufconn.Listen(1 << 20)
	lis.Close()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	h := NewCommissionsHTTPHandler(commissions, commissionrpc.NewCommissionClient(conn))
	r := gin.New()
	r.GET("/release", h.GetReleaseStatus)
	r.POST("/appointments/:id/commission", h.ComputeCommission)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/release", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/appointments/apt_1/commission", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
}

func TestUnknownReferralIs404(t *testing.T) {
	g := newTestGateway(t)

	w := g.do(t, http.MethodGet, "/r/nobody", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Result().Cookies())

	w = g.do(t, http.MethodGet, "/api/v1/attribution/cookie", nil, "", &http.Cookie{Name: utils.ReferralCookieName, Value: "tampered"})
	var cookie CookieResponse
	decode(t, w, &cookie)
	assert.False(t, cookie.Attributed)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	g := newTestGateway(t)

	assert.Equal(t, http.StatusUnauthorized, g.do(t, http.MethodGet, "/api/v1/admin/settings", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, g.do(t, http.MethodGet, "/api/v1/admin/settings", nil, bearer(t, utils.RoleCloser, "")).Code)
	assert.Equal(t, http.StatusNotFound, g.do(t, http.MethodGet, "/api/v1/admin/affiliates/missing", nil, bearer(t, utils.RoleAdmin, "")).Code)
}

func TestSettingsEndpoints(t *testing.T) {
	g := newTestGateway(t)
	admin := bearer(t, utils.RoleAdmin, "")

	w := g.do(t, http.MethodPost, "/api/v1/admin/settings", gin.H{"commission_hold_days": 999}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = g.do(t, http.MethodPost, "/api/v1/admin/settings", gin.H{"commission_hold_days": 14, "payout_schedule": "weekly"}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = g.do(t, http.MethodGet, "/api/v1/admin/settings", nil, admin)
	var got struct {
		CommissionHoldDays int    `json:"commission_hold_days"`
		PayoutSchedule     string `json:"payout_schedule"`
	}
	decode(t, w, &got)
	assert.Equal(t, 14, got.CommissionHoldDays)
	assert.Equal(t, "weekly", got.PayoutSchedule)
}

func TestStatsExportWorkbook(t *testing.T) {
	g := newTestGateway(t)
	admin := bearer(t, utils.RoleAdmin, "")
	affiliateID := g.createAffiliate(t, "exporter", true)
	g.do(t, http.MethodGet, "/r/exporter", nil, "")

	w := g.do(t, http.MethodGet, "/api/v1/admin/affiliates/"+affiliateID+"/stats/export?dateRange=7d", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "affiliate_exporter_7d_")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(seriesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 8)
	assert.Equal(t, "Clicks", rows[0][3])
	assert.Equal(t, "1", rows[7][3], "today's bucket holds the click")

	w = g.do(t, http.MethodGet, "/api/v1/admin/affiliates/"+affiliateID+"/stats/export?dateRange=2w", nil, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAffiliateStatsAndQR(t *testing.T) {
	g := newTestGateway(t)
	affiliateID := g.createAffiliate(t, "qrcode", true)
	self := bearer(t, utils.RoleAffiliate, affiliateID)

	w := g.do(t, http.MethodGet, "/api/v1/affiliates/"+affiliateID+"/stats?dateRange=24h", nil, self)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report statshandler.Report
	decode(t, w, &report)
	assert.Len(t, report.Series, 24)

	w = g.do(t, http.MethodGet, "/api/v1/affiliates/"+affiliateID+"/link/qr", nil, self)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = g.do(t, http.MethodGet, "/api/v1/affiliates/"+affiliateID+"/link/qr?size=5", nil, self)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = g.do(t, http.MethodGet, "/api/v1/affiliates/"+affiliateID, nil, self)
	var profile AffiliateResponse
	decode(t, w, &profile)
	assert.Equal(t, "https://partners.example.com/r/qrcode", profile.ShareLink)
}

func TestHandleGRPCErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{status.Error(codes.InvalidArgument, "bad"), http.StatusBadRequest},
		{status.Error(codes.FailedPrecondition, "not yet"), http.StatusBadRequest},
		{status.Error(codes.Unauthenticated, "who"), http.StatusUnauthorized},
		{status.Error(codes.PermissionDenied, "no"), http.StatusForbidden},
		{status.Error(codes.NotFound, "gone"), http.StatusNotFound},
		{status.Error(codes.AlreadyExists, "dup"), http.StatusConflict},
		{status.Error(codes.Unavailable, "down"), http.StatusServiceUnavailable},
		{status.Error(codes.Internal, "boom"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		handleGRPCError(c, tt.err)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
		assert.True(t, c.IsAborted())
	}
}
