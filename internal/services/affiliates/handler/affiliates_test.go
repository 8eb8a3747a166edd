package handler

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"partnerhub/internal/database/models"
	"partnerhub/internal/testutil"
)

func TestCreateAffiliateDefaults(t *testing.T) {
	h := NewAffiliateHandler(testutil.NewTestDB(t), nil)

	a, err := h.CreateAffiliate(context.Background(), CreateAffiliateRequest{Name: "Dana", Email: "Dana@Example.com"})
	require.NoError(t, err)
	assert.Len(t, a.ReferralCode, referralCodeLength)
	for _, r := range a.ReferralCode {
		assert.Contains(t, referralCodeAlphabet, string(r))
	}
	assert.True(t, a.CommissionRate.Equal(decimal.NewFromFloat(0.2)))
	assert.Equal(t, "dana@example.com", a.Email)
	assert.False(t, a.IsApproved)
	assert.True(t, a.IsActive)
	assert.False(t, a.IsAvailable())
}

func TestCreateAffiliateValidation(t *testing.T) {
	ctx := context.Background()
	h := NewAffiliateHandler(testutil.NewTestDB(t), nil)
	tooHigh := decimal.NewFromFloat(1.5)

	_, err := h.CreateAffiliate(ctx, CreateAffiliateRequest{Name: " "})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.CreateAffiliate(ctx, CreateAffiliateRequest{Name: "A", CommissionRate: &tooHigh})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.CreateAffiliate(ctx, CreateAffiliateRequest{Name: "A", ReferralCode: "a b"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.CreateAffiliate(ctx, CreateAffiliateRequest{Name: "A", ReferralCode: "ABC"})
	require.NoError(t, err)
	_, err = h.CreateAffiliate(ctx, CreateAffiliateRequest{Name: "B", ReferralCode: "abc"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestLifecycleUpdates(t *testing.T) {
	ctx := context.Background()
	h := NewAffiliateHandler(testutil.NewTestDB(t), nil)
	a, err := h.CreateAffiliate(ctx, CreateAffiliateRequest{Name: "A", ReferralCode: "abc"})
	require.NoError(t, err)

	a, err = h.ApproveAffiliate(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, a.IsAvailable())

	a, err = h.SetActive(ctx, a.ID, false)
	require.NoError(t, err)
	assert.False(t, a.IsActive)
	assert.False(t, a.IsAvailable())

	a, err = h.SetCommissionRate(ctx, a.ID, decimal.NewFromFloat(0.35))
	require.NoError(t, err)
	assert.True(t, a.CommissionRate.Equal(decimal.NewFromFloat(0.35)))

	_, err = h.SetCommissionRate(ctx, a.ID, decimal.NewFromInt(-1))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.ApproveAffiliate(ctx, "aff_missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	list, err := h.ListAffiliates(ctx, ListAffiliatesFilter{OnlyAvailable: true})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetCustomTrackingLink(t *testing.T) {
	ctx := context.Background()
	h := NewAffiliateHandler(testutil.NewTestDB(t), nil)
	a, err := h.CreateAffiliate(ctx, CreateAffiliateRequest{Name: "A", ReferralCode: "abc"})
	require.NoError(t, err)
	b, err := h.CreateAffiliate(ctx, CreateAffiliateRequest{Name: "B", ReferralCode: "xyz"})
	require.NoError(t, err)

	_, err = h.SetCustomTrackingLink(ctx, a.ID, "  ")
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "the link cannot be cleared")

	_, err = h.SetCustomTrackingLink(ctx, a.ID, "xyz")
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	a, err = h.SetCustomTrackingLink(ctx, a.ID, "/Dana-Coaching/")
	require.NoError(t, err)
	require.True(t, a.HasCustomLink())
	assert.Equal(t, "dana-coaching", *a.CustomTrackingLink)

	_, err = h.SetCustomTrackingLink(ctx, b.ID, "dana-coaching")
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	assert.Equal(t, "https://example.com/go/dana-coaching", EffectiveLink(*a, "https://example.com/"))
	assert.Equal(t, "https://example.com/r/xyz", EffectiveLink(*b, "https://example.com"))
}

func TestGetAffiliateNotFound(t *testing.T) {
	h := NewAffiliateHandler(testutil.NewTestDB(t), nil)
	_, err := h.GetAffiliate(context.Background(), "aff_nope")
	assert.Equal(t, codes.NotFound, status.Code(err))

	var empty models.Affiliate
	assert.False(t, empty.HasCustomLink())
}
