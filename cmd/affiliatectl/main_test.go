package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	commissionhandler "partnerhub/internal/services/commissions/handler"
)

type scriptedReleaser struct {
	batches []commissionhandler.ReleaseResult
	calls   int
	err     error
}

func (s *scriptedReleaser) ProcessReleases(context.Context, ...grpc.CallOption) (*commissionhandler.ReleaseResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	res := commissionhandler.ReleaseResult{ReleasedAmount: decimal.Zero}
	if s.calls < len(s.batches) {
		res = s.batches[s.calls]
	}
	s.calls++
	return &res, nil
}

func TestReleaseAllStopsWhenDrained(t *testing.T) {
	r := &scriptedReleaser{batches: []commissionhandler.ReleaseResult{
		{ReleasedCount: 2, ReleasedAmount: decimal.NewFromInt(40), HasMore: true},
		{ReleasedCount: 2, ReleasedAmount: decimal.NewFromInt(40), HasMore: true},
		{ReleasedCount: 1, ReleasedAmount: decimal.NewFromInt(20), HasMore: false},
	}}
	var out bytes.Buffer

	count, amount, err := releaseAll(context.Background(), r, 10, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.True(t, decimal.NewFromInt(100).Equal(amount))
	assert.Equal(t, 3, r.calls)
	assert.Contains(t, out.String(), "batch 3: released 1 (20.00)")
}

func TestReleaseAllStopsOnEmptyBatch(t *testing.T) {
	r := &scriptedReleaser{}
	count, _, err := releaseAll(context.Background(), r, 10, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, 1, r.calls)
}

func TestReleaseAllBoundsBatches(t *testing.T) {
	more := commissionhandler.ReleaseResult{ReleasedCount: 1, ReleasedAmount: decimal.NewFromInt(1), HasMore: true}
	r := &scriptedReleaser{batches: []commissionhandler.ReleaseResult{more, more, more, more}}

	count, _, err := releaseAll(context.Background(), r, 2, &bytes.Buffer{})
	assert.Error(t, err)
	assert.Equal(t, int64(2), count)
}

func TestReleaseAllPropagatesErrors(t *testing.T) {
	r := &scriptedReleaser{err: errors.New("unavailable")}
	_, _, err := releaseAll(context.Background(), r, 10, &bytes.Buffer{})
	assert.EqualError(t, err, "unavailable")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"release-status", "release", "compute", "recount", "token"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
