package services

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/petguard/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocklistInsert_ExtendsActiveBlock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	repo := &memoryBlocks{}
	alerts := &RecordingAlertDispatcher{}
	svc := NewBlocklistService(repo, alerts, clock, testLogger())
	ctx := context.Background()

	first, err := svc.Insert(ctx, "2.2.2.2", "threshold", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(30*time.Minute), first.BlockedUntil)

	clock.Advance(10 * time.Minute)
	second, err := svc.Insert(ctx, "2.2.2.2", "threshold again", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(40*time.Minute), second.BlockedUntil)

	assert.Len(t, repo.blocks, 1)
	assert.Len(t, alerts.Snapshot(), 1)

	active, err := svc.ListActive(ctx, 50, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestBlocklistInsert_NewBlockAfterExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	repo := &memoryBlocks{}
	svc := NewBlocklistService(repo, &RecordingAlertDispatcher{}, clock, testLogger())
	ctx := context.Background()

	_, err := svc.Insert(ctx, "2.2.2.2", "threshold", time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	block, err := svc.Active(ctx, "2.2.2.2")
	require.NoError(t, err)
	assert.Nil(t, block)

	_, err = svc.Insert(ctx, "2.2.2.2", "threshold", time.Minute)
	require.NoError(t, err)
	assert.Len(t, repo.blocks, 2)
}

func TestBlocklistInsert_Validation(t *testing.T) {
	svc := NewBlocklistService(&memoryBlocks{}, &RecordingAlertDispatcher{}, clockwork.NewFakeClockAt(testEpoch), testLogger())

	_, err := svc.Insert(context.Background(), "nope", "r", time.Minute)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Insert(context.Background(), "1.2.3.4", "r", 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestWhitelistService(t *testing.T) {
	var added, removed string
	repo := &MockIPWhitelistRepository{
		AddFunc: func(ctx context.Context, ip, description string) (*models.IPWhitelistEntry, error) {
			added = ip
			return &models.IPWhitelistEntry{IPAddress: ip, Description: description}, nil
		},
		RemoveFunc: func(ctx context.Context, ip string) error {
			removed = ip
			return nil
		},
		ContainsFunc: func(ctx context.Context, ip string) (bool, error) {
			return ip == "10.0.0.1", nil
		},
	}
	svc := NewWhitelistService(repo, testLogger())
	ctx := context.Background()

	_, err := svc.Add(ctx, " ::ffff:10.0.0.1 ", "office")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", added)

	require.NoError(t, svc.Remove(ctx, "10.0.0.1"))
	assert.Equal(t, "10.0.0.1", removed)

	ok, err := svc.Contains(ctx, "::ffff:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Contains(ctx, "garbage")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Add(ctx, "garbage", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}
