package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/petguard/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func milestoneCounts(alerts []models.Alert) []string {
	var out []string
	for _, a := range alerts {
		if a.Kind == models.AlertLoginMilestone {
			out = append(out, a.Fields["failed_attempts"])
		}
	}
	return out
}

func TestAttemptRecorder_MilestonesFireOnce(t *testing.T) {
	f := newGuardFixture(defaultTestPolicy())

	f.fail(t, "user@example.com", "10.0.0.5", 11)

	assert.Equal(t, []string{"3", "5", "10"}, milestoneCounts(f.alerts.Snapshot()))
}

func TestAttemptRecorder_MilestoneSeverity(t *testing.T) {
	f := newGuardFixture(defaultTestPolicy())

	f.fail(t, "user@example.com", "", 5)

	alerts := f.alerts.Snapshot()
	require.Len(t, alerts, 2)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, models.SeverityCritical, alerts[1].Severity)
	assert.Equal(t, "user@example.com", alerts[1].Fields["email"])
}

func TestAttemptRecorder_MilestonesRestartAfterSuccess(t *testing.T) {
	f := newGuardFixture(defaultTestPolicy())
	ctx := context.Background()

	f.fail(t, "user@example.com", "", 3)
	require.NoError(t, f.recorder.Record(ctx, "user@example.com", true, "", ""))
	f.fail(t, "user@example.com", "", 3)

	assert.Equal(t, []string{"3", "3"}, milestoneCounts(f.alerts.Snapshot()))
}

func TestAttemptRecorder_WhitelistedIPNeverAlerts(t *testing.T) {
	f := newGuardFixture(defaultTestPolicy())
	f.whitelist.ContainsFunc = func(ctx context.Context, ip string) (bool, error) {
		return ip == "10.9.9.9", nil
	}

	f.fail(t, "user@example.com", "10.9.9.9", 10)

	assert.Empty(t, f.alerts.Snapshot())
	assert.Equal(t, 10, f.ledger.inserts)
}

func TestAttemptRecorder_AlertsWhenWhitelistLookupFails(t *testing.T) {
	f := newGuardFixture(defaultTestPolicy())
	f.whitelist.ContainsFunc = func(ctx context.Context, ip string) (bool, error) {
		return false, errors.New("timeout")
	}

	f.fail(t, "user@example.com", "10.0.0.1", 3)

	assert.Equal(t, []string{"3"}, milestoneCounts(f.alerts.Snapshot()))
}

func TestAttemptRecorder_StoresNormalizedAttempt(t *testing.T) {
	var stored *models.LoginAttempt
	repo := &MockLoginAttemptRepository{
		RecordFailureAndCountFunc: func(ctx context.Context, attempt *models.LoginAttempt, since time.Time) (int, error) {
			stored = attempt
			assert.Equal(t, testEpoch.Add(-15*time.Minute), since)
			return 1, nil
		},
	}
	clock := clockwork.NewFakeClockAt(testEpoch)
	recorder := NewAttemptRecorder(repo, &MockWhitelist{}, &RecordingAlertDispatcher{}, defaultTestPolicy(), clock, testLogger())

	err := recorder.Record(context.Background(), "  Pet.Owner@Example.com ", false, "::ffff:10.0.0.1", "")
	require.NoError(t, err)

	require.NotNil(t, stored)
	assert.Equal(t, "pet.owner@example.com", stored.Email)
	require.NotNil(t, stored.IPAddress)
	assert.Equal(t, "10.0.0.1", *stored.IPAddress)
	assert.Nil(t, stored.UserAgent)
	assert.Equal(t, testEpoch, stored.AttemptTime)
}

func TestAttemptRecorder_StoreErrorSurfaces(t *testing.T) {
	repo := &MockLoginAttemptRepository{
		RecordFailureAndCountFunc: func(ctx context.Context, attempt *models.LoginAttempt, since time.Time) (int, error) {
			return 0, errors.New("db down")
		},
	}
	recorder := NewAttemptRecorder(repo, &MockWhitelist{}, &RecordingAlertDispatcher{}, defaultTestPolicy(),
		clockwork.NewFakeClockAt(testEpoch), testLogger())

	err := recorder.Record(context.Background(), "user@example.com", false, "", "")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestAttemptRecorder_RejectsInvalidEmail(t *testing.T) {
	f := newGuardFixture(defaultTestPolicy())

	err := f.recorder.Record(context.Background(), "nobody", false, "", "")
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, 0, f.ledger.inserts)
}
