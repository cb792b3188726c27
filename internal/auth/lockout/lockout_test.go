package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
	"github.com/NordCoder/Gatekeeper/internal/repository/memory"
)

var t0 = time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)

func fail(at time.Time) auth.LoginAttempt {
	return auth.LoginAttempt{FailureReason: auth.FailureBadCredentials, CreatedAt: at}
}

func ok(at time.Time) auth.LoginAttempt {
	return auth.LoginAttempt{Success: true, CreatedAt: at}
}

func failures(n int, start time.Time, step time.Duration) []auth.LoginAttempt {
	out := make([]auth.LoginAttempt, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fail(start.Add(time.Duration(i)*step)))
	}
	return out
}

func TestEvaluate(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name       string
		attempts   []auth.LoginAttempt
		now        time.Time
		wantLocked bool
		wantUnlock time.Time
	}{
		{
			name:     "below threshold",
			attempts: failures(4, t0, time.Minute),
			now:      t0.Add(5 * time.Minute),
		},
		{
			name:       "threshold reached",
			attempts:   failures(5, t0, time.Minute),
			now:        t0.Add(5 * time.Minute),
			wantLocked: true,
			wantUnlock: t0.Add(4*time.Minute + 15*time.Minute),
		},
		{
			name:     "lock elapsed",
			attempts: failures(5, t0, time.Minute),
			now:      t0.Add(19 * time.Minute),
		},
		{
			name:     "success resets the count",
			attempts: append(append(failures(4, t0, time.Minute), ok(t0.Add(5*time.Minute))), failures(4, t0.Add(6*time.Minute), time.Minute)...),
			now:      t0.Add(10 * time.Minute),
		},
		{
			name:     "one failure after a post-lock success",
			attempts: append(append(failures(5, t0, time.Minute), ok(t0.Add(20*time.Minute))), fail(t0.Add(21*time.Minute))),
			now:      t0.Add(22 * time.Minute),
		},
		{
			name:     "failures outside the window are ignored",
			attempts: append(failures(3, t0, time.Minute), failures(2, t0.Add(20*time.Minute), time.Minute)...),
			now:      t0.Add(22 * time.Minute),
		},
		{
			name: "locked rejections do not extend the lock",
			attempts: append(failures(5, t0, time.Minute), auth.LoginAttempt{
				FailureReason: auth.FailureAccountLocked, CreatedAt: t0.Add(10 * time.Minute),
			}),
			now:        t0.Add(12 * time.Minute),
			wantLocked: true,
			wantUnlock: t0.Add(19 * time.Minute),
		},
		{
			name:       "unknown-user failures count like any other",
			attempts:   []auth.LoginAttempt{{FailureReason: auth.FailureUserNotFound, CreatedAt: t0}, fail(t0), fail(t0), fail(t0), fail(t0)},
			now:        t0.Add(time.Minute),
			wantLocked: true,
			wantUnlock: t0.Add(15 * time.Minute),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := p.Evaluate(tc.attempts, tc.now)
			assert.Equal(t, tc.wantLocked, st.Locked)
			if tc.wantLocked {
				assert.Equal(t, tc.wantUnlock, st.UnlockAt)
			}
		})
	}
}

func TestEvaluate_Disabled(t *testing.T) {
	p := DefaultPolicy()
	p.Enabled = false
	assert.False(t, p.Evaluate(failures(50, t0, time.Second), t0.Add(time.Minute)).Locked)
}

func TestTracker_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLoginAttempts()
	tr := NewTracker(store, DefaultPolicy())
	tenant, other := uuid.New(), uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Record(ctx, auth.LoginAttempt{
			TenantID: tenant, Email: "frank@example.com",
			FailureReason: auth.FailureBadCredentials, CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}

	st, err := tr.IsLocked(ctx, tenant, "frank@example.com", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, 5, st.Failures)

	st, err = tr.IsLocked(ctx, other, "frank@example.com", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, st.Locked, "lockout is tenant scoped")

	st, err = tr.IsLocked(ctx, tenant, "frank@example.com", t0.Add(20*time.Minute))
	require.NoError(t, err)
	assert.False(t, st.Locked)
}

func TestTracker_Purge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLoginAttempts()
	tr := NewTracker(store, DefaultPolicy())

	require.NoError(t, tr.Record(ctx, fail(t0)))
	require.NoError(t, tr.Record(ctx, fail(t0.Add(89*24*time.Hour))))

	n, err := tr.Purge(ctx, t0.Add(91*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Len(t, store.All(), 1)
}
