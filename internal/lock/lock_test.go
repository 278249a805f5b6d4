package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	root := t.TempDir()
	policy := schema.RunLockPolicy{LeaseSeconds: 60, HeartbeatIntervalMs: 0}

	h, e := Acquire(context.Background(), root, policy, "test")
	require.Nil(t, e)
	require.NotNil(t, h)

	require.Nil(t, h.Release())
}

func TestAcquireFailsWhenHeld(t *testing.T) {
	root := t.TempDir()
	policy := schema.RunLockPolicy{LeaseSeconds: 60}

	h, e := Acquire(context.Background(), root, policy, "first")
	require.Nil(t, e)
	defer h.Release()

	_, e2 := Acquire(context.Background(), root, policy, "second")
	require.NotNil(t, e2)
	require.Equal(t, string(errs.LockHeld), string(e2.Code))
}

func TestAcquireTakesOverStaleLock(t *testing.T) {
	root := t.TempDir()
	staleLease := schema.RunLockPolicy{LeaseSeconds: 0}

	h, e := Acquire(context.Background(), root, staleLease, "first")
	require.Nil(t, e)
	// LeaseSeconds 0 means the lock is immediately stale (refreshed_at+0 < now).
	time.Sleep(5 * time.Millisecond)

	h2, e2 := Acquire(context.Background(), root, schema.RunLockPolicy{LeaseSeconds: 60}, "second")
	require.Nil(t, e2)
	require.Nil(t, h2.Release())
	_ = h // original handle's lock file was replaced; releasing it would now fail ownership, so we don't call it.
}
