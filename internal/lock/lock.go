// Package lock implements the run lock (C3): a file-based lease lock
// with heartbeat, stale-takeover, and owner checks, grounded on the
// teacher's events.ConnectionManager discipline of snapshotting shared
// state under a mutex and releasing it before slow I/O
// (pkg/events/manager.go), generalized here to a single background
// heartbeat goroutine per held lock.
package lock

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// Handle represents a held run lock. Release must be called exactly once.
type Handle struct {
	path    string
	ownerID string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func lockPath(runRoot string) string {
	return runRoot + string(os.PathSeparator) + ".lock"
}

func ownerID(hostname string, pid int, createdAt time.Time) string {
	return hostname + ":" + strconv.Itoa(pid) + ":" + createdAt.UTC().Format(time.RFC3339Nano)
}

// Acquire attempts to take the run lock, retrying once via
// unlink-then-create-O_EXCL if the existing lock is stale. heartbeat
// starts a background refresher that updates refreshed_at every
// HeartbeatIntervalMs until Release is called.
func Acquire(ctx context.Context, runRoot string, policy schema.RunLockPolicy, reason string) (*Handle, *errs.Error) {
	path := lockPath(runRoot)
	hostname, _ := os.Hostname()
	now := time.Now().UTC()
	owner := ownerID(hostname, os.Getpid(), now)

	doc := schema.LockDoc{
		PID:          os.Getpid(),
		Hostname:     hostname,
		CreatedAt:    now,
		LeaseSeconds: policy.LeaseSeconds,
		RefreshedAt:  now,
		OwnerID:      owner,
		Reason:       reason,
	}

	if e := tryCreateExclusive(path, &doc); e != nil {
		if e.Code != errs.LockHeld {
			return nil, e
		}
		// Existing lock present; check staleness before giving up.
		var existing schema.LockDoc
		if re := store.ReadJSON(path, &existing); re != nil {
			return nil, errs.Wrap(errs.LockReadFailed, "read existing lock", re, nil)
		}
		if !isStale(existing, now) {
			return nil, errs.New(errs.LockHeld, "run lock is held by an active owner", errs.D("owner_id", existing.OwnerID))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errs.Wrap(errs.LockWriteFailed, "remove stale lock", err, nil)
		}
		if e2 := tryCreateExclusive(path, &doc); e2 != nil {
			return nil, e2
		}
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{path: path, ownerID: owner, cancel: cancel}
	if policy.HeartbeatIntervalMs > 0 {
		h.wg.Add(1)
		go h.heartbeatLoop(hctx, policy)
	}
	return h, nil
}

func tryCreateExclusive(path string, doc *schema.LockDoc) *errs.Error {
	canon, err := store.CanonicalizeJSON(doc)
	if err != nil {
		return errs.Wrap(errs.LockWriteFailed, "canonicalize lock document", err, nil)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errs.New(errs.LockHeld, "lock file already exists", errs.D("path", path))
		}
		return errs.Wrap(errs.LockWriteFailed, "create lock file", err, nil)
	}
	defer f.Close()
	if _, err := f.Write(canon); err != nil {
		return errs.Wrap(errs.LockWriteFailed, "write lock file", err, nil)
	}
	return nil
}

func isStale(doc schema.LockDoc, now time.Time) bool {
	deadline := doc.RefreshedAt.Add(time.Duration(doc.LeaseSeconds) * time.Second)
	return now.After(deadline)
}

func (h *Handle) heartbeatLoop(ctx context.Context, policy schema.RunLockPolicy) {
	defer h.wg.Done()
	interval := time.Duration(policy.HeartbeatIntervalMs) * time.Millisecond
	failures := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e := h.refresh(policy.LeaseSeconds); e != nil {
				failures++
				if policy.HeartbeatMaxFailures > 0 && failures >= policy.HeartbeatMaxFailures {
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (h *Handle) refresh(leaseSeconds int) *errs.Error {
	var doc schema.LockDoc
	if e := store.ReadJSON(h.path, &doc); e != nil {
		return e
	}
	if doc.OwnerID != h.ownerID {
		return errs.New(errs.LockNotOwned, "lock no longer owned by this holder", errs.D("owner_id", doc.OwnerID))
	}
	doc.RefreshedAt = time.Now().UTC()
	if leaseSeconds > 0 {
		doc.LeaseSeconds = leaseSeconds
	}
	return store.AtomicWriteJSON(h.path, doc)
}

// Release stops the heartbeat and removes the lock file, requiring that
// it is still owned by this handle.
func (h *Handle) Release() *errs.Error {
	h.cancel()
	h.wg.Wait()

	var doc schema.LockDoc
	if e := store.ReadJSON(h.path, &doc); e != nil {
		if e.Code == errs.NotFound {
			return nil
		}
		return errs.Wrap(errs.LockReleaseFailed, "read lock before release", e, nil)
	}
	if doc.OwnerID != h.ownerID {
		return errs.New(errs.LockNotOwned, "cannot release lock not owned by this holder", errs.D("owner_id", doc.OwnerID))
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.LockReleaseFailed, "remove lock file", err, nil)
	}
	return nil
}

// NewOwnerToken returns a random UUID string for callers that need an
// owner identifier without depending on lock internals (tick.Run uses it
// for the tick marker). It does not follow the lock's
// hostname:pid:created_at owner-id format.
func NewOwnerToken() string {
	return uuid.NewString()
}
