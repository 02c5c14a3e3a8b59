package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gambit/internal/core"
)

// DefaultExpiry is how long a pending challenge stays open.
const DefaultExpiry = 5 * time.Minute

// DefaultSweepInterval is how often expired challenges are collected.
const DefaultSweepInterval = 60 * time.Second

// Registry tracks pending invitations. A participant may appear in at
// most one pending challenge at a time, as challenger or challenged.
// All access goes through one mutex, so the expiry sweep never races
// Propose or Accept.
type Registry struct {
	mu      sync.Mutex
	pending map[string]core.ChallengeRecord // keyed by challengedID
	expiry  time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

func NewRegistry(expiry time.Duration, logger zerolog.Logger) *Registry {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Registry{
		pending: make(map[string]core.ChallengeRecord),
		expiry:  expiry,
		now:     time.Now,
		logger:  logger,
	}
}

// Propose files a challenge from challengerID to challengedID. It
// returns false without side effects when either party is already
// involved in a pending challenge.
func (r *Registry) Propose(challengerID, challengedID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.involvedLocked(challengerID) || r.involvedLocked(challengedID) {
		return false
	}
	r.pending[challengedID] = core.ChallengeRecord{
		ChallengerID: challengerID,
		ChallengedID: challengedID,
		CreatedAt:    r.now(),
	}
	return true
}

// Accept consumes and returns the pending challenge addressed to
// challengedID, or nil when there is none.
func (r *Registry) Accept(challengedID string) *core.ChallengeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.pending[challengedID]
	if !ok {
		return nil
	}
	if r.expired(rec) {
		delete(r.pending, challengedID)
		return nil
	}
	delete(r.pending, challengedID)
	return &rec
}

// Cancel removes any pending challenge involving the participant, on
// either side of it.
func (r *Registry) Cancel(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for challengedID, rec := range r.pending {
		if rec.ChallengerID == participantID || rec.ChallengedID == participantID {
			delete(r.pending, challengedID)
			return true
		}
	}
	return false
}

// PendingFor returns the open challenge the participant is involved in,
// if any.
func (r *Registry) PendingFor(participantID string) *core.ChallengeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.pending {
		if rec.ChallengerID == participantID || rec.ChallengedID == participantID {
			if r.expired(rec) {
				continue
			}
			out := rec
			return &out
		}
	}
	return nil
}

// Pending returns the number of open challenges.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run sweeps expired challenges until the context is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for challengedID, rec := range r.pending {
		if r.expired(rec) {
			delete(r.pending, challengedID)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug().Int("removed", removed).Msg("swept expired challenges")
	}
}

func (r *Registry) expired(rec core.ChallengeRecord) bool {
	return r.now().Sub(rec.CreatedAt) > r.expiry
}

// involvedLocked reports whether the participant already has a live
// pending challenge. Expired leftovers waiting for the sweep do not
// count and are dropped on sight.
func (r *Registry) involvedLocked(participantID string) bool {
	for challengedID, rec := range r.pending {
		if r.expired(rec) {
			delete(r.pending, challengedID)
			continue
		}
		if rec.ChallengerID == participantID || rec.ChallengedID == participantID {
			return true
		}
	}
	return false
}
