// Package cooldown implements the per-symbol Cooldown Registry (spec §4.D):
// named cooldowns (scale_in, scale_out) plus the pending_intent cooldown
// that blocks re-emission of a decision while its order is in flight.
//
// One Registry is owned per symbol lane, matching the Book and Cache — no
// internal locking.
package cooldown

import "time"

// Kind names a cooldown bucket.
type Kind string

const (
	ScaleIn       Kind = "scale_in"
	ScaleOut      Kind = "scale_out"
	PendingIntent Kind = "pending_intent"
)

// pendingEntry records the in-flight intent awaiting resolution.
type pendingEntry struct {
	intentID  string
	dedupeKey string
	expiresAt time.Time
}

// Registry holds the three cooldown kinds for one symbol.
type Registry struct {
	scaleInUntil  time.Time
	scaleOutUntil time.Time
	pending       *pendingEntry
}

// New returns an empty Registry (no cooldowns armed).
func New() *Registry { return &Registry{} }

// ArmScaleIn starts the scale_in cooldown for the given duration from now.
func (r *Registry) ArmScaleIn(now time.Time, d time.Duration) {
	r.scaleInUntil = now.Add(d)
}

// ArmScaleOut starts the scaleout cooldown for the given duration from now.
func (r *Registry) ArmScaleOut(now time.Time, d time.Duration) {
	r.scaleOutUntil = now.Add(d)
}

// ScaleInActive reports whether the scale_in cooldown is still in effect.
func (r *Registry) ScaleInActive(now time.Time) bool {
	return now.Before(r.scaleInUntil)
}

// ScaleOutActive reports whether the scaleout cooldown is still in effect.
func (r *Registry) ScaleOutActive(now time.Time) bool {
	return now.Before(r.scaleOutUntil)
}

// SetPendingIntent installs a pending_intent cooldown for intentID, expiring
// after timeout unless cleared sooner by a fill/reject.
func (r *Registry) SetPendingIntent(intentID, dedupeKey string, now time.Time, timeout time.Duration) {
	r.pending = &pendingEntry{
		intentID:  intentID,
		dedupeKey: dedupeKey,
		expiresAt: now.Add(timeout),
	}
}

// PendingActive reports whether an unresolved pending_intent cooldown blocks
// new decisions. A pending entry whose deadline has passed is treated as
// inactive (spec §7 IntentTimeout: "clear pending, evaluator free to
// re-propose") without requiring an explicit Clear call from the timeout
// path — callers that need to *observe* the timeout (to emit IntentTimeout
// telemetry) should call Expired beforehand.
func (r *Registry) PendingActive(now time.Time) bool {
	return r.pending != nil && now.Before(r.pending.expiresAt)
}

// Expired reports whether a pending intent exists and has passed its
// deadline without being cleared.
func (r *Registry) Expired(now time.Time) (intentID string, ok bool) {
	if r.pending != nil && !now.Before(r.pending.expiresAt) {
		return r.pending.intentID, true
	}
	return "", false
}

// ClearPendingIntent clears the pending_intent cooldown if its intentID
// matches, returning whether it was cleared.
func (r *Registry) ClearPendingIntent(intentID string) bool {
	if r.pending != nil && r.pending.intentID == intentID {
		r.pending = nil
		return true
	}
	return false
}

// ClearExpiredPending drops the pending entry unconditionally once its
// deadline has passed, freeing the evaluator to re-propose (spec
// IntentTimeout handling).
func (r *Registry) ClearExpiredPending(now time.Time) {
	if r.pending != nil && !now.Before(r.pending.expiresAt) {
		r.pending = nil
	}
}

// ScaleInUntil and ScaleOutUntil expose the raw cooldown watermarks for
// persistence (spec §6 "Persisted state layout"); callers should prefer
// ScaleInActive/ScaleOutActive for decision logic.
func (r *Registry) ScaleInUntil() time.Time  { return r.scaleInUntil }
func (r *Registry) ScaleOutUntil() time.Time { return r.scaleOutUntil }

// Restore sets the scale_in/scale_out watermarks directly, used when
// rehydrating a Registry from a persisted snapshot at startup.
func (r *Registry) Restore(scaleInUntil, scaleOutUntil time.Time) {
	r.scaleInUntil = scaleInUntil
	r.scaleOutUntil = scaleOutUntil
}

// PendingIntentID returns the currently pending intent id, if any.
func (r *Registry) PendingIntentID() (string, bool) {
	if r.pending == nil {
		return "", false
	}
	return r.pending.intentID, true
}
