package domain

import "time"

// SystemActor is recorded in audit fields when no actor is known, e.g. for
// scheduler decisions and bootstrap data.
const SystemActor = "approvalflow"

// Audit holds the bookkeeping fields shared by persisted entities.
type Audit struct {
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
}

// NewAudit returns an Audit stamped with the given actor and time.
func NewAudit(actor string, now time.Time) Audit {
	actor = actorOrSystem(actor)
	return Audit{
		CreatedAt: now,
		CreatedBy: actor,
		UpdatedAt: now,
		UpdatedBy: actor,
	}
}

// Touch records a modification.
func (a *Audit) Touch(actor string, now time.Time) {
	a.UpdatedAt = now
	a.UpdatedBy = actorOrSystem(actor)
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return SystemActor
	}
	return actor
}
