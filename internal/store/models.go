package store

import (
	"time"

	"github.com/google/uuid"
)

// User is a reviewer known to the overlay store. Rows are upserted from
// verified session claims; identity itself is issued elsewhere.
type User struct {
	ID        uuid.UUID
	FullName  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Principle struct {
	ID                string
	Name              string
	Definition        string
	ContextRule       *string
	InclusionCriteria *string
	ExclusionCriteria *string
}

// Sample is one machine-classified text span. The review workflow never
// writes to it.
type Sample struct {
	ID               string
	Preceding        *string
	Target           string
	Following        *string
	A1Score          int
	A2Score          int
	A3Score          int
	LLMJustification *string
	LLMEvidenceQuote *string
	PrincipleID      *string
}

// Revision is a user's overlay on a sample. At most one exists per
// (UserID, SampleID).
type Revision struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	SampleID          string
	PrincipleID       *string
	ExpertOpinion     *string
	IsReviseCompleted bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SampleView is a sample joined with the requesting user's revision, if any.
type SampleView struct {
	Sample
	Revision    *Revision
	ReviserName *string
}
