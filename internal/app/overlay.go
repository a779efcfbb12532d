package app

import (
	"math"
	"strings"
	"time"

	"reviewdesk/api/internal/store"
)

// SampleRow is a sample as seen by one reviewer: the shared sample fields
// plus that reviewer's overlay, if any.
type SampleRow struct {
	ID                string     `json:"id"`
	Preceding         *string    `json:"preceding"`
	Target            string     `json:"target"`
	Following         *string    `json:"following"`
	A1Score           int        `json:"A1_Score"`
	A2Score           int        `json:"A2_Score"`
	A3Score           int        `json:"A3_Score"`
	PrincipleID       *string    `json:"principle_id"`
	LLMJustification  *string    `json:"llm_justification"`
	LLMEvidenceQuote  *string    `json:"llm_evidence_quote"`
	ExpertOpinion     *string    `json:"expert_opinion"`
	IsRevised         bool       `json:"is_revised"`
	ReviserName       *string    `json:"reviser_name"`
	RevisionTimestamp *time.Time `json:"revision_timestamp"`
}

type Stats struct {
	Total      int     `json:"total"`
	Revised    int     `json:"revised"`
	Percentage float64 `json:"percentage"`
}

type PrincipleSamples struct {
	Samples []SampleRow `json:"samples"`
	Stats   Stats       `json:"stats"`
}

// resolveRow merges a sample with the caller's revision. A nil revision
// yields the untouched defaults; reviserName is ignored in that case.
func resolveRow(sample store.Sample, revision *store.Revision, reviserName *string) SampleRow {
	row := SampleRow{
		ID:               sample.ID,
		Preceding:        sample.Preceding,
		Target:           sample.Target,
		Following:        sample.Following,
		A1Score:          sample.A1Score,
		A2Score:          sample.A2Score,
		A3Score:          sample.A3Score,
		PrincipleID:      sample.PrincipleID,
		LLMJustification: sample.LLMJustification,
		LLMEvidenceQuote: sample.LLMEvidenceQuote,
	}
	if revision == nil {
		return row
	}
	row.ExpertOpinion = revision.ExpertOpinion
	row.IsRevised = revision.IsReviseCompleted
	row.ReviserName = reviserName
	row.RevisionTimestamp = revisionTimestamp(*revision)
	return row
}

func resolveView(view store.SampleView) SampleRow {
	return resolveRow(view.Sample, view.Revision, view.ReviserName)
}

func revisionTimestamp(revision store.Revision) *time.Time {
	var ts time.Time
	switch {
	case !revision.UpdatedAt.IsZero():
		ts = revision.UpdatedAt.UTC()
	case !revision.CreatedAt.IsZero():
		ts = revision.CreatedAt.UTC()
	default:
		return nil
	}
	return &ts
}

// computeStats counts over every row given, whatever is later listed.
func computeStats(rows []SampleRow) Stats {
	stats := Stats{Total: len(rows)}
	for _, row := range rows {
		if row.IsRevised {
			stats.Revised++
		}
	}
	if stats.Total == 0 {
		return stats
	}
	stats.Percentage = roundTo2(float64(stats.Revised) / float64(stats.Total) * 100)
	return stats
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

func filterRows(rows []SampleRow, showRevised bool) []SampleRow {
	if showRevised {
		return rows
	}
	out := make([]SampleRow, 0, len(rows))
	for _, row := range rows {
		if !row.IsRevised {
			out = append(out, row)
		}
	}
	return out
}

// PrincipleUpdateInput is a partial principle edit. Nil fields are left
// untouched.
type PrincipleUpdateInput struct {
	LabelName         *string `json:"label_name"`
	Definition        *string `json:"definition"`
	InclusionCriteria *string `json:"inclusion_criteria"`
	ExclusionCriteria *string `json:"exclusion_criteria"`
}

func (in PrincipleUpdateInput) validate() error {
	if in.LabelName != nil && strings.TrimSpace(*in.LabelName) == "" {
		return validationError("label_name", "label_name must not be empty")
	}
	if in.Definition != nil && strings.TrimSpace(*in.Definition) == "" {
		return validationError("definition", "definition must not be empty")
	}
	return nil
}

func (in PrincipleUpdateInput) apply(principle *store.Principle) {
	if in.LabelName != nil {
		principle.Name = *in.LabelName
	}
	if in.Definition != nil {
		principle.Definition = *in.Definition
	}
	if in.InclusionCriteria != nil {
		value := *in.InclusionCriteria
		principle.InclusionCriteria = &value
	}
	if in.ExclusionCriteria != nil {
		value := *in.ExclusionCriteria
		principle.ExclusionCriteria = &value
	}
}

type PrincipleDTO struct {
	ID                string `json:"id"`
	LabelName         string `json:"label_name"`
	Definition        string `json:"definition"`
	InclusionCriteria string `json:"inclusion_criteria"`
	ExclusionCriteria string `json:"exclusion_criteria"`
}

func principleDTO(principle store.Principle) PrincipleDTO {
	return PrincipleDTO{
		ID:                principle.ID,
		LabelName:         principle.Name,
		Definition:        principle.Definition,
		InclusionCriteria: derefString(principle.InclusionCriteria),
		ExclusionCriteria: derefString(principle.ExclusionCriteria),
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func stringPtr(value string) *string {
	return &value
}
