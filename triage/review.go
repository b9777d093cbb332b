package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"logguard/core"
)

// ErrStatusRequired gates submission until the analyst has picked a status.
var ErrStatusRequired = errors.New("a status must be chosen before submitting")

// ReviewClient is the slice of the API client the review form needs.
type ReviewClient interface {
	UpdateAnomaly(ctx context.Context, id string, update core.AnomalyUpdate) (*core.Anomaly, error)
}

// ReviewForm accumulates review edits to one anomaly and submits them as a
// single partial update. Entered values survive a failed submit, so the
// analyst never retypes notes after a network error.
type ReviewForm struct {
	anomalyID string
	status    *string
	priority  *string
	notes     *string
}

// NewReviewForm opens an empty form for the anomaly.
func NewReviewForm(anomalyID string) *ReviewForm {
	return &ReviewForm{anomalyID: anomalyID}
}

// AnomalyID returns the anomaly the form edits.
func (f *ReviewForm) AnomalyID() string {
	return f.anomalyID
}

// SetStatus records the chosen status, rejecting unknown values.
func (f *ReviewForm) SetStatus(status string) error {
	if !core.ValidStatus(status) {
		return fmt.Errorf("invalid status: %s", status)
	}
	f.status = &status
	return nil
}

// SetPriority records the chosen priority, rejecting unknown values.
func (f *ReviewForm) SetPriority(priority string) error {
	if !core.ValidPriority(priority) {
		return fmt.Errorf("invalid priority: %s", priority)
	}
	f.priority = &priority
	return nil
}

// SetNotes records analyst notes.
func (f *ReviewForm) SetNotes(notes string) {
	f.notes = &notes
}

// Status returns the entered status, or "" when none is chosen yet.
func (f *ReviewForm) Status() string {
	if f.status == nil {
		return ""
	}
	return *f.status
}

// Priority returns the entered priority, or "".
func (f *ReviewForm) Priority() string {
	if f.priority == nil {
		return ""
	}
	return *f.priority
}

// Notes returns the entered notes, or "".
func (f *ReviewForm) Notes() string {
	if f.notes == nil {
		return ""
	}
	return *f.notes
}

// Ready reports whether the form can submit: a status has been chosen.
func (f *ReviewForm) Ready() bool {
	return f.status != nil
}

// Submit sends one PATCH carrying only the entered fields plus the review
// timestamp. On failure the form keeps every entered value; on success the
// anomaly caches are invalidated. cache may be nil.
func (f *ReviewForm) Submit(ctx context.Context, client ReviewClient, cache core.Cache) (*core.Anomaly, error) {
	if !f.Ready() {
		return nil, ErrStatusRequired
	}

	now := time.Now().UTC()
	update := core.AnomalyUpdate{
		Status:       f.status,
		Priority:     f.priority,
		AnalystNotes: f.notes,
		ReviewedAt:   &now,
	}

	anomaly, err := client.UpdateAnomaly(ctx, f.anomalyID, update)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		_ = cache.Invalidate(ctx, core.CacheKeyAnomalies)
		_ = cache.Invalidate(ctx, core.AnomalyCacheKey(f.anomalyID))
	}
	return anomaly, nil
}
