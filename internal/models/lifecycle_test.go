package models

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	statuses := []DocumentStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	allowed := map[[2]DocumentStatus]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]DocumentStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		current DocumentStatus
		tr      Transition
		wantErr bool
	}{
		{"start processing", StatusPending, Transition{To: StatusProcessing}, false},
		{"complete with location", StatusProcessing, Transition{To: StatusCompleted, ResultLocation: "gs://b/o.pdf", Metrics: &Metrics{PageCount: 3}}, false},
		{"fail", StatusProcessing, Transition{To: StatusFailed, ErrorDetails: "boom"}, false},
		{"complete without location", StatusProcessing, Transition{To: StatusCompleted}, true},
		{"location without complete", StatusProcessing, Transition{To: StatusFailed, ResultLocation: "gs://b/o.pdf"}, true},
		{"metrics without complete", StatusPending, Transition{To: StatusProcessing, Metrics: &Metrics{}}, true},
		{"negative metrics", StatusProcessing, Transition{To: StatusCompleted, ResultLocation: "x", Metrics: &Metrics{PageCount: -1}}, true},
		{"skip processing", StatusPending, Transition{To: StatusCompleted, ResultLocation: "x"}, true},
		{"backwards", StatusCompleted, Transition{To: StatusProcessing}, true},
		{"stale failed after completed", StatusCompleted, Transition{To: StatusFailed}, true},
		{"duplicate completed", StatusCompleted, Transition{To: StatusCompleted, ResultLocation: "x"}, true},
		{"precondition mismatch", StatusProcessing, Transition{From: StatusPending, To: StatusFailed}, true},
		{"precondition match", StatusProcessing, Transition{From: StatusProcessing, To: StatusFailed}, false},
		{"unknown status", StatusPending, Transition{To: "archived"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.current, tt.tr)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestTransitionApply(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := &Document{ID: "d1", Status: StatusProcessing}
	Transition{To: StatusCompleted, ResultLocation: "gs://out/d1.pdf", Metrics: &Metrics{PageCount: 12, ProblemCount: 2}, At: at}.Apply(doc)

	if !doc.Ready() {
		t.Fatalf("expected document to be ready: %+v", doc)
	}
	if doc.PageCount != 12 || doc.ProblemCount != 2 || !doc.UpdatedAt.Equal(at) {
		t.Errorf("unexpected document after apply: %+v", doc)
	}
}

func TestQuotaAllows(t *testing.T) {
	if !UnlimitedQuota.Allows(1 << 20) {
		t.Error("unlimited quota should always allow")
	}
	q := Quota{Limit: 3}
	if !q.Allows(2) || q.Allows(3) {
		t.Errorf("limit 3 should allow 2 used and deny 3 used")
	}
	usage := NewQuotaUsage(q, 5, time.Time{})
	if usage.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", usage.Remaining)
	}
}

func TestStatusUpdateTransition(t *testing.T) {
	pages := 4
	u := StatusUpdate{DocumentID: "d1", Status: StatusCompleted, ResultLocation: "gs://b/d1.pdf", PageCount: &pages}
	tr := u.Transition(time.Now())
	if tr.Metrics == nil || tr.Metrics.PageCount != 4 || tr.Metrics.ProblemCount != 0 {
		t.Fatalf("unexpected metrics: %+v", tr.Metrics)
	}
	failed := StatusUpdate{DocumentID: "d1", Status: StatusFailed}.Transition(time.Now())
	if failed.Metrics != nil {
		t.Errorf("Expected no metrics on failed update, got %+v", failed.Metrics)
	}
}
