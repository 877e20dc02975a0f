package models

import "testing"

func TestStatusValid(t *testing.T) {
	valid := []Status{StatusOpen, StatusInProgress, StatusReview, StatusClosed, StatusCancelled, StatusDeferred}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if Status("pending").Valid() {
		t.Error("expected unknown status to be invalid")
	}
	if Status("").Valid() {
		t.Error("expected empty status to be invalid")
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusClosed.Terminal() {
		t.Error("closed should be terminal")
	}
	if !StatusCancelled.Terminal() {
		t.Error("cancelled should be terminal")
	}
	for _, s := range []Status{StatusOpen, StatusInProgress, StatusReview, StatusDeferred} {
		if s.Terminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestWorkItemHasLabel(t *testing.T) {
	item := &WorkItem{ID: "hd-1", Labels: []string{"backend", LabelNeedsHuman}}

	if !item.HasLabel(LabelNeedsHuman) {
		t.Error("expected needs-human label to be present")
	}
	if item.HasLabel("frontend") {
		t.Error("expected frontend label to be absent")
	}

	empty := &WorkItem{ID: "hd-2"}
	if empty.HasLabel(LabelNeedsHuman) {
		t.Error("expected no labels on empty item")
	}
}

func TestTierValid(t *testing.T) {
	for _, tier := range []Tier{TierSimple, TierStandard, TierComplex} {
		if !tier.Valid() {
			t.Errorf("expected %q to be valid", tier)
		}
	}
	if Tier("epic").Valid() {
		t.Error("expected unknown tier to be invalid")
	}
}

func TestFailureTypeValid(t *testing.T) {
	for _, f := range []FailureType{FailureNetwork, FailureRateLimited, FailureTimeout, FailurePermission, FailureCrash, FailureOrphaned} {
		if !f.Valid() {
			t.Errorf("expected %q to be valid", f)
		}
	}
	if FailureType("oom").Valid() {
		t.Error("expected unknown failure type to be invalid")
	}
}
