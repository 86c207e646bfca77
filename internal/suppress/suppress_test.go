package suppress

import (
	"testing"
	"time"

	"github.com/wardenlabs/llm-warden/internal/rules"
)

func detections(ids ...string) []rules.Detection {
	ds := make([]rules.Detection, 0, len(ids))
	for _, id := range ids {
		ds = append(ds, rules.Detection{RuleID: id, Severity: rules.SeverityHigh, Confidence: 0.9})
	}
	return ds
}

func TestValidate(t *testing.T) {
	t.Run("EmptyPattern", func(t *testing.T) {
		s := Suppression{Action: ActionSuppress}
		if err := s.Validate(); err == nil {
			t.Error("Expected error for empty pattern")
		}
	})

	t.Run("UnknownAction", func(t *testing.T) {
		s := Suppression{Pattern: "pi-001", Action: "vanish"}
		if err := s.Validate(); err == nil {
			t.Error("Expected error for unknown action")
		}
	})
}

func TestApply(t *testing.T) {
	now := time.Now()

	t.Run("ExactMatchSuppresses", func(t *testing.T) {
		kept, audit := Apply(detections("pi-001", "jb-001"),
			[]Suppression{{Pattern: "pi-001", Action: ActionSuppress, Reason: "known fp"}}, now)
		if len(kept) != 1 || kept[0].RuleID != "jb-001" {
			t.Errorf("kept = %v, want only jb-001", kept)
		}
		if len(audit) != 1 || audit[0].Detection.RuleID != "pi-001" || audit[0].Reason != "known fp" {
			t.Errorf("audit = %v", audit)
		}
	})

	t.Run("WildcardMatchesPrefix", func(t *testing.T) {
		kept, audit := Apply(detections("pi-001", "pi-002", "jb-001"),
			[]Suppression{{Pattern: "pi-*", Action: ActionSuppress}}, now)
		if len(kept) != 1 || kept[0].RuleID != "jb-001" {
			t.Errorf("kept = %v, want only jb-001", kept)
		}
		if len(audit) != 2 {
			t.Errorf("audit has %d entries, want 2", len(audit))
		}
	})

	t.Run("FlagKeepsAndAnnotates", func(t *testing.T) {
		kept, audit := Apply(detections("pi-001"),
			[]Suppression{{Pattern: "pi-001", Action: ActionFlag, Reason: "under review"}}, now)
		if len(kept) != 1 {
			t.Fatalf("FLAG removed the detection")
		}
		if kept[0].Metadata["suppression_flag"] != "pi-001" {
			t.Errorf("Missing suppression_flag annotation: %v", kept[0].Metadata)
		}
		if kept[0].Metadata["suppression_reason"] != "under review" {
			t.Errorf("Missing suppression_reason annotation: %v", kept[0].Metadata)
		}
		if len(audit) != 1 {
			t.Errorf("FLAG hit not audited")
		}
	})

	t.Run("LogKeepsUntouched", func(t *testing.T) {
		kept, audit := Apply(detections("pi-001"),
			[]Suppression{{Pattern: "pi-001", Action: ActionLog}}, now)
		if len(kept) != 1 {
			t.Fatalf("LOG removed the detection")
		}
		if kept[0].Metadata != nil {
			t.Errorf("LOG annotated the detection: %v", kept[0].Metadata)
		}
		if len(audit) != 1 {
			t.Errorf("LOG hit not audited")
		}
	})

	t.Run("ExpiredEntryIgnored", func(t *testing.T) {
		past := now.Add(-time.Hour)
		kept, audit := Apply(detections("pi-001"),
			[]Suppression{{Pattern: "pi-001", Action: ActionSuppress, ExpiresAt: &past}}, now)
		if len(kept) != 1 {
			t.Error("Expired suppression still applied")
		}
		if len(audit) != 0 {
			t.Errorf("Expired suppression audited: %v", audit)
		}
	})

	t.Run("FutureExpiryStillApplies", func(t *testing.T) {
		future := now.Add(time.Hour)
		kept, _ := Apply(detections("pi-001"),
			[]Suppression{{Pattern: "pi-001", Action: ActionSuppress, ExpiresAt: &future}}, now)
		if len(kept) != 0 {
			t.Error("Unexpired suppression not applied")
		}
	})

	t.Run("NoSuppressionsKeepsAll", func(t *testing.T) {
		kept, audit := Apply(detections("pi-001", "jb-001"), nil, now)
		if len(kept) != 2 || len(audit) != 0 {
			t.Errorf("kept = %d, audit = %d", len(kept), len(audit))
		}
	})
}

func TestMerge(t *testing.T) {
	t.Run("InlineWinsOnOverlap", func(t *testing.T) {
		stored := []Suppression{{Pattern: "pi-001", Action: ActionSuppress, Reason: "stored"}}
		inline := []Suppression{{Pattern: "pi-001", Action: ActionFlag, Reason: "inline"}}

		merged := Merge(stored, inline)
		if len(merged) != 1 {
			t.Fatalf("merged has %d entries, want 1", len(merged))
		}
		if merged[0].Action != ActionFlag || merged[0].Reason != "inline" {
			t.Errorf("merged entry = %+v, want the inline one", merged[0])
		}
	})

	t.Run("DisjointPatternsUnion", func(t *testing.T) {
		stored := []Suppression{{Pattern: "pi-*", Action: ActionSuppress}}
		inline := []Suppression{{Pattern: "jb-001", Action: ActionLog}}

		merged := Merge(stored, inline)
		if len(merged) != 2 {
			t.Fatalf("merged has %d entries, want 2", len(merged))
		}
	})

	t.Run("OutputSortedByPattern", func(t *testing.T) {
		merged := Merge(
			[]Suppression{{Pattern: "zz-*", Action: ActionSuppress}},
			[]Suppression{{Pattern: "aa-001", Action: ActionSuppress}},
		)
		if merged[0].Pattern != "aa-001" || merged[1].Pattern != "zz-*" {
			t.Errorf("merged order = %v", merged)
		}
	})
}
