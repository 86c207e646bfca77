package scan

import "testing"

func TestCohortBucket(t *testing.T) {
	assigner, err := NewCohortAssigner()
	if err != nil {
		t.Fatalf("NewCohortAssigner failed: %v", err)
	}

	t.Run("Stable", func(t *testing.T) {
		first := assigner.Bucket("tenant-acme")
		for i := 0; i < 10; i++ {
			if got := assigner.Bucket("tenant-acme"); got != first {
				t.Fatalf("Bucket changed between calls: %d then %d", first, got)
			}
		}
	})

	t.Run("InRange", func(t *testing.T) {
		keys := []string{"a", "b", "tenant-acme", "tenant-globex", "app-chatbot", ""}
		for _, key := range keys {
			b := assigner.Bucket(key)
			if b < 0 || b > 99 {
				t.Errorf("Bucket(%q) = %d, outside 0-99", key, b)
			}
		}
	})

	t.Run("SurvivesEviction", func(t *testing.T) {
		fresh, err := NewCohortAssigner()
		if err != nil {
			t.Fatalf("NewCohortAssigner failed: %v", err)
		}
		// Two independent assigners agree: the bucket is a pure function of
		// the key, the cache is only an optimization.
		if assigner.Bucket("tenant-acme") != fresh.Bucket("tenant-acme") {
			t.Error("Bucket depends on cache state")
		}
	})
}

func TestCohortEnabled(t *testing.T) {
	assigner, err := NewCohortAssigner()
	if err != nil {
		t.Fatalf("NewCohortAssigner failed: %v", err)
	}

	t.Run("ZeroPercentDisablesAll", func(t *testing.T) {
		if assigner.Enabled("tenant-acme", 0) {
			t.Error("Enabled at 0 percent")
		}
		if assigner.Enabled("tenant-acme", -5) {
			t.Error("Enabled at negative percent")
		}
	})

	t.Run("FullPercentEnablesAll", func(t *testing.T) {
		if !assigner.Enabled("tenant-acme", 100) {
			t.Error("Disabled at 100 percent")
		}
		if !assigner.Enabled("", 150) {
			t.Error("Disabled above 100 percent")
		}
	})

	t.Run("EmptyKeyNeverEnrolled", func(t *testing.T) {
		if assigner.Enabled("", 99) {
			t.Error("Empty key enrolled in partial rollout")
		}
	})

	t.Run("MonotoneInPercent", func(t *testing.T) {
		// Once a key is inside a rollout it stays inside as the percentage
		// grows.
		key := "tenant-acme"
		enrolled := false
		for percent := 1; percent <= 100; percent++ {
			now := assigner.Enabled(key, percent)
			if enrolled && !now {
				t.Fatalf("Key dropped out of rollout at %d percent", percent)
			}
			if now {
				enrolled = true
			}
		}
		if !enrolled {
			t.Error("Key never enrolled even at 100 percent")
		}
	})

	t.Run("ThresholdMatchesBucket", func(t *testing.T) {
		key := "tenant-globex"
		b := assigner.Bucket(key)
		if b > 0 && assigner.Enabled(key, b) {
			t.Errorf("Enabled at percent == bucket (%d); boundary should be exclusive", b)
		}
		if !assigner.Enabled(key, b+1) {
			t.Errorf("Disabled at percent == bucket+1 (%d)", b+1)
		}
	})
}
