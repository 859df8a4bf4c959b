package runtime

import "testing"

func TestGenerateTaskIDLength(t *testing.T) {
	id, err := generateTaskID()
	if err != nil {
		t.Fatalf("generateTaskID() error: %v", err)
	}
	if len(id) != 10 {
		t.Fatalf("len(id) = %d, want 10", len(id))
	}
	for _, r := range id {
		found := false
		for _, a := range taskIDAlphabet {
			if r == a {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("id %q contains char %q outside the alphabet", id, r)
		}
	}
}

func TestGenerateTaskIDVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := generateTaskID()
		if err != nil {
			t.Fatalf("generateTaskID() error: %v", err)
		}
		if seen[id] {
			t.Fatalf("generateTaskID() produced a repeat within 50 draws: %q", id)
		}
		seen[id] = true
	}
}
