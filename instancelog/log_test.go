package instancelog

import "testing"

func openTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(t.TempDir(), "state.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestCommitThenUpdateHappyPath(t *testing.T) {
	log := openTestLog(t)

	if err := log.Commit(CreateInstanceLog{
		AgentName: "capsule", AgentVersion: "0.1.0",
		TaskID: "t1", TaskName: "main",
		State: StateCreated, FuelLimit: 1000,
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := log.Update(UpdateInstanceLog{TaskID: "t1", State: StateRunning, FuelConsumed: 10}); err != nil {
		t.Fatalf("Update to Running: %v", err)
	}
	if err := log.Update(UpdateInstanceLog{TaskID: "t1", State: StateCompleted, FuelConsumed: 200}); err != nil {
		t.Fatalf("Update to Completed: %v", err)
	}

	rows, err := log.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row per task id, got %d", len(rows))
	}
	if rows[0].State != StateCompleted {
		t.Fatalf("State = %q, want %q", rows[0].State, StateCompleted)
	}
	if rows[0].FuelConsumed != 200 {
		t.Fatalf("FuelConsumed = %d, want 200", rows[0].FuelConsumed)
	}
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	log := openTestLog(t)

	if err := log.Commit(CreateInstanceLog{
		TaskID: "t2", TaskName: "main", State: StateCreated, FuelLimit: 1000,
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Created -> Completed skips Running and must be rejected.
	if err := log.Update(UpdateInstanceLog{TaskID: "t2", State: StateCompleted, FuelConsumed: 5}); err == nil {
		t.Fatal("expected Created -> Completed to be rejected")
	}

	rows, err := log.Get("t2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rows[0].State != StateCreated {
		t.Fatalf("illegal update should not have mutated state, got %q", rows[0].State)
	}
}

func TestUpdateRejectsDecreasingFuelConsumed(t *testing.T) {
	log := openTestLog(t)

	if err := log.Commit(CreateInstanceLog{
		TaskID: "t3", TaskName: "main", State: StateCreated, FuelLimit: 1000,
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := log.Update(UpdateInstanceLog{TaskID: "t3", State: StateRunning, FuelConsumed: 500}); err != nil {
		t.Fatalf("Update to Running: %v", err)
	}

	if err := log.Update(UpdateInstanceLog{TaskID: "t3", State: StateRunning, FuelConsumed: 100}); err == nil {
		t.Fatal("expected a decreasing fuel_consumed update to be rejected")
	}
}

func TestDeleteIsolatesOtherTaskIDs(t *testing.T) {
	log := openTestLog(t)

	for _, id := range []string{"a", "b"} {
		if err := log.Commit(CreateInstanceLog{
			TaskID: id, TaskName: "main", State: StateCreated, FuelLimit: 1000,
		}); err != nil {
			t.Fatalf("Commit %s: %v", id, err)
		}
	}

	if err := log.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	rowsA, err := log.Get("a")
	if err != nil {
		t.Fatalf("Get a: %v", err)
	}
	if len(rowsA) != 0 {
		t.Fatalf("expected task a to be fully deleted, got %d rows", len(rowsA))
	}

	rowsB, err := log.Get("b")
	if err != nil {
		t.Fatalf("Get b: %v", err)
	}
	if len(rowsB) != 1 {
		t.Fatalf("expected task b to be unaffected, got %d rows", len(rowsB))
	}
}

func TestGetOrdersNewestFirst(t *testing.T) {
	log := openTestLog(t)

	if err := log.Commit(CreateInstanceLog{
		TaskID: "t4", TaskName: "main", State: StateCreated, FuelLimit: 1000,
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := log.Commit(CreateInstanceLog{
		TaskID: "t4", TaskName: "main", State: StateCreated, FuelLimit: 2000,
	}); err != nil {
		t.Fatalf("second Commit: %v", err)
	}

	rows, err := log.Get("t4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected two rows, got %d", len(rows))
	}
	if rows[0].FuelLimit != 2000 {
		t.Fatalf("newest row should be first, got FuelLimit=%d", rows[0].FuelLimit)
	}
}

func TestClampFuelConsumed(t *testing.T) {
	cases := []struct {
		limit, consumed int64
		want            uint64
	}{
		{1000, -5, 0},
		{1000, 500, 500},
		{1000, 5000, 1000},
	}
	for _, c := range cases {
		if got := ClampFuelConsumed(c.limit, c.consumed); got != c.want {
			t.Errorf("ClampFuelConsumed(%d, %d) = %d, want %d", c.limit, c.consumed, got, c.want)
		}
	}
}
