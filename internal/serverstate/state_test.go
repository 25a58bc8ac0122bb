package serverstate

import "testing"

func TestMemoryStore(t *testing.T) {
	ms := NewMemoryStore()

	prev := active
	UseStore(ms)
	defer UseStore(prev)

	if got := GetState(); got != StatusNotReady {
		t.Fatalf("initial state = %q; want %q", got, StatusNotReady)
	}
	if IsDraining() {
		t.Fatalf("initial draining = true; want false")
	}

	SetState(StatusReady)
	if got := GetState(); got != StatusReady {
		t.Fatalf("state after SetState = %q; want %q", got, StatusReady)
	}

	RecordEngine(false)
	if st := Snapshot(); st.Engine != EngineUnreachable || st.EngineCheckedAt.IsZero() {
		t.Fatalf("engine after failure = %+v", st)
	}
	RecordEngine(true)
	if st := Snapshot(); st.Engine != EngineReachable || st.Status != StatusReady {
		t.Fatalf("engine after success = %+v", st)
	}

	StartDrain()
	if got := GetState(); got != StatusDraining {
		t.Fatalf("state after StartDrain = %q; want %q", got, StatusDraining)
	}
	if !IsDraining() {
		t.Fatalf("IsDraining = false; want true")
	}
	if st := Snapshot(); st.Engine != EngineReachable {
		t.Fatalf("drain lost engine health: %+v", st)
	}
}
