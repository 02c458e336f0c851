package observability

import "testing"

func TestPipelineStageWindowSnapshot(t *testing.T) {
	w := newPipelineStageWindow(8)
	w.Observe("query_to_first_chunk", 500)
	w.Observe("query_to_first_chunk", 700)
	w.Observe("query_to_first_chunk", 900)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "query_to_first_chunk" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "query_to_first_chunk")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1400 {
		t.Fatalf("TargetP95MS = %.2f, want 1400", s.TargetP95MS)
	}
}

func TestPipelineStageWindowWrapsAround(t *testing.T) {
	w := newPipelineStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe("run_total", float64(100*(i+1)))
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want window size 4", s.Samples)
	}
	if s.LastMS != 1000 {
		t.Fatalf("LastMS = %.2f, want 1000", s.LastMS)
	}
}

func TestPipelineStageWindowIgnoresInvalidSamples(t *testing.T) {
	w := newPipelineStageWindow(4)
	w.Observe("", 100)
	w.Observe("run_total", -5)

	snap := w.Snapshot()
	if len(snap.Stages) != 0 {
		t.Fatalf("len(Stages) = %d, want 0", len(snap.Stages))
	}
}
