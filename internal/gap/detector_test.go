package gap

import "testing"

func observeAll(d *Detector, seqs ...int64) []Gap {
	var gaps []Gap
	for _, s := range seqs {
		if g, ok := d.Observe(s); ok {
			gaps = append(gaps, g)
		}
	}
	return gaps
}

func TestObserve_JumpCreatesExactlyOneGap(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)

	gaps := observeAll(d, 10, 15)
	if len(gaps) != 1 {
		t.Fatalf("got %d gaps, want 1", len(gaps))
	}
	if gaps[0].From != 11 || gaps[0].To != 14 {
		t.Errorf("gap = [%d,%d], want [11,14]", gaps[0].From, gaps[0].To)
	}
	if gaps[0].State != StateOpen {
		t.Errorf("state = %s, want open", gaps[0].State)
	}
}

func TestObserve_ConsecutiveNoGap(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)

	if gaps := observeAll(d, 1, 2, 3, 4, 5); len(gaps) != 0 {
		t.Errorf("got %d gaps for consecutive stream, want 0", len(gaps))
	}
	if d.LastSeen() != 5 {
		t.Errorf("LastSeen() = %d, want 5", d.LastSeen())
	}
}

func TestObserve_DuplicateIgnored(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)

	observeAll(d, 1, 2, 3)
	if _, ok := d.Observe(2); ok {
		t.Error("duplicate sequence opened a gap")
	}
	if d.LastSeen() != 3 {
		t.Errorf("LastSeen() = %d, want 3", d.LastSeen())
	}
}

func TestObserve_RestartAboveWatermark(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)
	d.Seed(100, nil)

	g, ok := d.Observe(150)
	if !ok {
		t.Fatal("expected startup gap")
	}
	if g.From != 101 || g.To != 149 {
		t.Errorf("gap = [%d,%d], want [101,149]", g.From, g.To)
	}
}

func TestObserve_RestartContiguous(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)
	d.Seed(100, nil)

	if _, ok := d.Observe(101); ok {
		t.Error("contiguous restart opened a gap")
	}
}

func TestCoalesce_OverlappingAndAdjacent(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)

	d.ReportMissing(10, 20)
	d.ReportMissing(21, 30) // adjacent
	d.ReportMissing(15, 25) // overlapping, already covered

	got := d.OpenGaps()
	if len(got) != 1 {
		t.Fatalf("got %d gaps, want 1 coalesced", len(got))
	}
	if got[0].From != 10 || got[0].To != 30 {
		t.Errorf("gap = [%d,%d], want [10,30]", got[0].From, got[0].To)
	}
}

func TestReportMissing_AlreadyOpen(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)

	d.ReportMissing(10, 20)
	if _, fresh := d.ReportMissing(12, 15); fresh {
		t.Error("sub-range of an open gap reported as new")
	}
}

func TestCloseRange_FullAndPartial(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)

	d.ReportMissing(10, 20)
	d.CloseRange(10, 20)
	if got := d.OpenGaps(); len(got) != 0 {
		t.Fatalf("got %d gaps after full close, want 0", len(got))
	}

	d.ReportMissing(30, 50)
	d.CloseRange(35, 40)
	got := d.OpenGaps()
	if len(got) != 2 {
		t.Fatalf("got %d gaps after partial close, want 2", len(got))
	}
	if got[0].From != 30 || got[0].To != 34 || got[1].From != 41 || got[1].To != 50 {
		t.Errorf("gaps = %v, want [30,34] and [41,50]", got)
	}
}

func TestMarkIrreparable_DoesNotCoalesce(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)

	d.ReportMissing(10, 20)
	d.MarkIrreparable(10, 20)

	// A new adjacent gap must not merge into the irreparable one.
	d.ReportMissing(21, 25)

	got := d.OpenGaps()
	if len(got) != 2 {
		t.Fatalf("got %d gaps, want 2", len(got))
	}
	if got[0].State != StateIrreparable {
		t.Errorf("first gap state = %s, want irreparable", got[0].State)
	}
	if got[1].From != 21 || got[1].To != 25 || got[1].State != StateOpen {
		t.Errorf("second gap = %v, want open [21,25]", got[1])
	}
}

func TestMarkStalled(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)

	d.ReportMissing(10, 20)
	d.MarkStalled(10, 20)

	got := d.OpenGaps()
	if len(got) != 1 || got[0].State != StateStalled {
		t.Fatalf("gaps = %v, want one stalled gap", got)
	}
}

func TestSeed_RestoresOpenGaps(t *testing.T) {
	d := NewDetector("BTCUSDT", "binance", nil)
	d.Seed(100, []Gap{{From: 40, To: 60}, {From: 10, To: 20}})

	got := d.OpenGaps()
	if len(got) != 2 {
		t.Fatalf("got %d gaps, want 2", len(got))
	}
	if got[0].From != 10 || got[1].From != 40 {
		t.Errorf("gaps not sorted by From: %v", got)
	}
	for _, g := range got {
		if g.Symbol != "BTCUSDT" || g.Venue != "binance" || g.State != StateOpen {
			t.Errorf("seeded gap missing identity/state: %v", g)
		}
	}
}
