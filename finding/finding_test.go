package finding

import "testing"

func TestUnion_Grows(t *testing.T) {
	ev := Evidence{"element:a", "state:b"}
	out, grew := ev.Union(Evidence{"state:b", "content:c"})
	if !grew {
		t.Fatal("Union: expected growth")
	}
	if len(out) != 3 {
		t.Fatalf("Union: got %d tokens, want 3", len(out))
	}
	if out[2] != "content:c" {
		t.Errorf("Union: got %q at tail, want content:c", out[2])
	}
}

func TestUnion_NoGrowth(t *testing.T) {
	ev := Evidence{"element:a"}
	out, grew := ev.Union(Evidence{"element:a", "element:a"})
	if grew {
		t.Fatal("Union: unexpected growth")
	}
	if len(out) != 1 {
		t.Fatalf("Union: got %d tokens, want 1", len(out))
	}
}

func TestContains_CaseInsensitive(t *testing.T) {
	ev := Evidence{"element:ytp-ad-Player-Overlay"}
	if !ev.Contains("overlay") {
		t.Error("Contains: expected case-insensitive match")
	}
	if ev.Contains("banner") {
		t.Error("Contains: unexpected match")
	}
}

func TestReportRoundTrip(t *testing.T) {
	r := &Report{
		ID:             "det_test",
		DestinationURL: "https://sketchy-deals.xyz",
		AdType:         TypeDisplay,
		Source:         "aria-label",
		Confidence:     0.7,
		Evidence:       Evidence{"content:aria-label-domain"},
		Timestamp:      1234,
		ContextID:      "scan_1",
	}
	data, err := MarshalReport(r)
	if err != nil {
		t.Fatalf("MarshalReport: %v", err)
	}
	got, err := UnmarshalReport(data)
	if err != nil {
		t.Fatalf("UnmarshalReport: %v", err)
	}
	if got.DestinationURL != r.DestinationURL || got.AdType != r.AdType {
		t.Errorf("round trip: got %+v", got)
	}
}
