package sagasync

import "testing"

func TestMergeStatusNeverRegresses(t *testing.T) {
	ordered := []Status{StatusNotStarted, StatusInProgress, StatusFinished, StatusDiscarded}
	for i, current := range ordered {
		for j, incoming := range ordered {
			got := MergeStatus(current, incoming)
			want := current
			if j > i {
				want = incoming
			}
			if got != want {
				t.Errorf("MergeStatus(%q, %q) = %q, want %q", current, incoming, got, want)
			}
		}
	}
}

func TestMergeStatusEmptyInputs(t *testing.T) {
	if got := MergeStatus("", ""); got != StatusNotStarted {
		t.Errorf("MergeStatus empty = %q, want %q", got, StatusNotStarted)
	}
	if got := MergeStatus("", StatusFinished); got != StatusFinished {
		t.Errorf("MergeStatus empty current = %q, want %q", got, StatusFinished)
	}
	if got := MergeStatus(StatusInProgress, ""); got != StatusInProgress {
		t.Errorf("MergeStatus empty incoming = %q, want %q", got, StatusInProgress)
	}
	if got := MergeStatus(StatusFinished, "Bogus"); got != StatusFinished {
		t.Errorf("MergeStatus unknown incoming = %q, want %q", got, StatusFinished)
	}
}

func TestSeriesAggregate(t *testing.T) {
	cases := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"empty", nil, StatusNotStarted},
		{"all not started", []Status{StatusNotStarted, StatusNotStarted}, StatusNotStarted},
		{"any discarded wins", []Status{StatusFinished, StatusDiscarded, StatusInProgress}, StatusDiscarded},
		{"all finished", []Status{StatusFinished, StatusFinished}, StatusFinished},
		{"partial finished is in progress", []Status{StatusFinished, StatusNotStarted}, StatusInProgress},
		{"any in progress", []Status{StatusInProgress, StatusNotStarted}, StatusInProgress},
		{"single finished", []Status{StatusFinished}, StatusFinished},
		{"single discarded", []Status{StatusDiscarded}, StatusDiscarded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SeriesAggregate(tc.statuses); got != tc.want {
				t.Errorf("SeriesAggregate(%v) = %q, want %q", tc.statuses, got, tc.want)
			}
		})
	}
}

func TestParseStatusHint(t *testing.T) {
	cases := map[string]Status{
		"Listening":    StatusInProgress,
		"  finished  ": StatusFinished,
		"COMPLETED":    StatusFinished,
		"Not Started":  StatusNotStarted,
		"la poubelle":  StatusDiscarded,
		"DNF":          StatusDiscarded,
		"":             "",
		"whatever":     "",
	}
	for raw, want := range cases {
		if got := ParseStatusHint(raw); got != want {
			t.Errorf("ParseStatusHint(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestRankUnknownIsBelowEverything(t *testing.T) {
	if Rank("Bogus") != -1 {
		t.Errorf("Rank of unknown status = %d, want -1", Rank("Bogus"))
	}
	if Rank(StatusNotStarted) != 0 || Rank(StatusDiscarded) != 3 {
		t.Error("status ranks out of order")
	}
}
