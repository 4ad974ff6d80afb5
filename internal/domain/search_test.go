package domain

import (
	"encoding/json"
	"testing"
)

func TestWithDefaultsKeepsZeroCeiling(t *testing.T) {
	query := SearchQuery{Pattern: "ubuntu", MaxSizeBytes: 0}.WithDefaults()
	if query.MaxSizeBytes != 0 {
		t.Fatalf("expected zero ceiling to survive, got %d", query.MaxSizeBytes)
	}

	query = SearchQuery{Pattern: "ubuntu", MaxSizeBytes: MaxSizeUnset}.WithDefaults()
	if query.MaxSizeBytes != GBToBytes(DefaultMaxSizeGB) {
		t.Fatalf("expected default ceiling for unset query, got %d", query.MaxSizeBytes)
	}
}

func TestGBToBytes(t *testing.T) {
	tests := []struct {
		gb   float64
		want int64
	}{
		{0, 0},
		{1e-10, 0},
		{-3, 0},
		{0.5, 1 << 29},
		{5, 5 << 30},
	}
	for _, tt := range tests {
		if got := GBToBytes(tt.gb); got != tt.want {
			t.Errorf("GBToBytes(%v) = %d, want %d", tt.gb, got, tt.want)
		}
	}
}

func TestJobIDUnmarshal(t *testing.T) {
	tests := []struct {
		raw      string
		want     JobID
		missing  bool
		reencode string
	}{
		{`12345`, "12345", false, `12345`},
		{`"abc"`, "abc", false, `"abc"`},
		{`"0"`, "0", false, `0`},
		{`0`, "", true, `null`},
		{`null`, "", true, `null`},
		{`""`, "", true, `null`},
	}
	for _, tt := range tests {
		var id JobID
		if err := json.Unmarshal([]byte(tt.raw), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.raw, err)
		}
		if id != tt.want || id.IsZero() != tt.missing {
			t.Errorf("%s: got %q (zero=%v), want %q (zero=%v)", tt.raw, id, id.IsZero(), tt.want, tt.missing)
		}
		encoded, _ := json.Marshal(id)
		if string(encoded) != tt.reencode {
			t.Errorf("%s: re-encoded as %s, want %s", tt.raw, encoded, tt.reencode)
		}
	}
}
