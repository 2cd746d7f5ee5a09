package threatpipeline

import "testing"

func TestSemanticHashLength(t *testing.T) {
	got := SemanticHash(LevelHigh, "VIOLENCE", "Active shooter reported near the market", []string{"shooter", "market"}, nil)
	if len(got) != semanticHashLength {
		t.Errorf("len(SemanticHash(...)) = %d, want %d", len(got), semanticHashLength)
	}
}

func TestSemanticHashDeterministic(t *testing.T) {
	locs := []Location{{Lat: 47.6062, Lng: -122.3321}}
	a := SemanticHash(LevelHigh, "VIOLENCE", "same summary text", []string{"a", "b"}, locs)
	b := SemanticHash(LevelHigh, "VIOLENCE", "same summary text", []string{"a", "b"}, locs)
	if a != b {
		t.Errorf("SemanticHash is not deterministic: %q != %q", a, b)
	}
}

func TestSemanticHashIgnoresKeywordOrder(t *testing.T) {
	a := SemanticHash(LevelHigh, "VIOLENCE", "same summary", []string{"alpha", "beta"}, nil)
	b := SemanticHash(LevelHigh, "VIOLENCE", "same summary", []string{"beta", "alpha"}, nil)
	if a != b {
		t.Error("SemanticHash should be invariant to keyword ordering")
	}
}

func TestSemanticHashIgnoresLocationOrder(t *testing.T) {
	locsA := []Location{{Lat: 1.234, Lng: 5.678}, {Lat: 9.012, Lng: 3.456}}
	locsB := []Location{{Lat: 9.012, Lng: 3.456}, {Lat: 1.234, Lng: 5.678}}
	a := SemanticHash(LevelHigh, "VIOLENCE", "same summary", nil, locsA)
	b := SemanticHash(LevelHigh, "VIOLENCE", "same summary", nil, locsB)
	if a != b {
		t.Error("SemanticHash should be invariant to location ordering")
	}
}

func TestSemanticHashRoundsLocationsToTwoDecimals(t *testing.T) {
	a := SemanticHash(LevelHigh, "VIOLENCE", "same summary", nil, []Location{{Lat: 1.23401, Lng: 5.67899}})
	b := SemanticHash(LevelHigh, "VIOLENCE", "same summary", nil, []Location{{Lat: 1.23499, Lng: 5.67801}})
	if a != b {
		t.Error("SemanticHash should round locations to 2 decimal places before hashing")
	}
}

func TestSemanticHashChangesWithSummaryBeyond100Chars(t *testing.T) {
	long := "a very long summary that goes on for quite a while describing an incident in great detail beyond the hundred char mark and then some extra trailing words that should be ignored entirely"
	short := long[:100]
	a := SemanticHash(LevelHigh, "VIOLENCE", long, nil, nil)
	b := SemanticHash(LevelHigh, "VIOLENCE", short+"completely different trailing content that would change the hash if not truncated at 100", nil, nil)
	if a != b {
		t.Error("SemanticHash should only consider the first 100 characters of summary")
	}
}

func TestSemanticHashDiffersOnLevel(t *testing.T) {
	a := SemanticHash(LevelLow, "VIOLENCE", "same summary", nil, nil)
	b := SemanticHash(LevelHigh, "VIOLENCE", "same summary", nil, nil)
	if a == b {
		t.Error("SemanticHash should differ when level differs")
	}
}
