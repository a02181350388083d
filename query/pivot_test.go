package query

import "testing"

func TestPivotCooccurrenceFillsMissingPairsWithZero(t *testing.T) {
	counts := []CooccurrenceCount{
		{Source: "NOUN=cat", Target: "ADJ=big", Frequency: 3},
		{Source: "NOUN=dog", Target: "ADJ=small", Frequency: 1},
	}

	matrix := PivotCooccurrence(counts)

	if got := matrix["NOUN=cat"]["ADJ=big"]; got != 3 {
		t.Errorf("matrix[cat][big] = %d, want 3", got)
	}
	if got := matrix["NOUN=cat"]["ADJ=small"]; got != 0 {
		t.Errorf("matrix[cat][small] = %d, want 0 (unseen pair filled)", got)
	}
	if got := matrix["NOUN=dog"]["ADJ=big"]; got != 0 {
		t.Errorf("matrix[dog][big] = %d, want 0 (unseen pair filled)", got)
	}
	if len(matrix) != 2 {
		t.Errorf("len(matrix) = %d, want 2 sources", len(matrix))
	}
	for src, row := range matrix {
		if len(row) != 2 {
			t.Errorf("len(matrix[%q]) = %d, want 2 targets", src, len(row))
		}
	}
}
