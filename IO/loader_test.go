package IO

import "testing"

func seqTokens(n int) []int {
	ts := make([]int, n)
	for i := range ts {
		ts[i] = i
	}
	return ts
}

func TestNewLoaderValidation(t *testing.T) {
	if _, err := NewLoader(seqTokens(16), 2, 8); err == nil {
		t.Fatal("expected error: 16 tokens cannot fill a 2x8 batch plus target shift")
	}
	if _, err := NewLoader(seqTokens(17), 0, 8); err == nil {
		t.Fatal("expected error for zero batch size")
	}
	if _, err := NewLoader(seqTokens(17), 2, 8); err != nil {
		t.Fatalf("17 tokens should be exactly enough: %v", err)
	}
}

func TestNextBatchWindows(t *testing.T) {
	l, err := NewLoader(seqTokens(65), 2, 8)
	if err != nil {
		t.Fatal(err)
	}
	xs, ys := l.NextBatch()
	if len(xs) != 2 || len(ys) != 2 {
		t.Fatalf("got %d/%d sequences, want 2/2", len(xs), len(ys))
	}
	for b := 0; b < 2; b++ {
		for i := 0; i < 8; i++ {
			if xs[b][i] != b*8+i {
				t.Fatalf("input[%d][%d] = %d, want %d", b, i, xs[b][i], b*8+i)
			}
			if ys[b][i] != xs[b][i]+1 {
				t.Fatalf("target[%d][%d] = %d, want input+1", b, i, ys[b][i])
			}
		}
	}
}

func TestLoaderCoversCorpusThenWraps(t *testing.T) {
	// 65 = 4 batches of 2x8 plus the one-token target shift.
	l, err := NewLoader(seqTokens(65), 2, 8)
	if err != nil {
		t.Fatal(err)
	}
	if l.BatchesPerEpoch() != 4 {
		t.Fatalf("BatchesPerEpoch = %d, want 4", l.BatchesPerEpoch())
	}

	seen := make(map[int]bool)
	for batch := 0; batch < 4; batch++ {
		xs, ys := l.NextBatch()
		for b := range xs {
			for _, tok := range xs[b] {
				seen[tok] = true
			}
			seen[ys[b][len(ys[b])-1]] = true
		}
	}
	if len(seen) != 65 {
		t.Fatalf("one epoch visited %d distinct tokens, want all 65", len(seen))
	}

	// fifth batch wraps to the start rather than failing
	xs, _ := l.NextBatch()
	if xs[0][0] != 0 {
		t.Fatalf("after wrap first token = %d, want 0", xs[0][0])
	}
}

func TestResetIsDeterministic(t *testing.T) {
	l, err := NewLoader(seqTokens(65), 2, 8)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := l.NextBatch()
	l.NextBatch()
	l.Reset()
	b, _ := l.NextBatch()
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatal("batch after Reset differs from the first batch")
			}
		}
	}
}
