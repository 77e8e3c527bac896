package IO

import "fmt"

// Loader slides a cursor over a fixed token sequence, handing out B
// contiguous windows of T+1 tokens per batch, split into inputs (first T)
// and targets (shifted by one). Fully deterministic: no shuffling, the
// cursor wraps to 0 when the next batch would run past the end, and Reset
// restarts the order from the beginning.
type Loader struct {
	tokens []int
	B, T   int
	cur    int
}

func NewLoader(tokens []int, batchSize, seqLen int) (*Loader, error) {
	if batchSize <= 0 || seqLen <= 0 {
		return nil, fmt.Errorf("loader: batch size and sequence length must be positive, got %d/%d",
			batchSize, seqLen)
	}
	need := batchSize*seqLen + 1
	if len(tokens) < need {
		return nil, fmt.Errorf("loader: corpus has %d tokens, need at least %d for one batch",
			len(tokens), need)
	}
	return &Loader{tokens: tokens, B: batchSize, T: seqLen}, nil
}

// NextBatch returns the next B (input, target) window pairs and advances the
// cursor by B*T tokens.
func (l *Loader) NextBatch() (inputs, targets [][]int) {
	buff := l.tokens[l.cur : l.cur+l.B*l.T+1]
	inputs = make([][]int, l.B)
	targets = make([][]int, l.B)
	for b := 0; b < l.B; b++ {
		window := buff[b*l.T : b*l.T+l.T+1]
		inputs[b] = window[:l.T]
		targets[b] = window[1:]
	}
	l.cur += l.B * l.T
	if l.cur+l.B*l.T+1 > len(l.tokens) {
		l.cur = 0
	}
	return inputs, targets
}

// Reset rewinds to the start of the sequence.
func (l *Loader) Reset() { l.cur = 0 }

// Len is the corpus length in tokens.
func (l *Loader) Len() int { return len(l.tokens) }

// BatchesPerEpoch is how many batches fit before the cursor wraps.
func (l *Loader) BatchesPerEpoch() int { return len(l.tokens) / (l.B * l.T) }
