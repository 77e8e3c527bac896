package IO

import (
	"os"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/models"
	"github.com/sugarme/tokenizer/normalizers"
	"github.com/sugarme/tokenizer/pretokenizers"
	"github.com/sugarme/tokenizer/trainers"
)

// TrainOrLoadBPE trains a BPE tokenizer of vocabSize on corpusPath, saving
// it to tokPath, or loads an already-trained one from tokPath. Used for
// corpora where the fixed GPT-2 vocabulary is a poor fit.
func TrainOrLoadBPE(corpusPath, tokPath string, vocabSize int) (*tk.Tokenizer, error) {
	if _, err := os.Stat(tokPath); err == nil {
		return tk.FromFile(tokPath)
	}

	bpe := models.NewBPE()
	t := tk.NewTokenizer(bpe)
	t.WithNormalizer(normalizers.NewSequence(
		normalizers.NewNFKC(),
		normalizers.NewLowercase(),
	))
	t.WithPreTokenizer(pretokenizers.NewWhitespaceSplit())

	tr := trainers.NewBpeTrainer()
	tr.VocabSize = vocabSize
	tr.SpecialTokens = []string{"<pad>", "<bos>", "<eos>", "<unk>"}

	if err := t.Train(tr, []string{corpusPath}); err != nil {
		return nil, err
	}
	if err := t.Save(tokPath); err != nil {
		return nil, err
	}
	return t, nil
}

// EncodeBPE encodes raw text into token ids with a trained tokenizer.
func EncodeBPE(t *tk.Tokenizer, text string) ([]int, error) {
	enc, err := t.EncodeSingle(text)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(enc.Ids))
	for i, v := range enc.Ids {
		out[i] = int(v)
	}
	return out, nil
}
