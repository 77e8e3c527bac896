package IO

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// EndOfText is the reserved document separator in the GPT-2 vocabulary.
const EndOfText = "<|endoftext|>"

// LoadTokens reads a plain-text corpus fully into memory and encodes it into
// one ordered token-id sequence.
//
// encoding selects the subword encoder: "gpt2" uses the fixed GPT-2 BPE
// (ids fit a vocab of 50257; pad the model vocab up from there), "bpe"
// trains a byte-pair vocabulary of vocabSize on the corpus itself.
//
// Encoded ids are cached next to the corpus in a .bin sidecar so repeat runs
// skip re-encoding.
func LoadTokens(path, encoding string, vocabSize int) ([]int, error) {
	cache := fmt.Sprintf("%s.%s.bin", path, encoding)
	if ids, err := readTokenCache(cache); err == nil {
		return ids, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}

	var ids []int
	switch encoding {
	case "gpt2":
		enc, err := tiktoken.GetEncoding("gpt2")
		if err != nil {
			return nil, fmt.Errorf("load gpt2 encoding: %w", err)
		}
		ids = enc.Encode(string(raw), []string{EndOfText}, nil)
	case "bpe":
		tok, err := TrainOrLoadBPE(path, path+".tokenizer.json", vocabSize)
		if err != nil {
			return nil, fmt.Errorf("train bpe tokenizer: %w", err)
		}
		ids, err = EncodeBPE(tok, string(raw))
		if err != nil {
			return nil, fmt.Errorf("encode corpus: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown encoding %q (want gpt2 or bpe)", encoding)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("corpus %s encoded to zero tokens", path)
	}
	// cache failures are non-fatal; next run just re-encodes
	_ = writeTokenCache(cache, ids)
	return ids, nil
}

// Token caches are concatenated little-endian uint32 ids.

func writeTokenCache(path string, ids []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	buf4 := make([]byte, 4)
	for _, id := range ids {
		binary.LittleEndian.PutUint32(buf4, uint32(id))
		if _, err := w.Write(buf4); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readTokenCache(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var ids []int
	buf4 := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, buf4); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		ids = append(ids, int(binary.LittleEndian.Uint32(buf4)))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty token cache %s", path)
	}
	return ids, nil
}
