package IO

import (
	"path/filepath"
	"testing"
)

func TestTokenCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.txt.gpt2.bin")
	ids := []int{0, 1, 50256, 7, 50303}
	if err := writeTokenCache(path, ids); err != nil {
		t.Fatal(err)
	}
	got, err := readTokenCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(ids) {
		t.Fatalf("cache returned %d ids, want %d", len(got), len(ids))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("id %d: got %d, want %d", i, got[i], ids[i])
		}
	}
}

func TestReadTokenCacheRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := writeTokenCache(path, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := readTokenCache(path); err == nil {
		t.Fatal("expected error for empty cache file")
	}
}

func TestLoadTokensUnknownEncoding(t *testing.T) {
	if _, err := LoadTokens("nonexistent.txt", "wordpiece", 1000); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}
