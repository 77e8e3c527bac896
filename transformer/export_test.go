package transformer

import (
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := tinyConfig()
	src, err := New(cfg, 11)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "model.gob")
	if err := Save(src, path); err != nil {
		t.Fatal(err)
	}

	dst, err := New(cfg, 99) // different init, same architecture
	if err != nil {
		t.Fatal(err)
	}
	if err := Load(dst, path); err != nil {
		t.Fatal(err)
	}

	for _, p := range src.Params() {
		q := dst.Param(p.Name)
		r, c := p.W.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if p.W.At(i, j) != q.W.At(i, j) {
					t.Fatalf("parameter %q differs at (%d,%d) after round trip", p.Name, i, j)
				}
			}
		}
	}

	// Tying survives a load: the restored wte is still the model's embedding.
	if dst.Param("wte").W != dst.Wte {
		t.Fatal("load broke weight tying")
	}
}

func TestLoadRejectsArchitectureMismatch(t *testing.T) {
	cfg := tinyConfig()
	src, err := New(cfg, 1)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "model.gob")
	if err := Save(src, path); err != nil {
		t.Fatal(err)
	}

	other := cfg
	other.NLayer = 3
	dst, err := New(other, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := Load(dst, path); err == nil {
		t.Fatal("expected error loading checkpoint into mismatched architecture")
	}
}

func TestGradsShapeCheck(t *testing.T) {
	m, err := New(tinyConfig(), 5)
	if err != nil {
		t.Fatal(err)
	}
	g := NewGrads(m.Params())
	if err := g.ShapeCheck(m.Params()); err != nil {
		t.Fatal(err)
	}
	if err := g[:len(g)-1].ShapeCheck(m.Params()); err == nil {
		t.Fatal("expected error for truncated gradient set")
	}
}

func TestNumParams(t *testing.T) {
	cfg := tinyConfig()
	m, err := New(cfg, 5)
	if err != nil {
		t.Fatal(err)
	}
	d := cfg.DModel
	// wte + wpe + per block (qkv, attn out, mlp, two norms) + final norm;
	// the tied unembedding adds nothing.
	want := d*cfg.VocabSize + d*cfg.BlockSize
	perBlock := (3*d*d + 3*d) + (d*d + d) + (4*d*d + 4*d + 4*d*d + d) + 4*d
	want += cfg.NLayer*perBlock + 2*d
	if got := m.NumParams(); got != want {
		t.Fatalf("NumParams = %d, want %d", got, want)
	}
}
