package transformer

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// Checkpoints are a gob-encoded list of named dense tensors written once at
// the end of training. Optimizer state is deliberately not serialized.

type tensorData struct {
	Name string
	Tag  string
	R, C int
	Data []float64
}

type checkpointData struct {
	NLayer, NHead, DModel, BlockSize, VocabSize int
	Tensors                                     []tensorData
}

// Save writes every registered parameter to path.
func Save(m *Model, path string) error {
	data := checkpointData{
		NLayer:    m.Cfg.NLayer,
		NHead:     m.Cfg.NHead,
		DModel:    m.Cfg.DModel,
		BlockSize: m.Cfg.BlockSize,
		VocabSize: m.Cfg.VocabSize,
	}
	for _, p := range m.Params() {
		r, c := p.W.Dims()
		raw := mat.DenseCopyOf(p.W).RawMatrix()
		data.Tensors = append(data.Tensors, tensorData{
			Name: p.Name,
			Tag:  p.Tag,
			R:    r,
			C:    c,
			Data: append([]float64(nil), raw.Data...),
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Load restores parameters saved by Save into a model with a matching
// architecture, copying values in place so tied storage stays tied.
func Load(m *Model, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var data checkpointData
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	if data.NLayer != m.Cfg.NLayer || data.NHead != m.Cfg.NHead ||
		data.DModel != m.Cfg.DModel || data.BlockSize != m.Cfg.BlockSize ||
		data.VocabSize != m.Cfg.VocabSize {
		return fmt.Errorf("checkpoint architecture %dL/%dH/%d does not match model %dL/%dH/%d",
			data.NLayer, data.NHead, data.DModel, m.Cfg.NLayer, m.Cfg.NHead, m.Cfg.DModel)
	}
	for _, td := range data.Tensors {
		p := m.Param(td.Name)
		if p == nil {
			return fmt.Errorf("checkpoint has unknown parameter %q", td.Name)
		}
		r, c := p.W.Dims()
		if r != td.R || c != td.C {
			return fmt.Errorf("checkpoint tensor %q is (%dx%d), model expects (%dx%d)",
				td.Name, td.R, td.C, r, c)
		}
		p.W.Copy(mat.NewDense(td.R, td.C, td.Data))
	}
	return nil
}
