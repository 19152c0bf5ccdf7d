package models

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"vouch/internal/services"
)

// embeddingKeys are the tensor names checked, in order, when loading an
// identity embedding table. Checkpoints exported from a wrapped training
// module carry a "module." prefix on every key.
var embeddingKeys = []string{
	"embedding.weight",
	"weight",
	"identity_embedding.weight",
}

type safetensorInfo struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// EmbeddingTable is a safetensors-backed identity embedding lookup.
type EmbeddingTable struct {
	table []float32
	count int
	dim   int
}

// OpenEmbeddingTable reads the identity embedding matrix from a
// safetensors file. The matrix must be two dimensional; fp16 weights are
// widened to fp32 on load.
func OpenEmbeddingTable(path string, wantDim int) (*EmbeddingTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "models", "embedding", "read "+path, err)
	}
	if len(raw) < 8 {
		return nil, services.Wrap(services.ErrModelLoad, "models", "embedding",
			fmt.Sprintf("file too small: %d bytes", len(raw)), nil)
	}

	headerLen := binary.LittleEndian.Uint64(raw[:8])
	if headerLen > uint64(len(raw)-8) {
		return nil, services.Wrap(services.ErrModelLoad, "models", "embedding",
			fmt.Sprintf("header length %d exceeds file size %d", headerLen, len(raw)), nil)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(raw[8:8+headerLen], &header); err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "models", "embedding", "parse header", err)
	}

	tensors := make(map[string]safetensorInfo, len(header))
	for key, value := range header {
		if key == "__metadata__" {
			continue
		}
		var info safetensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, services.Wrap(services.ErrModelLoad, "models", "embedding", "parse tensor "+key, err)
		}
		tensors[strings.TrimPrefix(key, "module.")] = info
	}

	var info safetensorInfo
	var found bool
	for _, key := range embeddingKeys {
		if candidate, ok := tensors[key]; ok {
			info = candidate
			found = true
			break
		}
	}
	if !found {
		names := make([]string, 0, len(tensors))
		for name := range tensors {
			names = append(names, name)
		}
		return nil, services.Wrap(services.ErrModelLoad, "models", "embedding",
			fmt.Sprintf("no embedding tensor among %v", names), nil)
	}
	if len(info.Shape) != 2 {
		return nil, services.Wrap(services.ErrModelLoad, "models", "embedding",
			fmt.Sprintf("embedding tensor must be 2D, got shape %v", info.Shape), nil)
	}

	count, dim := info.Shape[0], info.Shape[1]
	if wantDim > 0 && dim != wantDim {
		return nil, services.Wrap(services.ErrModelLoad, "models", "embedding",
			fmt.Sprintf("embedding dim %d, want %d", dim, wantDim), nil)
	}

	body := raw[8+headerLen:]
	if info.DataOffsets[1] > len(body) || info.DataOffsets[0] > info.DataOffsets[1] {
		return nil, services.Wrap(services.ErrModelLoad, "models", "embedding", "tensor offsets out of range", nil)
	}
	data := body[info.DataOffsets[0]:info.DataOffsets[1]]

	numel := count * dim
	table := make([]float32, numel)
	switch info.Dtype {
	case "F32":
		if len(data) != numel*4 {
			return nil, services.Wrap(services.ErrModelLoad, "models", "embedding", "data length mismatch", nil)
		}
		for i := range table {
			table[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	case "F16":
		if len(data) != numel*2 {
			return nil, services.Wrap(services.ErrModelLoad, "models", "embedding", "data length mismatch", nil)
		}
		for i := range table {
			table[i] = float16ToFloat32(binary.LittleEndian.Uint16(data[i*2:]))
		}
	default:
		return nil, services.Wrap(services.ErrModelLoad, "models", "embedding",
			"unsupported dtype "+info.Dtype, nil)
	}

	return &EmbeddingTable{table: table, count: count, dim: dim}, nil
}

// Embed returns the embedding row for a dense identity index.
func (e *EmbeddingTable) Embed(index int) ([]float32, error) {
	if index < 0 || index >= e.count {
		return nil, fmt.Errorf("models: embedding index %d outside [0, %d)", index, e.count)
	}
	out := make([]float32, e.dim)
	copy(out, e.table[index*e.dim:(index+1)*e.dim])
	return out, nil
}

// Dim returns the embedding dimension.
func (e *EmbeddingTable) Dim() int { return e.dim }

// Count returns the number of identities in the table.
func (e *EmbeddingTable) Count() int { return e.count }

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1F
	mant := uint32(h) & 0x3FF

	switch {
	case exp == 0:
		if mant == 0 {
			return math.Float32frombits(sign << 31)
		}
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3FF
		return math.Float32frombits((sign << 31) | ((exp + 112) << 23) | (mant << 13))
	case exp == 0x1F:
		if mant == 0 {
			return math.Float32frombits((sign << 31) | 0x7F800000)
		}
		return math.Float32frombits((sign << 31) | 0x7FC00000)
	default:
		return math.Float32frombits((sign << 31) | ((exp + 112) << 23) | (mant << 13))
	}
}
