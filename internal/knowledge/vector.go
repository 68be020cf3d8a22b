package knowledge

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

var indexMagic = [4]byte{'B', 'K', 'I', 'X'}

const indexFormatVersion uint32 = 1

// writeIndex stores vectors as a little-endian float32 matrix behind a small header.
func writeIndex(w io.Writer, vectors [][]float32, dims int) error {
	bw := bufio.NewWriter(w)
	header := []any{indexMagic, indexFormatVersion, uint32(len(vectors)), uint32(dims)}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for i, vec := range vectors {
		if len(vec) != dims {
			return fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(vec), dims)
		}
		if err := binary.Write(bw, binary.LittleEndian, vec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func readIndex(r io.Reader) ([][]float32, error) {
	br := bufio.NewReader(r)
	var (
		magic   [4]byte
		version uint32
		count   uint32
		dims    uint32
	)
	for _, v := range []any{&magic, &version, &count, &dims} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("read index header: %w", err)
		}
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("not an index file")
	}
	if version != indexFormatVersion {
		return nil, fmt.Errorf("unsupported index version %d", version)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		vec := make([]float32, dims)
		if err := binary.Read(br, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type scored struct {
	idx   int
	score float64
}

// topK returns the indexes of the k vectors most similar to query, best first.
// Ties keep index order so results are stable.
func topK(query []float32, vectors [][]float32, k int) []scored {
	if k <= 0 {
		return nil
	}
	all := make([]scored, 0, len(vectors))
	for i, v := range vectors {
		all = append(all, scored{idx: i, score: cosine(query, v)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
