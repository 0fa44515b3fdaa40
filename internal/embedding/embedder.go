// Package embedding holds the helpers shared by the embedding backends.
// Backends implement domain.Embedder.
package embedding

import "fmt"

// Batches splits texts into consecutive groups of at most size elements.
func Batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = len(texts)
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		out = append(out, texts[start:end])
	}
	return out
}

// CheckVectors verifies there is one non-empty vector per input and, when
// dims is positive, that every vector has that many components.
func CheckVectors(vectors [][]float32, want, dims int) error {
	if len(vectors) != want {
		return fmt.Errorf("got %d embeddings for %d inputs", len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("empty embedding at index %d", i)
		}
		if dims > 0 && len(v) != dims {
			return fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dims)
		}
	}
	return nil
}
