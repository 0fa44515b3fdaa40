package memory

import (
	"context"
	"errors"
	"testing"

	"bookrag/internal/domain"
)

func chunks(n int) []domain.Chunk {
	out := make([]domain.Chunk, n)
	for i := range out {
		out[i] = domain.Chunk{Content: string(rune('a' + i)), SourceFile: "libro.md"}
	}
	return out
}

func TestCreateDeleteLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)

	if ok, _ := s.Exists(ctx, "ia"); ok {
		t.Fatal("collection should not exist yet")
	}
	if created, _ := s.Create(ctx, "ia"); !created {
		t.Fatal("first create should report true")
	}
	if created, _ := s.Create(ctx, "ia"); created {
		t.Fatal("second create should report false")
	}
	if deleted, _ := s.Delete(ctx, "ia"); !deleted {
		t.Fatal("delete of existing collection should report true")
	}
	if deleted, _ := s.Delete(ctx, "ia"); deleted {
		t.Fatal("delete of absent collection should report false")
	}
}

func TestSearchOrderThresholdAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)
	_, _ = s.Create(ctx, "ia")
	vecs := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	if n, err := s.Insert(ctx, "ia", chunks(3), vecs); err != nil || n != 3 {
		t.Fatalf("insert = %d, %v", n, err)
	}

	hits, err := s.Search(ctx, "ia", []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 || hits[0].Content != "a" || hits[1].Content != "c" {
		t.Fatalf("unexpected order %+v", hits)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatal("scores must be non-increasing")
		}
	}

	minScore := 0.5
	hits, _ = s.Search(ctx, "ia", []float32{1, 0}, 10, &minScore)
	if len(hits) != 2 {
		t.Fatalf("threshold should drop the orthogonal vector, got %d hits", len(hits))
	}
	hits, _ = s.Search(ctx, "ia", []float32{1, 0}, 1, nil)
	if len(hits) != 1 || hits[0].ChunkIndex != 0 {
		t.Fatalf("limit not honored: %+v", hits)
	}
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(2)

	if _, err := s.Insert(ctx, "nope", chunks(1), [][]float32{{1, 0}}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("insert into absent collection: %v", err)
	}
	_, _ = s.Create(ctx, "ia")
	if _, err := s.Insert(ctx, "ia", chunks(2), [][]float32{{1, 0}}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("length mismatch: %v", err)
	}
	if _, err := s.Insert(ctx, "ia", chunks(1), [][]float32{{1, 0, 0}}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("dimension mismatch: %v", err)
	}
	if n, _ := s.Count(ctx, "ia"); n != 0 {
		t.Fatalf("failed inserts must not store records, count = %d", n)
	}
}

func TestSearchAbsentCollection(t *testing.T) {
	_, err := NewStorage(0).Search(context.Background(), "x", []float32{1}, 3, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListStripsPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(0)
	_, _ = s.Create(ctx, "redes")
	_, _ = s.Create(ctx, "ia")
	ids, _ := s.List(ctx)
	if len(ids) != 2 || ids[0] != "ia" || ids[1] != "redes" {
		t.Fatalf("ids = %v", ids)
	}
}
