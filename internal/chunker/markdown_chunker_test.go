package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkShortDocumentIsOneChunkPerSection(t *testing.T) {
	doc := "# Libro\n\nIntro.\n\n## Uno\n\nTexto uno.\n\n### Detalle\n\nMas.\n\n## Dos\n\nTexto dos."
	chunks := NewMarkdownChunker(1000).Chunk(doc, "a.md")
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %#v", len(chunks), chunks)
	}
	if chunks[0].Titulo != "Libro" || chunks[0].Seccion != "" {
		t.Errorf("leading section metadata = %+v", chunks[0])
	}
	if chunks[1].Seccion != "Uno" || chunks[1].Subseccion != "Detalle" || chunks[1].Titulo != "" {
		t.Errorf("second section metadata = %+v", chunks[1])
	}
	if chunks[2].Seccion != "Dos" || chunks[2].Subseccion != "" {
		t.Errorf("third section metadata = %+v", chunks[2])
	}
	for _, c := range chunks {
		if c.SourceFile != "a.md" {
			t.Errorf("source file = %q", c.SourceFile)
		}
	}
	if !strings.HasPrefix(chunks[1].Content, "## Uno") {
		t.Errorf("heading should be kept in content, got %q", chunks[1].Content)
	}
}

func TestChunkFirstHeadingPerLevelWins(t *testing.T) {
	doc := "## Primera\n\n### A\n\ntexto\n\n### B\n\nmas texto"
	chunks := NewMarkdownChunker(1000).Chunk(doc, "x.md")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Subseccion != "A" {
		t.Errorf("subseccion = %q, want A", chunks[0].Subseccion)
	}
}

func TestChunkDeeperHeadingsAreNotSubsections(t *testing.T) {
	chunks := NewMarkdownChunker(1000).Chunk("## S\n\n#### Cuatro\n\ntexto", "x.md")
	if chunks[0].Subseccion != "" {
		t.Errorf("level-4 heading leaked into subseccion: %q", chunks[0].Subseccion)
	}
}

func TestChunkStripsBoldHeadings(t *testing.T) {
	chunks := NewMarkdownChunker(1000).Chunk("# **Titulo**\n\n## **Seccion**  \n\ncuerpo", "x.md")
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Titulo != "Titulo" || chunks[1].Seccion != "Seccion" {
		t.Errorf("bold markers not stripped: %+v", chunks)
	}
	if strings.Contains(chunks[1].Content, "**") {
		t.Errorf("content still bold: %q", chunks[1].Content)
	}
}

func TestNormalizeHeadingsIsIdempotent(t *testing.T) {
	cases := []string{
		"# **A**\ntext **bold** stays\n",
		"###### **Deep**",
		"## ****Nested****",
		"no headings at all",
		"#**NoSpace**",
	}
	for _, in := range cases {
		once := NormalizeHeadings(in)
		twice := NormalizeHeadings(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q != %q", in, once, twice)
		}
	}
	if got := NormalizeHeadings("text **bold** stays"); got != "text **bold** stays" {
		t.Errorf("body bold should be untouched, got %q", got)
	}
}

func TestChunkSplitsOversizedSectionByParagraph(t *testing.T) {
	p := strings.Repeat("x", 20)
	doc := "## S\n\n" + p + "\n\n" + p + "\n\n" + p
	chunks := NewMarkdownChunker(30).Chunk(doc, "x.md")
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %#v", len(chunks), chunks)
	}
	for i, c := range chunks {
		if c.Seccion != "S" {
			t.Errorf("chunk %d lost section metadata: %+v", i, c)
		}
		if n := utf8.RuneCountInString(c.Content); n > 30 {
			t.Errorf("chunk %d has %d chars, limit 30", i, n)
		}
	}
}

func TestChunkKeepsOversizedParagraphWhole(t *testing.T) {
	big := strings.Repeat("y", 50)
	chunks := NewMarkdownChunker(20).Chunk("## S\n\n"+big+"\n\ncola", "x.md")
	found := false
	for _, c := range chunks {
		if c.Content == big {
			found = true
		}
	}
	if !found {
		t.Fatalf("oversized paragraph should be its own chunk: %#v", chunks)
	}
}

func TestChunkLimitIsInclusive(t *testing.T) {
	doc := "aaaa\n\nbbbb" // 10 characters
	if got := NewMarkdownChunker(10).Chunk(doc, "x.md"); len(got) != 1 {
		t.Errorf("section equal to limit should be one chunk, got %d", len(got))
	}
	if got := NewMarkdownChunker(9).Chunk(doc, "x.md"); len(got) != 2 {
		t.Errorf("section over limit should split, got %d", len(got))
	}
}

func TestChunkCountsCharactersNotBytes(t *testing.T) {
	doc := strings.Repeat("ñ", 10) // 20 bytes
	if got := NewMarkdownChunker(10).Chunk(doc, "x.md"); len(got) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(got))
	}
}

func TestChunkDropsEmptySections(t *testing.T) {
	if got := NewMarkdownChunker(100).Chunk("   \n\n  ", "x.md"); len(got) != 0 {
		t.Errorf("expected no chunks, got %d", len(got))
	}
	got := NewMarkdownChunker(100).Chunk("## A\n\ntexto", "x.md")
	if len(got) != 1 {
		t.Errorf("empty leading section should be dropped, got %d chunks", len(got))
	}
}

func TestChunkReconstructsDocument(t *testing.T) {
	doc := "# T\n\nIntro paragraph.\n\n## A\n\n" + strings.Repeat("alpha beta. ", 20) +
		"\n\n" + strings.Repeat("gamma delta. ", 15) + "\n\n### A.1\n\nfin.\n\n## B\n\nultimo"
	chunks := NewMarkdownChunker(120).Chunk(doc, "x.md")
	var parts []string
	for _, c := range chunks {
		parts = append(parts, c.Content)
	}
	got := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	want := strings.Join(strings.Fields(doc), " ")
	if got != want {
		t.Errorf("reconstruction mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestNewMarkdownChunkerDefaultsSize(t *testing.T) {
	if got := NewMarkdownChunker(0).ChunkSize(); got != DefaultChunkSize {
		t.Errorf("chunk size = %d, want %d", got, DefaultChunkSize)
	}
}
