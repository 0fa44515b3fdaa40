package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"bookrag/internal/domain"
)

// DefaultChunkSize is the section size limit, in characters, used when none is configured.
const DefaultChunkSize = 1000

var (
	// A heading whose whole text is wrapped in bold, as exported by Notion.
	boldHeadingRe = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+\*\*(.+?)\*\*[ \t]*$`)
	sectionRe     = regexp.MustCompile(`(?m)^## `)
)

var _ domain.Chunker = (*MarkdownChunker)(nil)

// MarkdownChunker splits markdown into chunks at level-2 headings and packs
// oversized sections paragraph by paragraph. Consecutive chunks do not overlap.
type MarkdownChunker struct {
	chunkSize int
}

func NewMarkdownChunker(chunkSize int) *MarkdownChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &MarkdownChunker{chunkSize: chunkSize}
}

// ChunkSize returns the configured limit in characters.
func (c *MarkdownChunker) ChunkSize() int { return c.chunkSize }

// Chunk returns the chunks of one document in document order.
func (c *MarkdownChunker) Chunk(markdown, sourceFile string) []domain.Chunk {
	text := NormalizeHeadings(strings.ReplaceAll(markdown, "\r\n", "\n"))

	var chunks []domain.Chunk
	for _, section := range splitSections(text) {
		if strings.TrimSpace(section) == "" {
			continue
		}
		meta := headingsOf(section)
		meta.SourceFile = sourceFile

		if utf8.RuneCountInString(section) <= c.chunkSize {
			chunks = appendChunk(chunks, meta, section)
			continue
		}

		// Greedy paragraph packing. A paragraph larger than the limit
		// ends up alone in its own chunk.
		var buf strings.Builder
		bufLen := 0
		for _, para := range strings.Split(section, "\n\n") {
			n := utf8.RuneCountInString(para)
			if bufLen+n > c.chunkSize {
				chunks = appendChunk(chunks, meta, buf.String())
				buf.Reset()
				bufLen = 0
			}
			buf.WriteString(para)
			buf.WriteString("\n\n")
			bufLen += n + 2
		}
		chunks = appendChunk(chunks, meta, buf.String())
	}
	return chunks
}

// NormalizeHeadings strips bold markers wrapping a heading's text.
// It repeats until nothing changes, so applying it twice is a no-op.
func NormalizeHeadings(text string) string {
	for {
		out := boldHeadingRe.ReplaceAllString(text, "$1 $2")
		if out == text {
			return out
		}
		text = out
	}
}

// splitSections cuts text before every line that starts a level-2 heading.
func splitSections(text string) []string {
	locs := sectionRe.FindAllStringIndex(text, -1)
	sections := make([]string, 0, len(locs)+1)
	start := 0
	for _, loc := range locs {
		if loc[0] > start {
			sections = append(sections, text[start:loc[0]])
		}
		start = loc[0]
	}
	return append(sections, text[start:])
}

// headingsOf returns the first level-1, level-2 and level-3 heading of a section.
func headingsOf(section string) domain.Chunk {
	var meta domain.Chunk
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "# "):
			if meta.Titulo == "" {
				meta.Titulo = strings.TrimSpace(line[2:])
			}
		case strings.HasPrefix(line, "## "):
			if meta.Seccion == "" {
				meta.Seccion = strings.TrimSpace(line[3:])
			}
		case strings.HasPrefix(line, "### "):
			if meta.Subseccion == "" {
				meta.Subseccion = strings.TrimSpace(line[4:])
			}
		}
	}
	return meta
}

func appendChunk(chunks []domain.Chunk, meta domain.Chunk, content string) []domain.Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return chunks
	}
	meta.Content = content
	return append(chunks, meta)
}
