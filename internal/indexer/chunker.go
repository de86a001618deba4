package indexer

import (
	"context"
	"regexp"
	"strings"

	"github.com/bhanu1232/RepoRAG/internal/core"
)

// Token-budget constants, expressed in bytes since embedder providers price
// tokens at roughly 4 bytes each for source code.
const (
	targetChunkBytes = 2000 // T: ~512 tokens
	maxChunkBytes    = 4096 // T_max: ~1024 tokens
	minFileBytes     = 100  // T_min
	overlapBytes     = 200  // O: ~10% of T
)

// declPatternsByLanguage finds a language-aware top-level declaration
// boundary: a function, class, struct, interface, or impl header. It
// generalizes the teacher's per-language fn/class regexes into one
// preference table keyed by language, since the windowing chunker (unlike
// the teacher's original per-declaration AST/brace-counting chunker) only
// needs a boundary line number, not a parsed declaration.
var declPatternsByLanguage = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`^\s*func\s+`),
	"python":     regexp.MustCompile(`^\s*(def|class)\s+\w+`),
	"javascript": regexp.MustCompile(`^\s*(function\s+\w+|class\s+\w+|(const|let|var)\s+\w+\s*=\s*(\([^)]*\)\s*=>|function))`),
	"typescript": regexp.MustCompile(`^\s*(function\s+\w+|class\s+\w+|export\s+(function|class|interface)\s+\w+|(const|let|var)\s+\w+\s*=\s*(\([^)]*\)\s*=>|function))`),
	"java":       regexp.MustCompile(`^\s*(public|private|protected)?\s*(static)?\s*(class|interface)\s+\w+|^\s*(public|private|protected)[\w<>\[\]]*\s+\w+\s*\(`),
	"rust":       regexp.MustCompile(`^\s*(fn|struct|impl|trait)\s+`),
	"c":          regexp.MustCompile(`^\s*\w[\w\s\*]*\(\w`),
	"cpp":        regexp.MustCompile(`^\s*\w[\w\s\*:]*\(\w|^\s*class\s+\w+`),
	"ruby":       regexp.MustCompile(`^\s*(def|class|module)\s+\w+`),
	"php":        regexp.MustCompile(`^\s*(function|class)\s+\w+`),
}

// WindowChunker implements the target-size/overlap/boundary-preference
// chunking contract shared across all languages.
type WindowChunker struct{}

// NewWindowChunker builds a WindowChunker.
func NewWindowChunker() *WindowChunker { return &WindowChunker{} }

// Chunk splits file.Bytes into chunks. Files under minFileBytes produce a
// single chunk, or none at all if the content is empty or whitespace-only.
func (c *WindowChunker) Chunk(ctx context.Context, repoID string, file core.FileRecord) ([]core.Chunk, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	text := string(file.Bytes)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lines := strings.Split(text, "\n")

	if len(text) < minFileBytes {
		return []core.Chunk{c.build(repoID, file, lines, 1, len(lines))}, nil
	}

	declPattern := declPatternsByLanguage[file.Language]

	var chunks []core.Chunk
	start := 1 // 1-indexed, inclusive
	for start <= len(lines) {
		end := c.findEnd(lines, start, declPattern)
		chunk := c.build(repoID, file, lines, start, end)
		if strings.TrimSpace(chunk.Text) != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(lines) {
			break
		}

		// Next chunk starts overlapBytes back from end, never before
		// start+1, so consecutive chunks make progress on dense files.
		next := c.backOff(lines, end, overlapBytes)
		if next <= start {
			next = end + 1
		}
		start = next
	}

	return chunks, nil
}

// findEnd returns the last 1-indexed line to include in a chunk starting
// at start, preferring in order: the line before the next declaration
// boundary past the target size, a blank-line paragraph boundary, then the
// first newline at or after the target size. Never returns a line past
// maxChunkBytes worth of content from start.
func (c *WindowChunker) findEnd(lines []string, start int, declPattern *regexp.Regexp) int {
	size := 0
	targetEnd := -1
	maxEnd := len(lines)

	for i := start; i <= len(lines); i++ {
		line := lines[i-1]
		size += len(line) + 1

		if targetEnd == -1 && size >= targetChunkBytes {
			targetEnd = i
		}
		if size >= maxChunkBytes {
			maxEnd = i
			break
		}
	}
	if targetEnd == -1 {
		targetEnd = maxEnd
	}

	// Prefer a declaration boundary between start and maxEnd, past the
	// target: the line immediately before a new declaration header.
	if declPattern != nil {
		for i := targetEnd + 1; i <= maxEnd && i <= len(lines); i++ {
			if declPattern.MatchString(lines[i-1]) {
				return i - 1
			}
		}
	}

	// Next, prefer a blank-line paragraph boundary at or after the target.
	for i := targetEnd; i <= maxEnd && i <= len(lines); i++ {
		if strings.TrimSpace(lines[i-1]) == "" {
			return i
		}
	}

	if targetEnd > len(lines) {
		targetEnd = len(lines)
	}
	return targetEnd
}

// backOff walks back from line `end` until roughly budget bytes have been
// consumed, returning the 1-indexed line to resume from.
func (c *WindowChunker) backOff(lines []string, end, budget int) int {
	size := 0
	for i := end; i >= 1; i-- {
		size += len(lines[i-1]) + 1
		if size >= budget {
			return i
		}
	}
	return 1
}

func (c *WindowChunker) build(repoID string, file core.FileRecord, lines []string, start, end int) core.Chunk {
	if end > len(lines) {
		end = len(lines)
	}
	text := strings.Join(lines[start-1:end], "\n")
	hash := core.ContentHash(text)

	return core.Chunk{
		ID:        core.GenerateChunkID(repoID, file.Path, start, end, hash),
		RepoID:    repoID,
		Text:      text,
		Path:      file.Path,
		StartLine: start,
		EndLine:   end,
		Category:  file.Category,
		Language:  file.Language,
		Depth:     file.Depth,
	}
}
