package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ContentHash hashes chunk text for deduplication and ID stability,
// generalizing the teacher's generateContentHash helper.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// GenerateChunkID derives a stable chunk identifier from the fields that
// define a chunk's identity: repo, path, line span, and content. Two
// ingests of byte-identical content at the same location produce the same
// ID, so re-indexing an unchanged file does not churn the vector store.
func GenerateChunkID(repoID, path string, startLine, endLine int, contentHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x1f%s\x1f%d\x1f%d\x1f%s", repoID, path, startLine, endLine, contentHash)))
	return hex.EncodeToString(sum[:])
}
