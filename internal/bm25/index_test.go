package bm25

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestIndex() *Index {
	idx := NewIndex()
	idx.Build(context.Background(), []Document{
		{ID: "a", Text: "the quick brown fox jumps over the lazy dog"},
		{ID: "b", Text: "a completely unrelated document about databases"},
		{ID: "c", Text: "fox fox fox dog dog quick"},
	})
	return idx
}

func TestIndexSearchRanksByRelevance(t *testing.T) {
	idx := buildTestIndex()

	results := idx.Search("fox dog", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "c", results[0].ID, "doc with highest term frequency for the query should rank first")
}

func TestIndexSearchEmptyQueryReturnsNoResults(t *testing.T) {
	idx := buildTestIndex()
	assert.Empty(t, idx.Search("", 10))
}

func TestIndexSearchUnseenTermReturnsNoResults(t *testing.T) {
	idx := buildTestIndex()
	assert.Empty(t, idx.Search("zzzznoexist", 10))
}

func TestIndexSearchRespectsTopK(t *testing.T) {
	idx := buildTestIndex()
	results := idx.Search("document", 1)
	assert.LessOrEqual(t, len(results), 1)
}

func TestIndexEmptyBeforeBuild(t *testing.T) {
	idx := NewIndex()
	assert.Empty(t, idx.Search("fox", 10))
}

func TestShouldRebuildDetectsDrift(t *testing.T) {
	idx := buildTestIndex() // built with 3 docs

	assert.False(t, idx.ShouldRebuild(3))
	assert.True(t, idx.ShouldRebuild(10))
}

func TestShouldRebuildOnFirstPopulation(t *testing.T) {
	idx := NewIndex()
	assert.True(t, idx.ShouldRebuild(5))
	assert.False(t, idx.ShouldRebuild(0))
}
