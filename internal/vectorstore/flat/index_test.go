package flat

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medrag/internal/domain"
	"medrag/internal/vectorstore"
)

const dim = 4

func newIndex(t *testing.T, dir string) *Index {
	t.Helper()
	idx, err := New(dir, dim, nil)
	require.NoError(t, err)
	return idx
}

func entry(file string, i int, content string) domain.Metadata {
	return domain.Metadata{
		DocumentID: "doc-" + file,
		Filename:   file,
		ChunkIndex: i,
		Content:    content,
		Language:   domain.LangEnglish,
	}
}

func longText(topic string) string {
	return strings.Repeat(topic+" guidance for adult patients in primary care. ", 3)
}

func TestIndex_EmptySearch(t *testing.T) {
	idx := newIndex(t, t.TempDir())
	got, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	stats, err := idx.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{Dimension: dim}, stats)
}

func TestIndex_AddUpdatesStats(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, t.TempDir())
	err := idx.Add(ctx,
		[][]float32{{1, 0, 0, 0}, {0, 2, 0, 0}},
		[]domain.Metadata{entry("a.txt", 0, longText("a")), entry("a.txt", 1, longText("b"))})
	require.NoError(t, err)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 2, stats.MetadataCount)
	assert.False(t, stats.Dirty)
	assert.InDelta(t, 1.0, idx.vectors[1][1], 1e-6)
}

func TestIndex_AddRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, t.TempDir())

	err := idx.Add(ctx, [][]float32{{1, 0, 0, 0}}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrLengthMismatch)

	err = idx.Add(ctx, [][]float32{{1, 0, 0}}, []domain.Metadata{entry("a.txt", 0, longText("a"))})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	stats, _ := idx.Stats(ctx)
	assert.Zero(t, stats.TotalDocuments)
	assert.Zero(t, stats.MetadataCount)
	assert.NoFileExists(t, filepath.Join(idx.dir, VectorsFile))

	require.NoError(t, idx.Add(ctx, nil, nil))
}

func TestIndex_SearchOrdersAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, t.TempDir())
	first := longText("Hypertension")
	require.NoError(t, idx.Add(ctx,
		[][]float32{
			{1, 0, 0, 0},
			{0.99, 0.1, 0, 0},
			{0.95, 0.2, 0, 0},
			{0.5, 0.5, 0, 0},
			{0, 0, 1, 0},
		},
		[]domain.Metadata{
			entry("a.txt", 0, first),
			entry("b.txt", 0, first+"but this copy has a different ending"),
			entry("c.txt", 0, "Short chunk."),
			entry("d.txt", 0, longText("Diabetes")),
			entry("e.txt", 0, longText("Asthma")),
		}))

	got, err := idx.Search(ctx, []float32{2, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.txt", got[0].Metadata.Filename)
	assert.Equal(t, "d.txt", got[1].Metadata.Filename)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
}

func TestIndex_SearchMayReturnFewerThanTopK(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, t.TempDir())
	require.NoError(t, idx.Add(ctx,
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		[]domain.Metadata{entry("a.txt", 0, longText("a")), entry("a.txt", 1, "tiny")}))

	got, err := idx.Search(ctx, []float32{1, 1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = idx.Search(ctx, []float32{1, 1}, 3)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestIndex_SearchHugeTopK(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, t.TempDir())
	require.NoError(t, idx.Add(ctx,
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		[]domain.Metadata{entry("a.txt", 0, longText("a")), entry("b.txt", 0, longText("b"))}))

	got, err := idx.Search(ctx, []float32{1, 0, 0, 0}, math.MaxInt)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.txt", got[0].Metadata.Filename)
}

func TestIndex_ReloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := newIndex(t, dir)
	entries := []domain.Metadata{entry("a.txt", 0, longText("a")), entry("a.txt", 1, longText("b"))}
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}, entries))
	require.NoError(t, idx.Add(ctx, [][]float32{{0, 0, 3, 4}}, []domain.Metadata{entry("日本.txt", 0, "高血圧"+longText("c"))}))

	reloaded := newIndex(t, dir)
	want, err := idx.Entries(ctx)
	require.NoError(t, err)
	got, err := reloaded.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, idx.vectors, reloaded.vectors)

	found, err := reloaded.Search(ctx, []float32{0, 0, 0.6, 0.8}, 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "日本.txt", found[0].Metadata.Filename)

	m, ok, err := reloaded.FindByFilename(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, m.ChunkIndex)
	_, ok, _ = reloaded.FindByFilename(ctx, "missing.txt")
	assert.False(t, ok)
}

func TestIndex_UnusableArtifactsStartEmpty(t *testing.T) {
	cases := map[string]func(t *testing.T, dir string){
		"missing metadata": func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, MetadataFile)))
		},
		"missing vectors": func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, VectorsFile)))
		},
		"corrupt vectors": func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), []byte("garbage"), 0o644))
		},
		"truncated vectors": func(t *testing.T, dir string) {
			path := filepath.Join(dir, VectorsFile)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0o644))
		},
		"corrupt metadata": func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte("not a database"), 0o644))
		},
		"count mismatch": func(t *testing.T, dir string) {
			require.NoError(t, writeMetadata(filepath.Join(dir, MetadataFile), []domain.Metadata{entry("x.txt", 0, "x")}))
		},
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			idx := newIndex(t, dir)
			require.NoError(t, idx.Add(ctx,
				[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
				[]domain.Metadata{entry("a.txt", 0, longText("a")), entry("a.txt", 1, longText("b"))}))

			corrupt(t, dir)

			reloaded := newIndex(t, dir)
			stats, err := reloaded.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, stats.TotalDocuments)
			assert.Zero(t, stats.MetadataCount)
		})
	}
}

func TestIndex_DimensionMismatchOnLoadStartsEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := newIndex(t, dir)
	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0, 0, 0}}, []domain.Metadata{entry("a.txt", 0, longText("a"))}))

	wider, err := New(dir, 8, nil)
	require.NoError(t, err)
	stats, _ := wider.Stats(ctx)
	assert.Zero(t, stats.TotalDocuments)
	assert.Equal(t, 8, stats.Dimension)
}

func TestIndex_PersistFailureKeepsMemoryAndMarksDirty(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	idx := newIndex(t, dir)
	require.NoError(t, os.RemoveAll(dir))

	err := idx.Add(ctx, [][]float32{{1, 0, 0, 0}}, []domain.Metadata{entry("a.txt", 0, longText("a"))})
	require.ErrorIs(t, err, vectorstore.ErrPersist)

	stats, _ := idx.Stats(ctx)
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, 1, stats.MetadataCount)
	assert.True(t, stats.Dirty)

	got, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, idx.Save())
	stats, _ = idx.Stats(ctx)
	assert.False(t, stats.Dirty)
	entries, err := newIndex(t, dir).Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIndex_ConcurrentAddsStayAligned(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t, t.TempDir())

	const workers, perWorker = 8, 5
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := w*perWorker + j + 1
				m := entry(fmt.Sprintf("w%d.txt", w), id, longText("concurrent"))
				assert.NoError(t, idx.Add(ctx, [][]float32{{float32(id), 1, 0, 0}}, []domain.Metadata{m}))
			}
		}(w)
	}
	wg.Wait()

	stats, _ := idx.Stats(ctx)
	assert.Equal(t, workers*perWorker, stats.TotalDocuments)
	assert.Equal(t, workers*perWorker, stats.MetadataCount)
	entries, err := idx.Entries(ctx)
	require.NoError(t, err)
	for i, m := range entries {
		v := idx.vectors[i]
		assert.InDelta(t, float64(m.ChunkIndex), float64(v[0]/v[1]), 1e-3)
	}
}
