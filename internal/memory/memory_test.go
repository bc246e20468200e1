package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/policyradar/policyradar/internal/observe"
)

// fakeEmbedder yields deterministic vectors without network calls.
type fakeEmbedder struct {
	calls int
	fail  bool
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text) % 7), 1, 0.5}
	}
	return out, nil
}

// fixedEmbedder returns the same vector for every input.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeIndex struct {
	chunks   map[string][]Chunk // sessionID -> chunks
	failNext bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{chunks: map[string][]Chunk{}}
}

func (f *fakeIndex) HasDocument(_ context.Context, sessionID, docKey, docHash, embeddingKey string) (bool, error) {
	if f.failNext {
		return false, errors.New("vector store unavailable")
	}
	for _, c := range f.chunks[sessionID] {
		if c.DocKey == docKey && c.DocHash == docHash && c.EmbeddingKey == embeddingKey {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeIndex) ReplaceDocument(_ context.Context, sessionID, docKey, embeddingKey string, chunks []Chunk) error {
	if f.failNext {
		return errors.New("vector store unavailable")
	}
	var kept []Chunk
	for _, c := range f.chunks[sessionID] {
		if c.DocKey != docKey || c.EmbeddingKey != embeddingKey {
			kept = append(kept, c)
		}
	}
	f.chunks[sessionID] = append(kept, chunks...)
	return nil
}

func (f *fakeIndex) Query(_ context.Context, sessionID, embeddingKey string, _ []float32, topK int) ([]Hit, error) {
	if f.failNext {
		return nil, errors.New("vector store unavailable")
	}
	var hits []Hit
	for _, c := range f.chunks[sessionID] {
		if c.EmbeddingKey != embeddingKey {
			continue
		}
		hits = append(hits, Hit{Text: c.Text, Score: 0.9, Metadata: c.Metadata})
		if len(hits) >= topK {
			break
		}
	}
	return hits, nil
}

func (f *fakeIndex) DeleteSession(_ context.Context, sessionID string) error {
	delete(f.chunks, sessionID)
	return nil
}

func (f *fakeIndex) Close() error { return nil }

var testEmbCfg = EmbeddingConfig{Provider: "test", Model: "fake"}

func testStore(index VectorIndex) (*Store, *fakeEmbedder) {
	store := NewStore(index, observe.New(io.Discard, false), Options{
		ChunkSize:      1200,
		ChunkOverlap:   200,
		MaxChunks:      500,
		TopK:           5,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	})
	embedder := &fakeEmbedder{}
	store.RegisterEmbedder(testEmbCfg, embedder)
	return store, embedder
}

func TestChunkLongDocument(t *testing.T) {
	text := strings.Repeat("Federal agencies issued new rules this quarter. ", 1100)
	chunks := chunkText(text, 1200, 200, 500)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 3000 {
			t.Errorf("chunk %d length %d exceeds 2.5x base", i, len(c))
		}
	}
}

func TestChunkReconstruction(t *testing.T) {
	text := normalizeText(strings.Repeat("abcdefghij", 500))
	base, overlap := 1200, 200
	chunks := chunkText(text, base, overlap, 0)
	if len(chunks) < 2 {
		t.Fatalf("need multiple chunks, got %d", len(chunks))
	}

	size := dynamicChunkSize(base, len(text))
	effOverlap := overlap
	if effOverlap > size/3 {
		effOverlap = size / 3
	}

	var rebuilt strings.Builder
	rebuilt.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		rebuilt.WriteString(c[effOverlap:])
	}
	if rebuilt.String() != text {
		t.Error("overlap-stripped concatenation does not reconstruct the input")
	}
}

func TestDynamicChunkSizeShortDocument(t *testing.T) {
	size := dynamicChunkSize(1200, 900)
	if size >= 720 {
		t.Errorf("size = %d, want halved below 0.6x base", size)
	}

	long := dynamicChunkSize(1200, 1_000_000)
	if long != 3000 {
		t.Errorf("very long doc size = %d, want 2.5x base cap", long)
	}
}

func TestAddDocumentIdempotent(t *testing.T) {
	index := newFakeIndex()
	store, embedder := testStore(index)
	ctx := context.Background()
	text := strings.Repeat("PDF content about tariffs. ", 300)

	first := store.AddDocument(ctx, "sess-1", "doc:a", text, nil, testEmbCfg)
	if first.Status != StatusIndexed {
		t.Fatalf("first = %+v", first)
	}
	stored := len(index.chunks["sess-1"])
	embedCalls := embedder.calls

	second := store.AddDocument(ctx, "sess-1", "doc:a", text, nil, testEmbCfg)
	if second.Status != StatusSkipped || second.Reason != "already_indexed" {
		t.Fatalf("second = %+v", second)
	}
	if len(index.chunks["sess-1"]) != stored {
		t.Error("chunk count changed on idempotent re-index")
	}
	if embedder.calls != embedCalls {
		t.Error("re-index of identical content re-embedded")
	}
}

func TestAddDocumentReplacesChangedContent(t *testing.T) {
	index := newFakeIndex()
	store, _ := testStore(index)
	ctx := context.Background()

	store.AddDocument(ctx, "sess-1", "doc:a", strings.Repeat("old content. ", 200), nil, testEmbCfg)
	oldHash := index.chunks["sess-1"][0].DocHash

	outcome := store.AddDocument(ctx, "sess-1", "doc:a", strings.Repeat("new content entirely. ", 200), nil, testEmbCfg)
	if outcome.Status != StatusIndexed {
		t.Fatalf("outcome = %+v", outcome)
	}
	for _, c := range index.chunks["sess-1"] {
		if c.DocHash == oldHash {
			t.Fatal("stale chunks survived re-index with different content")
		}
	}
}

func TestAddDocumentPartitionsByEmbeddingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	index, err := NewSQLiteIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer index.Close()

	store := NewStore(index, observe.New(io.Discard, false), Options{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	})
	cfgA := EmbeddingConfig{Provider: "test", Model: "model-a", Dimension: 3}
	cfgB := EmbeddingConfig{Provider: "test", Model: "model-b", Dimension: 4}
	store.RegisterEmbedder(cfgA, &fixedEmbedder{vec: []float32{1, 0, 0}})
	store.RegisterEmbedder(cfgB, &fixedEmbedder{vec: []float32{0, 1, 0, 0}})

	ctx := context.Background()
	text := strings.Repeat("Tariff schedules for imported steel. ", 200)

	if out := store.AddDocument(ctx, "sess-1", "doc:a", text, nil, cfgA); out.Status != StatusIndexed {
		t.Fatalf("first index = %+v", out)
	}

	// Identical content under a different embedding config is a fresh
	// index, never an already_indexed skip.
	out := store.AddDocument(ctx, "sess-1", "doc:a", text, nil, cfgB)
	if out.Status != StatusIndexed {
		t.Fatalf("index under second config = %+v, want indexed", out)
	}

	// Each config's query sees only its own vectors. A leak across
	// configs would surface mismatched-dimension chunks at score 0.
	hitsB := store.Query(ctx, "sess-1", "steel tariffs", 20, cfgB)
	if len(hitsB) == 0 {
		t.Fatal("no hits under the active config")
	}
	for _, h := range hitsB {
		if h.Score < 0.99 {
			t.Errorf("hit score = %v, want matching-dimension vectors only", h.Score)
		}
	}

	hitsA := store.Query(ctx, "sess-1", "steel tariffs", 20, cfgA)
	if len(hitsA) != len(hitsB) {
		t.Errorf("first config hits = %d, second = %d, want both sets intact", len(hitsA), len(hitsB))
	}
	for _, h := range hitsA {
		if h.Score < 0.99 {
			t.Errorf("hit score = %v under original config", h.Score)
		}
	}
}

func TestAddDocumentEmptyInput(t *testing.T) {
	store, _ := testStore(newFakeIndex())
	outcome := store.AddDocument(context.Background(), "sess-1", "doc:a", "   \n\t ", nil, testEmbCfg)
	if outcome.Status != StatusSkipped || outcome.Reason != "empty_input" {
		t.Errorf("outcome = %+v, want empty_input skip", outcome)
	}
}

func TestHealthGateShortCircuits(t *testing.T) {
	index := newFakeIndex()
	index.failNext = true
	store, _ := testStore(index)
	ctx := context.Background()

	outcome := store.AddDocument(ctx, "sess-1", "doc:a", strings.Repeat("text ", 100), nil, testEmbCfg)
	if outcome.Status != StatusFailed {
		t.Fatalf("outcome = %+v, want failed", outcome)
	}

	// The gate is tripped: the next call short-circuits without
	// touching the index at all.
	index.failNext = false
	second := store.AddDocument(ctx, "sess-1", "doc:b", strings.Repeat("text ", 100), nil, testEmbCfg)
	if second.Status != StatusSkipped || second.Reason != "memory_unavailable" {
		t.Fatalf("second = %+v, want memory_unavailable skip", second)
	}
	if hits := store.Query(ctx, "sess-1", "anything", 5, testEmbCfg); hits != nil {
		t.Errorf("query while unavailable = %v, want nil", hits)
	}
}

func TestHealthGateBackoff(t *testing.T) {
	now := time.Unix(1000, 0)
	gate := newHealthGate()
	gate.now = func() time.Time { return now }

	gate.markFailure()
	if gate.available() {
		t.Fatal("available immediately after failure")
	}
	now = now.Add(1100 * time.Millisecond)
	if !gate.available() {
		t.Fatal("not available after first backoff elapsed")
	}

	// Repeated failures grow the window exponentially, capped at 30s.
	for i := 0; i < 10; i++ {
		gate.markFailure()
	}
	now = now.Add(29 * time.Second)
	if gate.available() {
		t.Fatal("available before capped backoff elapsed")
	}
	now = now.Add(2 * time.Second)
	if !gate.available() {
		t.Fatal("not available after cap")
	}

	gate.markSuccess()
	gate.markFailure()
	now = now.Add(1100 * time.Millisecond)
	if !gate.available() {
		t.Fatal("failure count not reset by success")
	}
}

func TestQueryDegradesOnEmbedFailure(t *testing.T) {
	index := newFakeIndex()
	store, embedder := testStore(index)
	embedder.fail = true

	hits := store.Query(context.Background(), "sess-1", "tariffs", 5, testEmbCfg)
	if hits != nil {
		t.Errorf("hits = %v, want nil on embedding failure", hits)
	}
}

func TestChunkIDsDeterministic(t *testing.T) {
	a := chunkIDs("0c94f51e-8b5a-4c2e-9f13-d7a2b4e6c810", "url:https://example.gov/doc.pdf", "openai/a/default/1536", 3)
	b := chunkIDs("0c94f51e-8b5a-4c2e-9f13-d7a2b4e6c810", "url:https://example.gov/doc.pdf", "openai/a/default/1536", 3)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("ids differ at %d: %s vs %s", i, a[i], b[i])
		}
	}
	if !strings.HasPrefix(a[0], "0c94f51e8b5a_") {
		t.Errorf("id prefix = %s, want 12 hex chars of session id", a[0])
	}
	if !strings.HasSuffix(a[2], "_2") {
		t.Errorf("id = %s, want chunk index suffix", a[2])
	}

	other := chunkIDs("0c94f51e-8b5a-4c2e-9f13-d7a2b4e6c810", "url:https://example.gov/doc.pdf", "openai/b/default/768", 3)
	if other[0] == a[0] {
		t.Error("ids collide across embedding pipelines")
	}
}

func TestEmbeddingConfigKey(t *testing.T) {
	base := EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimension: 1536}
	same := EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimension: 1536, APIKey: "sk-other"}
	if base.Key() != same.Key() {
		t.Error("API key must not affect the pipeline key")
	}

	variants := []EmbeddingConfig{
		{Provider: "gemini", Model: "text-embedding-3-small", Dimension: 1536},
		{Provider: "openai", Model: "text-embedding-004", Dimension: 1536},
		{Provider: "openai", Model: "text-embedding-3-small", BaseURL: "http://localhost:8080/v1", Dimension: 1536},
		{Provider: "openai", Model: "text-embedding-3-small", Dimension: 768},
	}
	for i, v := range variants {
		if v.Key() == base.Key() {
			t.Errorf("variant %d shares key %q with base config", i, v.Key())
		}
	}
}

func TestSQLiteIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	index, err := NewSQLiteIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer index.Close()

	ctx := context.Background()
	const embKey = "test/fake/default/3"
	mkChunk := func(session string, i int, vec []float32) Chunk {
		return Chunk{
			ID:           fmt.Sprintf("%s_doc_%d", session, i),
			SessionID:    session,
			DocKey:       "doc",
			DocHash:      "hash1",
			EmbeddingKey: embKey,
			ChunkIndex:   i,
			TotalChunks:  2,
			Text:         fmt.Sprintf("%s chunk %d", session, i),
			Embedding:    vec,
			Metadata:     map[string]string{"session_id": session},
		}
	}

	if err := index.ReplaceDocument(ctx, "sess-a", "doc", embKey, []Chunk{
		mkChunk("sess-a", 0, []float32{1, 0, 0}),
		mkChunk("sess-a", 1, []float32{0, 1, 0}),
	}); err != nil {
		t.Fatal(err)
	}
	if err := index.ReplaceDocument(ctx, "sess-b", "doc", embKey, []Chunk{
		mkChunk("sess-b", 0, []float32{1, 0, 0}),
	}); err != nil {
		t.Fatal(err)
	}

	exists, err := index.HasDocument(ctx, "sess-a", "doc", "hash1", embKey)
	if err != nil || !exists {
		t.Fatalf("HasDocument = %v, %v", exists, err)
	}
	exists, err = index.HasDocument(ctx, "sess-a", "doc", "hash1", "test/other/default/3")
	if err != nil || exists {
		t.Fatalf("HasDocument across embedding keys = %v, %v, want false", exists, err)
	}

	hits, err := index.Query(ctx, "sess-a", embKey, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Text != "sess-a chunk 0" {
		t.Errorf("top hit = %s", hits[0].Text)
	}
	for _, h := range hits {
		if strings.HasPrefix(h.Text, "sess-b") {
			t.Error("query leaked another session's chunks")
		}
	}

	hits, err = index.Query(ctx, "sess-a", "test/other/default/3", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("query across embedding keys = %d hits, want 0", len(hits))
	}

	if err := index.DeleteSession(ctx, "sess-a"); err != nil {
		t.Fatal(err)
	}
	hits, _ = index.Query(ctx, "sess-a", embKey, []float32{1, 0, 0}, 5)
	if len(hits) != 0 {
		t.Errorf("hits after delete = %d", len(hits))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors = %v", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %v", got)
	}
	if got := cosineSimilarity([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched lengths = %v", got)
	}
}
