package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/kailas-cloud/ragflow/internal/domain"
	"github.com/kailas-cloud/ragflow/internal/domain/point"
)

// memIndex is an in-memory cosine index.
type memIndex struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[string]map[string]point.Point

	infoErr   error
	createErr error
	upsertErr error
	queryErr  error
	createCnt int
	upsertCnt int
}

func newMemIndex() *memIndex {
	return &memIndex{collections: map[string]int{}, points: map[string]map[string]point.Point{}}
}

func (m *memIndex) CollectionInfo(_ context.Context, name string) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.infoErr != nil {
		return false, 0, m.infoErr
	}
	dim, ok := m.collections[name]
	return ok, dim, nil
}

func (m *memIndex) CreateCollection(_ context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCnt++
	if m.createErr != nil {
		return m.createErr
	}
	m.collections[name] = dim
	m.points[name] = map[string]point.Point{}
	return nil
}

func (m *memIndex) UpsertPoints(_ context.Context, name string, pts []point.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCnt++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, p := range pts {
		m.points[name][p.ID] = p
	}
	return nil
}

func (m *memIndex) QueryPoints(_ context.Context, name string, vector []float32, limit int) ([]point.Scored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	out := make([]point.Scored, 0, len(m.points[name]))
	for _, p := range m.points[name] {
		out = append(out, point.Scored{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	// map iteration order is random; the service must not depend on it
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memIndex) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points[name])
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func newService(t *testing.T, idx Index) *Service {
	t.Helper()
	s, err := New(idx, "docs", 2)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(newMemIndex(), "", 2); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty collection: expected ErrInvalidInput, got %v", err)
	}
	if _, err := New(newMemIndex(), "docs", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("zero dim: expected ErrInvalidInput, got %v", err)
	}
}

func TestEnsureCollection_CreatesOnce(t *testing.T) {
	idx := newMemIndex()
	s := newService(t, idx)
	for range 3 {
		if err := s.EnsureCollection(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if idx.createCnt != 1 {
		t.Errorf("expected 1 create, got %d", idx.createCnt)
	}
}

func TestEnsureCollection_DimMismatch(t *testing.T) {
	idx := newMemIndex()
	idx.collections["docs"] = 3
	s := newService(t, idx)

	err := s.EnsureCollection(context.Background())
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
	if domain.IsRetryable(err) {
		t.Error("dimension mismatch must not be retryable")
	}
}

func TestEnsureCollection_LostCreateRace(t *testing.T) {
	idx := &racyIndex{memIndex: newMemIndex()}
	s := newService(t, idx)
	if err := s.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// racyIndex simulates another process creating the collection first.
type racyIndex struct{ *memIndex }

func (r *racyIndex) CreateCollection(_ context.Context, name string, dim int) error {
	r.mu.Lock()
	r.collections[name] = dim
	r.mu.Unlock()
	return errors.New("collection already exists")
}

func TestEnsureCollection_BackendError(t *testing.T) {
	idx := newMemIndex()
	idx.infoErr = errors.New("connection refused")
	err := newService(t, idx).EnsureCollection(context.Background())
	if !errors.Is(err, domain.ErrVectorStore) {
		t.Fatalf("expected ErrVectorStore, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("connectivity errors must be retryable")
	}
}

func TestUpsert_LengthMismatch(t *testing.T) {
	s := newService(t, newMemIndex())
	err := s.Upsert(context.Background(), []string{"a", "b"}, [][]float32{{1, 0}}, []point.Payload{{}, {}})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpsert_WrongDimension(t *testing.T) {
	idx := newMemIndex()
	s := newService(t, idx)
	err := s.Upsert(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}, []point.Payload{{Text: "x"}})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
	if idx.upsertCnt != 0 {
		t.Error("nothing must be written on a dimension mismatch")
	}
}

func TestUpsert_BackendFailure(t *testing.T) {
	idx := newMemIndex()
	idx.upsertErr = errors.New("partial write")
	err := newService(t, idx).Upsert(context.Background(),
		[]string{"a"}, [][]float32{{1, 0}}, []point.Payload{{Text: "x"}})
	if !errors.Is(err, domain.ErrVectorStore) {
		t.Fatalf("expected ErrVectorStore, got %v", err)
	}
}

func TestUpsert_IdempotentByID(t *testing.T) {
	idx := newMemIndex()
	s := newService(t, idx)
	ctx := context.Background()

	ids := point.IDs("doc.pdf", 3)
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	payloads := []point.Payload{
		{Text: "a", SourceID: "doc.pdf"},
		{Text: "b", SourceID: "doc.pdf"},
		{Text: "c", SourceID: "doc.pdf"},
	}
	for range 2 {
		if err := s.Upsert(ctx, ids, vectors, payloads); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := idx.count("docs"); got != 3 {
		t.Errorf("expected 3 points after re-upsert, got %d", got)
	}
}

func TestSearch_Validation(t *testing.T) {
	s := newService(t, newMemIndex())
	ctx := context.Background()
	for _, k := range []int{0, 101} {
		if _, err := s.Search(ctx, []float32{1, 0}, k); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("topK=%d: expected ErrInvalidInput, got %v", k, err)
		}
	}
	if _, err := s.Search(ctx, []float32{1}, 5); !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestSearch_EmptyCollection(t *testing.T) {
	res, err := newService(t, newMemIndex()).Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Context) != 0 || len(res.Sources) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
	if res.Context == nil || res.Sources == nil {
		t.Error("empty result must use empty slices, not nil")
	}
}

func TestSearch_RanksAndDeduplicatesSources(t *testing.T) {
	idx := newMemIndex()
	s := newService(t, idx)
	ctx := context.Background()

	err := s.Upsert(ctx,
		[]string{"p1", "p2", "p3", "p4"},
		[][]float32{{1, 0}, {0.9, 0.1}, {0, 1}, {0.8, 0.2}},
		[]point.Payload{
			{Text: "best", SourceID: "a.pdf"},
			{Text: "second", SourceID: "b.pdf"},
			{Text: "worst", SourceID: "c.pdf"},
			{Text: "third", SourceID: "a.pdf"},
		})
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantCtx := []string{"best", "second", "third"}
	if len(res.Context) != len(wantCtx) {
		t.Fatalf("context = %q, want %q", res.Context, wantCtx)
	}
	for i := range wantCtx {
		if res.Context[i] != wantCtx[i] {
			t.Errorf("context[%d] = %q, want %q", i, res.Context[i], wantCtx[i])
		}
	}
	if len(res.Sources) != 2 || res.Sources[0] != "a.pdf" || res.Sources[1] != "b.pdf" {
		t.Errorf("sources = %q, want [a.pdf b.pdf]", res.Sources)
	}
}

func TestSearch_Deterministic(t *testing.T) {
	idx := newMemIndex()
	s := newService(t, idx)
	ctx := context.Background()

	ids := []string{"c", "a", "b"}
	vectors := [][]float32{{1, 0}, {1, 0}, {1, 0}}
	payloads := []point.Payload{{Text: "c"}, {Text: "a"}, {Text: "b"}}
	if err := s.Upsert(ctx, ids, vectors, payloads); err != nil {
		t.Fatal(err)
	}

	for range 10 {
		res, err := s.Search(ctx, []float32{1, 0}, 3)
		if err != nil {
			t.Fatal(err)
		}
		if res.Context[0] != "a" || res.Context[1] != "b" || res.Context[2] != "c" {
			t.Fatalf("ties must break on point id, got %q", res.Context)
		}
	}
}

func TestSearch_BackendError(t *testing.T) {
	idx := newMemIndex()
	idx.queryErr = errors.New("timeout")
	_, err := newService(t, idx).Search(context.Background(), []float32{1, 0}, 1)
	if !errors.Is(err, domain.ErrVectorStore) {
		t.Fatalf("expected ErrVectorStore, got %v", err)
	}
}

func TestCollect_AbsentPayloadFields(t *testing.T) {
	hits := []point.Scored{
		{ID: "1", Score: 0.9, Payload: point.Payload{SourceID: "orphan.pdf"}},
		{ID: "2", Score: 0.8, Payload: point.Payload{Text: "no source"}},
		{ID: "3", Score: 0.7, Payload: point.Payload{Text: "full", SourceID: "x.pdf"}},
	}
	res := Collect(hits, 5)
	if len(res.Context) != 2 || res.Context[0] != "no source" || res.Context[1] != "full" {
		t.Errorf("context = %q", res.Context)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "x.pdf" {
		t.Errorf("sources = %q, want [x.pdf]", res.Sources)
	}
}

func TestCollect_TruncatesToTopK(t *testing.T) {
	hits := []point.Scored{
		{ID: "a", Score: 0.1, Payload: point.Payload{Text: "low"}},
		{ID: "b", Score: 0.9, Payload: point.Payload{Text: "high"}},
	}
	res := Collect(hits, 1)
	if len(res.Context) != 1 || res.Context[0] != "high" {
		t.Errorf("context = %q, want [high]", res.Context)
	}
}
