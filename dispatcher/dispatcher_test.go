/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"chainguard.dev/vlmensemble/backend"
	"chainguard.dev/vlmensemble/backend/retry"
	"chainguard.dev/vlmensemble/checkpoint"
	"chainguard.dev/vlmensemble/ensemble"
	"chainguard.dev/vlmensemble/experiment"
	"chainguard.dev/vlmensemble/imagestore"
	"chainguard.dev/vlmensemble/stats"
	"chainguard.dev/vlmensemble/unit"
	"github.com/google/go-cmp/cmp"
)

type fakeScorer struct {
	id backend.ID
	fn func(ctx context.Context, u unit.Unit) *backend.Response

	mu    sync.Mutex
	units []string
}

func (f *fakeScorer) ID() backend.ID { return f.id }

func (f *fakeScorer) Score(ctx context.Context, u unit.Unit) *backend.Response {
	f.mu.Lock()
	f.units = append(f.units, u.ID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, u)
	}
	return scored(f.id, 3)
}

func (f *fakeScorer) scored() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(slices.Values(f.units))
}

func scored(id backend.ID, s experiment.Score) *backend.Response {
	return &backend.Response{
		Backend: id,
		Model:   "fake-" + strings.ToLower(string(id)),
		Outcome: backend.OutcomeOK,
		Scores:  map[string]experiment.Score{"identity": s, "hair_change": s},
	}
}

type memStore struct {
	mu      sync.Mutex
	records map[string]*ensemble.Record
	failAt  int
	appends int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*ensemble.Record{}}
}

func (m *memStore) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	return ok
}

func (m *memStore) Append(_ context.Context, rec *ensemble.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if m.failAt > 0 && m.appends >= m.failAt {
		return fmt.Errorf("%w: disk full", checkpoint.ErrIO)
	}
	if _, ok := m.records[rec.UnitID]; ok {
		return checkpoint.ErrDuplicate
	}
	m.records[rec.UnitID] = rec
	return nil
}

func testRubrics(t *testing.T) experiment.RubricSet {
	t.Helper()
	set, err := experiment.LoadRubrics(strings.NewReader(`
categories:
  hair:
    dimensions: [identity, hair_change]
    text: Rate the hair edit.
`))
	if err != nil {
		t.Fatalf("LoadRubrics() error = %v", err)
	}
	return set
}

func testResolver(t *testing.T) *ensemble.Resolver {
	t.Helper()
	r, err := ensemble.NewResolver(testRubrics(t))
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

func testUnits(n int) []unit.Unit {
	units := make([]unit.Unit, 0, n)
	for i := 1; i <= n; i++ {
		stem := fmt.Sprintf("u%02d_asian_female_30s", i)
		units = append(units, unit.Unit{
			ID:       unit.ID("flux", "hair", stem),
			Model:    "flux",
			Category: "hair",
			PromptID: fmt.Sprintf("u%02d", i),
			Source:   "source/asian_female_30s.png",
			Output:   "flux/hair/" + stem + ".png",
		}.WithAttributes(map[string]string{"race": "asian", "gender": "female", "age": "30s"}))
	}
	return units
}

func unitIDs(units []unit.Unit) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, u.ID)
	}
	return out
}

func newDispatcher(t *testing.T, a, b Scorer, store Checkpoint, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(a, b, testResolver(t), store, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := checkpoint.Open(ctx, t.TempDir(), checkpoint.Namespace{Model: "flux", Experiment: "edit"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	units := testUnits(4)
	resolver := testResolver(t)
	for _, u := range units[:2] {
		if err := store.Append(ctx, resolver.Resolve(u, scored(backend.A, 4), scored(backend.B, 4))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	a := &fakeScorer{id: backend.A}
	b := &fakeScorer{id: backend.B}
	summary, err := newDispatcher(t, a, b, store).Run(ctx, units)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := unitIDs(units[2:])
	if diff := cmp.Diff(want, a.scored()); diff != "" {
		t.Errorf("backend A scored (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, b.scored()); diff != "" {
		t.Errorf("backend B scored (-want +got):\n%s", diff)
	}
	wantSummary := &Summary{
		Enumerated:      4,
		AlreadyComplete: 2,
		Scheduled:       2,
		Persisted:       2,
		Tally:           Tally{Success: 2},
	}
	if diff := cmp.Diff(wantSummary, summary); diff != "" {
		t.Errorf("Summary mismatch (-want +got):\n%s", diff)
	}
	if store.Len() != 4 {
		t.Errorf("checkpoint has %d records, wanted 4", store.Len())
	}
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newMemStore()
	a := &fakeScorer{id: backend.A}
	b := &fakeScorer{id: backend.B}
	d := newDispatcher(t, a, b, store)
	units := testUnits(5)

	if _, err := d.Run(ctx, units); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	summary, err := d.Run(ctx, units)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if summary.Scheduled != 0 || summary.AlreadyComplete != 5 {
		t.Errorf("second run scheduled %d, already complete %d; wanted 0, 5", summary.Scheduled, summary.AlreadyComplete)
	}
	if got := len(a.scored()); got != 5 {
		t.Errorf("backend A called %d times, wanted 5", got)
	}
	if len(store.records) != 5 {
		t.Errorf("checkpoint has %d records, wanted 5", len(store.records))
	}
}

func TestRunDropsDuplicateUnits(t *testing.T) {
	t.Parallel()

	units := testUnits(3)
	units = append(units, units[1], units[2])
	a := &fakeScorer{id: backend.A}
	summary, err := newDispatcher(t, a, &fakeScorer{id: backend.B}, newMemStore()).Run(context.Background(), units)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Duplicates != 2 || summary.Scheduled != 3 || summary.Persisted != 3 {
		t.Errorf("Summary = %+v, wanted 2 duplicates, 3 scheduled and persisted", summary)
	}
	if diff := cmp.Diff(unitIDs(testUnits(3)), a.scored()); diff != "" {
		t.Errorf("scored units (-want +got):\n%s", diff)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const limit = 3
	var inFlight, peak atomic.Int32
	a := &fakeScorer{id: backend.A, fn: func(_ context.Context, u unit.Unit) *backend.Response {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return scored(backend.A, 3)
	}}

	summary, err := newDispatcher(t, a, &fakeScorer{id: backend.B}, newMemStore(), WithConcurrency(limit)).
		Run(context.Background(), testUnits(20))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Persisted != 20 {
		t.Errorf("Persisted = %d, wanted = 20", summary.Persisted)
	}
	if got := peak.Load(); got < 1 || got > limit {
		t.Errorf("peak in-flight units = %d, wanted between 1 and %d", got, limit)
	}
}

func TestRunCallsBackendsConcurrently(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	started := map[string]chan struct{}{}
	startedB := func(id string) chan struct{} {
		mu.Lock()
		defer mu.Unlock()
		ch, ok := started[id]
		if !ok {
			ch = make(chan struct{})
			started[id] = ch
		}
		return ch
	}

	// A only succeeds if B is in flight for the same unit at the same time.
	a := &fakeScorer{id: backend.A, fn: func(_ context.Context, u unit.Unit) *backend.Response {
		select {
		case <-startedB(u.ID):
			return scored(backend.A, 3)
		case <-time.After(5 * time.Second):
			return &backend.Response{Backend: backend.A, Outcome: backend.OutcomeCallError, Detail: "B never started"}
		}
	}}
	b := &fakeScorer{id: backend.B, fn: func(_ context.Context, u unit.Unit) *backend.Response {
		close(startedB(u.ID))
		return scored(backend.B, 3)
	}}

	summary, err := newDispatcher(t, a, b, newMemStore(), WithConcurrency(1)).Run(context.Background(), testUnits(3))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Tally != (Tally{Success: 3}) {
		t.Errorf("Tally = %+v, wanted 3 successes", summary.Tally)
	}
}

func TestRunStopsSchedulingOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemStore()
	d := newDispatcher(t, &fakeScorer{id: backend.A}, &fakeScorer{id: backend.B}, store,
		WithConcurrency(1),
		WithProgress(func(Progress) { cancel() }))

	summary, err := d.Run(ctx, testUnits(10))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !summary.Cancelled {
		t.Error("Cancelled = false, wanted true")
	}
	if summary.Persisted < 1 || summary.Pending < 1 {
		t.Errorf("Persisted = %d, Pending = %d, wanted both positive", summary.Persisted, summary.Pending)
	}
	if summary.Persisted+summary.Pending != summary.Scheduled {
		t.Errorf("Persisted + Pending = %d, wanted Scheduled = %d", summary.Persisted+summary.Pending, summary.Scheduled)
	}
	if len(store.records) != summary.Persisted {
		t.Errorf("checkpoint has %d records, wanted %d", len(store.records), summary.Persisted)
	}
}

func TestRunAbortsOnCheckpointFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failAt = 3
	summary, err := newDispatcher(t, &fakeScorer{id: backend.A}, &fakeScorer{id: backend.B}, store, WithConcurrency(1)).
		Run(context.Background(), testUnits(10))
	if !errors.Is(err, checkpoint.ErrIO) {
		t.Fatalf("Run() error = %v, wanted ErrIO", err)
	}
	if summary.Persisted != 2 {
		t.Errorf("Persisted = %d, wanted = 2", summary.Persisted)
	}
	if summary.Pending != summary.Scheduled-2 {
		t.Errorf("Pending = %d, wanted = %d", summary.Pending, summary.Scheduled-2)
	}
}

func TestRunFeedsAggregatorAndProgress(t *testing.T) {
	t.Parallel()

	agg := stats.NewAggregator()
	var reports []Progress
	b := &fakeScorer{id: backend.B, fn: func(_ context.Context, u unit.Unit) *backend.Response {
		if strings.HasPrefix(u.PromptID, "u01") {
			return scored(backend.B, 5)
		}
		return scored(backend.B, 3)
	}}
	d := newDispatcher(t, &fakeScorer{id: backend.A}, b, newMemStore(),
		WithAggregator(agg),
		WithObserver(stats.NewMetricsObserver("dispatcher-test", "flux")),
		WithProgress(func(p Progress) { reports = append(reports, p) }))

	summary, err := d.Run(context.Background(), testUnits(4))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Tally != (Tally{Success: 3, NeedsReview: 1}) {
		t.Errorf("Tally = %+v, wanted 3 successes and 1 needs_review", summary.Tally)
	}
	if len(reports) != 4 {
		t.Fatalf("progress reported %d times, wanted 4", len(reports))
	}
	last := reports[len(reports)-1]
	if last.Persisted != 4 || last.Scheduled != 4 || last.Tally != summary.Tally {
		t.Errorf("last progress = %+v", last)
	}
	if got := agg.Summary(); got.Total != 4 || got.NeedsReviewRate != 0.25 {
		t.Errorf("aggregator Total = %d, NeedsReviewRate = %v", got.Total, got.NeedsReviewRate)
	}
}

type fakeInvoker struct {
	model string
	fn    func(ctx context.Context) (*backend.Completion, error)
}

func (f *fakeInvoker) Model() string { return f.model }

func (f *fakeInvoker) Invoke(ctx context.Context, _ []backend.Image, _ string) (*backend.Completion, error) {
	return f.fn(ctx)
}

func TestRunDegradesWhenBackendTimesOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	units := testUnits(10)
	img := &fstest.MapFile{Data: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")}
	files := fstest.MapFS{"source/asian_female_30s.png": img}
	for _, u := range units {
		files[u.Output] = img
	}
	images := imagestore.NewFS(files)
	rubrics := testRubrics(t)
	policy := retry.Policy{MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond, AttemptTimeout: 20 * time.Millisecond}

	a, err := backend.New(backend.A, &fakeInvoker{model: "fake-a", fn: func(context.Context) (*backend.Completion, error) {
		return &backend.Completion{Text: `{"identity": 4, "hair_change": 3}`}, nil
	}}, images, rubrics, backend.WithRetryPolicy(policy))
	if err != nil {
		t.Fatalf("backend.New(A) error = %v", err)
	}
	b, err := backend.New(backend.B, &fakeInvoker{model: "fake-b", fn: func(ctx context.Context) (*backend.Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}, images, rubrics, backend.WithRetryPolicy(policy))
	if err != nil {
		t.Fatalf("backend.New(B) error = %v", err)
	}

	store, err := checkpoint.Open(ctx, t.TempDir(), checkpoint.Namespace{Model: "flux", Experiment: "edit"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	agg := stats.NewAggregator()
	summary, err := newDispatcher(t, a, b, store, WithConcurrency(4), WithAggregator(agg)).Run(ctx, units)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Tally != (Tally{Degraded: 10}) {
		t.Errorf("Tally = %+v, wanted 10 degraded", summary.Tally)
	}
	got := agg.Summary()
	if got.Outcomes[ensemble.OutcomeError] != 0 {
		t.Errorf("error units = %d, wanted = 0", got.Outcomes[ensemble.OutcomeError])
	}
	if got.SingleBackendRate != 1 {
		t.Errorf("SingleBackendRate = %v, wanted = 1", got.SingleBackendRate)
	}

	for _, rec := range store.Records() {
		if rec.ErrorReason != string(backend.OutcomeCallError) {
			t.Errorf("%s ErrorReason = %q, wanted call_error", rec.UnitID, rec.ErrorReason)
		}
		bs := rec.Backends[backend.B]
		if !strings.HasPrefix(bs.Detail, "timeout") || bs.Attempts != 2 {
			t.Errorf("%s backend B = %+v, wanted a timeout after 2 attempts", rec.UnitID, bs)
		}
		if rec.Dimensions["identity"].Final != 4 {
			t.Errorf("%s identity = %v, wanted backend A's 4", rec.UnitID, rec.Dimensions["identity"].Final)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	a := &fakeScorer{id: backend.A}
	b := &fakeScorer{id: backend.B}
	resolver := testResolver(t)
	store := newMemStore()

	tests := []struct {
		name    string
		a, b    Scorer
		opts    []Option
		wantErr bool
	}{
		{name: "valid", a: a, b: b},
		{name: "missing scorer", a: a, wantErr: true},
		{name: "swapped scorers", a: b, b: a, wantErr: true},
		{name: "zero concurrency", a: a, b: b, opts: []Option{WithConcurrency(0)}, wantErr: true},
		{name: "nil progress", a: a, b: b, opts: []Option{WithProgress(nil)}, wantErr: true},
		{name: "nil aggregator", a: a, b: b, opts: []Option{WithAggregator(nil)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.a, tt.b, resolver, store, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
