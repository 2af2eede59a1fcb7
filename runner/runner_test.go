package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hostmon/collector"
	"hostmon/format"
	"hostmon/metrics"
	"hostmon/sink"
)

var at = time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

type fakeSampler struct {
	mu     sync.Mutex
	fail   map[collector.Category]error
	calls  []collector.Category
	onCall func(collector.Category)
}

func (f *fakeSampler) Sample(_ context.Context, c collector.Category) (collector.Sample, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	err := f.fail[c]
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	if err != nil {
		return nil, &collector.CollectionError{Category: c, Err: err}
	}
	switch c {
	case collector.CPU:
		return collector.CPUSample{Percent: 12.5}, nil
	case collector.Memory:
		return collector.MemorySample{Total: 8, Available: 6, Used: 1, Free: 5, Percent: 18.75}, nil
	case collector.Disk:
		return collector.DiskSample{Total: 100, Used: 40, Free: 60, Percent: 40}, nil
	}
	return collector.NetSample{BytesSent: 1000, BytesRecv: 2000, PacketsSent: 10, PacketsRecv: 20}, nil
}

func (f *fakeSampler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFiles struct {
	mu    sync.Mutex
	fail  map[collector.Category]error
	lines map[collector.Category][]string
}

func (f *fakeFiles) Append(_ context.Context, c collector.Category, _ time.Time, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[c]; err != nil {
		return &sink.PersistenceError{Sink: sink.File, Op: "write", Err: err}
	}
	if f.lines == nil {
		f.lines = map[collector.Category][]string{}
	}
	f.lines[c] = append(f.lines[c], line)
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	err       error
	stmts     []format.Statement
	cancelled int
}

func (f *fakeStore) Write(ctx context.Context, st format.Statement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		f.cancelled++
	}
	if f.err != nil {
		return &sink.PersistenceError{Sink: sink.Database, Op: "connect", Err: f.err}
	}
	f.stmts = append(f.stmts, st)
	return nil
}

func (f *fakeStore) tables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, st := range f.stmts {
		out = append(out, st.Table)
	}
	return out
}

func newRunner(s collector.Sampler, files FileWriter, store *fakeStore, mod func(*Options)) (*Runner, *[]Diagnostic) {
	var diags []Diagnostic
	opts := Options{
		Sampler:      s,
		Files:        files,
		Store:        store,
		Interval:     time.Millisecond,
		Timeout:      time.Second,
		Log:          zap.NewNop(),
		Now:          func() time.Time { return at },
		OnDiagnostic: func(d Diagnostic) { diags = append(diags, d) },
	}
	if mod != nil {
		mod(&opts)
	}
	return New(opts), &diags
}

func TestRunCycle_AllCategoriesPersisted(t *testing.T) {
	files := &fakeFiles{}
	store := &fakeStore{}
	r, diags := newRunner(&fakeSampler{}, files, store, nil)

	rep := r.RunCycle(context.Background())

	assert.Empty(t, *diags)
	assert.Empty(t, rep.Diagnostics)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, at, rep.Time)
	require.Len(t, rep.Outcomes, 4)
	for i, c := range collector.Categories() {
		assert.Equal(t, Outcome{Category: c, Sampled: true, Logged: true, Stored: true}, rep.Outcomes[i])
	}
	assert.Equal(t, []string{"2024-03-01T10:00:00 12.5"}, files.lines[collector.CPU])
	assert.Equal(t, []string{"2024-03-01T10:00:00 1000 2000 10 20"}, files.lines[collector.Network])
	assert.Equal(t, []string{"cpu_percent", "virtual_mem", "disk", "net_usage"}, store.tables())
	assert.Equal(t, []any{uint64(1000), uint64(2000), uint64(10), uint64(20)}, store.stmts[3].Args)
	assert.Equal(t, Idle, r.State())
}

func TestRunCycle_DatabaseDownStillLogsEveryCategory(t *testing.T) {
	files := &fakeFiles{}
	store := &fakeStore{err: errors.New("connection refused")}
	r, diags := newRunner(&fakeSampler{}, files, store, nil)

	rep := r.RunCycle(context.Background())

	require.Len(t, *diags, 4)
	for i, d := range *diags {
		assert.Equal(t, collector.Categories()[i], d.Category)
		assert.Equal(t, StageDatabase, d.Stage)
		assert.Equal(t, rep.ID, d.CycleID)
		var pe *sink.PersistenceError
		require.ErrorAs(t, d.Err, &pe)
		assert.Equal(t, sink.Database, pe.Sink)
	}
	for _, c := range collector.Categories() {
		assert.Len(t, files.lines[c], 1, c.Name())
	}
}

func TestRunCycle_CollectionErrorIsolated(t *testing.T) {
	files := &fakeFiles{}
	store := &fakeStore{}
	sampler := &fakeSampler{fail: map[collector.Category]error{collector.Memory: errors.New("no /proc/meminfo")}}
	r, diags := newRunner(sampler, files, store, nil)

	rep := r.RunCycle(context.Background())

	require.Len(t, *diags, 1)
	assert.Equal(t, collector.Memory, (*diags)[0].Category)
	assert.Equal(t, StageSample, (*diags)[0].Stage)
	var ce *collector.CollectionError
	assert.ErrorAs(t, (*diags)[0].Err, &ce)

	assert.Equal(t, Outcome{Category: collector.Memory}, rep.Outcomes[1])
	assert.Empty(t, files.lines[collector.Memory])
	for _, c := range []collector.Category{collector.CPU, collector.Disk, collector.Network} {
		assert.Len(t, files.lines[c], 1, c.Name())
	}
	assert.Equal(t, []string{"cpu_percent", "disk", "net_usage"}, store.tables())
}

func TestRunCycle_FileFailureDoesNotSkipStore(t *testing.T) {
	files := &fakeFiles{fail: map[collector.Category]error{collector.CPU: errors.New("disk full")}}
	store := &fakeStore{}
	r, diags := newRunner(&fakeSampler{}, files, store, nil)

	rep := r.RunCycle(context.Background())

	require.Len(t, *diags, 1)
	assert.Equal(t, StageFile, (*diags)[0].Stage)
	assert.Equal(t, Outcome{Category: collector.CPU, Sampled: true, Logged: false, Stored: true}, rep.Outcomes[0])
	assert.Len(t, store.stmts, 4)
}

func TestRunCycle_CancelStopsAtCategoryBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	files := &fakeFiles{}
	store := &fakeStore{}
	sampler := &fakeSampler{onCall: func(c collector.Category) {
		if c == collector.CPU {
			cancel()
		}
	}}
	r, diags := newRunner(sampler, files, store, nil)

	rep := r.RunCycle(ctx)

	// the category in flight finishes with a live context, the rest never start
	assert.Empty(t, *diags)
	require.Len(t, rep.Outcomes, 1)
	assert.Equal(t, Outcome{Category: collector.CPU, Sampled: true, Logged: true, Stored: true}, rep.Outcomes[0])
	assert.Equal(t, 0, store.cancelled)
	assert.Equal(t, []collector.Category{collector.CPU}, sampler.calls)
}

func TestRunCycle_Concurrent(t *testing.T) {
	files := &fakeFiles{}
	store := &fakeStore{}
	sampler := &fakeSampler{fail: map[collector.Category]error{collector.Disk: errors.New("statfs failed")}}
	r, diags := newRunner(sampler, files, store, func(o *Options) { o.Concurrent = true })

	rep := r.RunCycle(context.Background())

	require.Len(t, rep.Outcomes, 4)
	for i, c := range collector.Categories() {
		assert.Equal(t, c, rep.Outcomes[i].Category)
	}
	assert.False(t, rep.Outcomes[2].Sampled)
	require.Len(t, *diags, 1)
	assert.Equal(t, collector.Disk, (*diags)[0].Category)
	assert.ElementsMatch(t, []string{"cpu_percent", "virtual_mem", "net_usage"}, store.tables())
}

func TestRunCycle_WithFileSink(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := &fakeStore{}
	r, _ := newRunner(&fakeSampler{}, sink.NewFileSink(fs, "out", zap.NewNop()), store, nil)

	r.RunCycle(context.Background())

	data, err := afero.ReadFile(fs, filepath.Join("out", "01032024-cpu_percent.log"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T10:00:00 12.5\n", string(data))

	data, err = afero.ReadFile(fs, filepath.Join("out", "01032024-virtual_mem.log"))
	require.NoError(t, err)
	_, s, err := format.ParseLogLine(collector.Memory, string(data))
	require.NoError(t, err)
	assert.Equal(t, collector.MemorySample{Total: 8, Available: 6, Used: 1, Free: 5, Percent: 18.75}, s)
}

func TestRunCycle_Metrics(t *testing.T) {
	m := metrics.New()
	store := &fakeStore{err: errors.New("down")}
	r, _ := newRunner(&fakeSampler{}, &fakeFiles{}, store, func(o *Options) { o.Metrics = m })

	r.RunCycle(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues("cpu", "file")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Records.WithLabelValues("cpu", "database")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Diagnostics.WithLabelValues("network", "database")))
}

func TestRun_KeepsGoingThroughFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &fakeStore{err: errors.New("database unreachable")}
	sampler := &fakeSampler{}
	sampler.onCall = func(collector.Category) {
		// three cycles worth of samples
		if len(sampler.calls) >= 12 {
			cancel()
		}
	}
	files := &fakeFiles{}
	r, _ := newRunner(sampler, files, store, func(o *Options) { o.OnDiagnostic = nil })

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, Stopped, r.State())
	assert.GreaterOrEqual(t, sampler.count(), 12)
	files.mu.Lock()
	defer files.mu.Unlock()
	assert.GreaterOrEqual(t, len(files.lines[collector.Network]), 2)
}

func TestRun_CancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sampler := &fakeSampler{}
	r, _ := newRunner(sampler, &fakeFiles{}, &fakeStore{}, func(o *Options) { o.Interval = time.Hour })

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return r.State() == Idle }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop during sleep")
	}
	assert.Equal(t, Stopped, r.State())
	assert.Zero(t, sampler.count())
}

func TestNew_Defaults(t *testing.T) {
	r := New(Options{})
	assert.Equal(t, 5*time.Second, r.opts.Interval)
	assert.Equal(t, 5*time.Second, r.opts.Timeout)
	assert.NotNil(t, r.opts.Now)
	assert.Equal(t, Idle, r.State())
	assert.Equal(t, "stopped", Stopped.String())
}
