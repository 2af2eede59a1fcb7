// Package runner drives the collection loop: every interval it samples each
// category and hands the result to the file sink and the store, isolating
// failures per category.
package runner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hostmon/collector"
	"hostmon/format"
	"hostmon/logger"
	"hostmon/metrics"
	"hostmon/sink"
	"hostmon/storage"
)

// State is the runner's position in its lifecycle.
type State int32

const (
	Idle State = iota
	Collecting
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Stage is the pipeline step a diagnostic came from.
type Stage string

const (
	StageSample   Stage = "sample"
	StageFile     Stage = "file"
	StageDatabase Stage = "database"
)

// Diagnostic is a failure recorded at a category boundary instead of being
// propagated.
type Diagnostic struct {
	CycleID  string
	Time     time.Time
	Category collector.Category
	Stage    Stage
	Err      error
}

// Outcome tells which steps of one category's pipeline succeeded.
type Outcome struct {
	Category collector.Category
	Sampled  bool
	Logged   bool
	Stored   bool
}

// CycleReport summarizes one pass over the categories. Outcomes holds only
// the categories that were attempted.
type CycleReport struct {
	ID          string
	Time        time.Time
	Outcomes    []Outcome
	Diagnostics []Diagnostic
}

// FileWriter is the file sink as seen by the runner.
type FileWriter interface {
	Append(ctx context.Context, c collector.Category, ts time.Time, line string) error
}

var _ FileWriter = (*sink.FileSink)(nil)

// Options configures a Runner. Sampler, Files and Store are required.
type Options struct {
	Sampler  collector.Sampler
	Files    FileWriter
	Store    storage.Store
	Interval time.Duration // pause between cycles, default 5s
	Timeout  time.Duration // bound on each sampler or sink call, default 5s

	// Concurrent runs the four category pipelines in parallel. Each
	// pipeline stays internally ordered.
	Concurrent bool

	Log     *zap.Logger
	Metrics *metrics.Metrics // optional

	// OnDiagnostic, if set, receives every diagnostic after it is logged.
	// It is never called concurrently.
	OnDiagnostic func(Diagnostic)

	Now func() time.Time // clock, default time.Now
}

// Runner owns the loop, its interval and the sinks it writes to.
type Runner struct {
	opts  Options
	log   *zap.Logger
	state atomic.Int32
}

// New returns an idle runner.
func New(opts Options) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{opts: opts, log: log}
}

// State returns the current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) setState(s State) { r.state.Store(int32(s)) }

// Run waits one interval, runs a cycle, and repeats until ctx is cancelled.
// Failures inside a cycle never end the loop; Run only returns once ctx is
// done, leaving the runner Stopped.
func (r *Runner) Run(ctx context.Context) error {
	r.setState(Idle)
	defer r.setState(Stopped)

	r.log.Info("runner started",
		zap.Duration("interval", r.opts.Interval),
		zap.Bool("concurrent", r.opts.Concurrent))

	timer := time.NewTimer(r.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("runner stopped")
			return nil
		case <-timer.C:
		}

		r.RunCycle(ctx)
		timer.Reset(r.opts.Interval)
	}
}

// RunCycle attempts every category once at a single instant. In sequential
// mode cancellation is checked before each category; a category already
// started always runs to completion.
func (r *Runner) RunCycle(ctx context.Context) CycleReport {
	r.setState(Collecting)
	defer r.setState(Idle)

	rep := CycleReport{ID: uuid.NewString(), Time: r.opts.Now()}
	cycleLog := logger.WithCycleID(r.log, rep.ID)
	cycleCtx := logger.WithContext(ctx, cycleLog)

	if r.opts.Concurrent {
		r.runConcurrent(cycleCtx, &rep)
	} else {
		r.runSequential(cycleCtx, &rep)
	}

	for _, d := range rep.Diagnostics {
		r.emit(cycleLog, d)
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.Cycles.Inc()
	}
	cycleLog.Debug("cycle finished",
		zap.Int("attempted", len(rep.Outcomes)),
		zap.Int("diagnostics", len(rep.Diagnostics)))
	return rep
}

func (r *Runner) runSequential(ctx context.Context, rep *CycleReport) {
	for _, c := range collector.Categories() {
		if ctx.Err() != nil {
			return
		}
		out, diags := r.process(ctx, rep.ID, rep.Time, c)
		rep.Outcomes = append(rep.Outcomes, out)
		rep.Diagnostics = append(rep.Diagnostics, diags...)
	}
}

func (r *Runner) runConcurrent(ctx context.Context, rep *CycleReport) {
	if ctx.Err() != nil {
		return
	}
	cats := collector.Categories()
	outs := make([]Outcome, len(cats))
	diags := make([][]Diagnostic, len(cats))

	var g errgroup.Group
	for i, c := range cats {
		g.Go(func() error {
			outs[i], diags[i] = r.process(ctx, rep.ID, rep.Time, c)
			return nil
		})
	}
	_ = g.Wait()

	rep.Outcomes = outs
	for _, d := range diags {
		rep.Diagnostics = append(rep.Diagnostics, d...)
	}
}

// process runs Sample -> file -> store for one category. Each call gets a
// context that ignores cancellation of ctx but is bounded by the timeout,
// so a stop request never cuts a write in half. The file and store writes
// are independent: a failure of one does not skip the other.
func (r *Runner) process(ctx context.Context, cycleID string, ts time.Time, c collector.Category) (Outcome, []Diagnostic) {
	out := Outcome{Category: c}
	var diags []Diagnostic
	fail := func(stage Stage, err error) {
		diags = append(diags, Diagnostic{CycleID: cycleID, Time: ts, Category: c, Stage: stage, Err: err})
	}

	base := context.WithoutCancel(ctx)

	var s collector.Sample
	err := r.call(base, func(ctx context.Context) (err error) {
		s, err = r.opts.Sampler.Sample(ctx, c)
		return err
	})
	if err != nil {
		fail(StageSample, err)
		return out, diags
	}
	out.Sampled = true

	err = r.call(base, func(ctx context.Context) error {
		return r.opts.Files.Append(ctx, c, ts, format.LogLine(s, ts))
	})
	if err != nil {
		fail(StageFile, err)
	} else {
		out.Logged = true
		r.record(c, sink.File)
	}

	err = r.call(base, func(ctx context.Context) error {
		return r.opts.Store.Write(ctx, format.InsertStatement(s))
	})
	if err != nil {
		fail(StageDatabase, err)
	} else {
		out.Stored = true
		r.record(c, sink.Database)
	}
	return out, diags
}

func (r *Runner) call(base context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(base, r.opts.Timeout)
	defer cancel()
	return fn(ctx)
}

func (r *Runner) record(c collector.Category, k sink.Kind) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.Records.WithLabelValues(c.Name(), string(k)).Inc()
	}
}

func (r *Runner) emit(log *zap.Logger, d Diagnostic) {
	log.Error("category failed",
		zap.Stringer("category", d.Category),
		zap.String("stage", string(d.Stage)),
		zap.Time("cycle_time", d.Time),
		zap.Error(d.Err))
	if r.opts.Metrics != nil {
		r.opts.Metrics.Diagnostics.WithLabelValues(d.Category.Name(), string(d.Stage)).Inc()
	}
	if r.opts.OnDiagnostic != nil {
		r.opts.OnDiagnostic(d)
	}
}
