package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/scamshield/internal/alert"
	"github.com/mbd888/scamshield/internal/analysis"
	"github.com/mbd888/scamshield/internal/archive"
	"github.com/mbd888/scamshield/internal/capture"
	"github.com/mbd888/scamshield/internal/history"
	"github.com/mbd888/scamshield/internal/idgen"
	"github.com/mbd888/scamshield/internal/logging"
	"github.com/mbd888/scamshield/internal/metrics"
	"github.com/mbd888/scamshield/internal/risk"
	"github.com/mbd888/scamshield/internal/traces"
)

const archiveTimeout = 10 * time.Second

// Recorder is the capture side. *capture.Pipeline implements it.
type Recorder interface {
	Start(ctx context.Context) (<-chan capture.Completion, error)
	Stop() (*capture.Artifact, error)
	Abort()
}

// Analyzer submits audio to a named backend. *analysis.Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, art *capture.Artifact, backend string) (*risk.Raw, error)
	Has(backend string) bool
}

// Emitter receives session events. *realtime.Hub implements it.
type Emitter interface {
	Publish(eventType, sessionID string, data any)
}

// Deps wires an Orchestrator. Recorder, Analyzer and Backend are required.
type Deps struct {
	Recorder   Recorder
	Analyzer   Analyzer
	Backend    string
	Classifier *risk.Classifier
	History    *history.Store
	Alerts     *alert.Dispatcher
	Archive    archive.Store
	Emitter    Emitter
	Logger     *slog.Logger
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdTeardown
	cmdSelectBackend
)

type command struct {
	kind    cmdKind
	backend string
	reply   chan reply
}

type reply struct {
	snap Session
	err  error
}

type analysisResult struct {
	gen uint64
	raw *risk.Raw
	err error
}

// Orchestrator drives sessions through
// idle → recording → encoding → analyzing → resolved | failed.
type Orchestrator struct {
	deps Deps
	log  *slog.Logger
	now  func() time.Time

	cmds    chan command
	results chan analysisResult
	done    chan struct{}
	bg      sync.WaitGroup

	// Owned by the run loop.
	ctx            context.Context
	cur            *Session
	backend        string
	completion     <-chan capture.Completion
	artifact       *capture.Artifact
	cancelAnalysis context.CancelFunc
	gen            uint64

	mu       sync.RWMutex
	snap     Session
	selected string
}

// New validates deps and fills optional collaborators with defaults.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Recorder == nil {
		return nil, errors.New("session: recorder required")
	}
	if deps.Analyzer == nil {
		return nil, errors.New("session: analyzer required")
	}
	if !deps.Analyzer.Has(deps.Backend) {
		return nil, fmt.Errorf("%w: %q", analysis.ErrUnknownBackend, deps.Backend)
	}
	if deps.Classifier == nil {
		deps.Classifier = risk.NewClassifier()
	}
	if deps.History == nil {
		deps.History = history.NewStore(history.DefaultCapacity)
	}
	if deps.Alerts == nil {
		deps.Alerts = alert.NewDispatcher()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	o := &Orchestrator{
		deps:     deps,
		log:      deps.Logger,
		now:      time.Now,
		cmds:     make(chan command),
		results:  make(chan analysisResult),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		backend:  deps.Backend,
		selected: deps.Backend,
	}
	o.snap = o.snapshot()
	return o, nil
}

// WithClock overrides the time source for session timestamps.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// History returns the store resolved sessions are recorded in.
func (o *Orchestrator) History() *history.Store { return o.deps.History }

// Alerts returns the alert dispatcher.
func (o *Orchestrator) Alerts() *alert.Dispatcher { return o.deps.Alerts }

// Run processes requests and events until ctx is done, then tears down any
// live session. It must be running for the request methods to return.
func (o *Orchestrator) Run(ctx context.Context) {
	o.ctx = ctx
	defer close(o.done)
	defer o.bg.Wait()

	o.log.Info("session orchestrator started", "backend", o.backend)
	for {
		select {
		case <-ctx.Done():
			o.teardown()
			o.log.Info("session orchestrator stopped")
			return

		case cmd := <-o.cmds:
			cmd.reply <- o.handle(cmd)

		case c, ok := <-o.completion:
			o.completion = nil
			if ok {
				o.onCaptured(c)
			}

		case r := <-o.results:
			o.onAnalyzed(r)
		}
	}
}

// Start begins recording. It fails with ErrSessionActive while a session is
// recording, encoding or analyzing; nothing is acquired in that case.
func (o *Orchestrator) Start(ctx context.Context) (Session, error) {
	return o.do(ctx, command{kind: cmdStart})
}

// Stop ends the recording and dispatches it for analysis. The returned
// snapshot is already past recording.
func (o *Orchestrator) Stop(ctx context.Context) (Session, error) {
	return o.do(ctx, command{kind: cmdStop})
}

// Teardown releases capture, abandons any analysis in flight and returns to
// idle from any state. It never reports the abandoned work as a failure.
func (o *Orchestrator) Teardown(ctx context.Context) (Session, error) {
	return o.do(ctx, command{kind: cmdTeardown})
}

// SelectBackend chooses the analyzer backend for the next dispatch.
func (o *Orchestrator) SelectBackend(ctx context.Context, name string) error {
	_, err := o.do(ctx, command{kind: cmdSelectBackend, backend: name})
	return err
}

// Snapshot returns a copy of the current session, or an idle placeholder.
func (o *Orchestrator) Snapshot() Session {
	o.mu.RLock()
	snap := o.snap
	o.mu.RUnlock()
	return o.withElapsed(snap)
}

// withElapsed fills the running recording time, capped at the capture limit.
// Once capture completes Elapsed is the artifact's length instead.
func (o *Orchestrator) withElapsed(s Session) Session {
	if s.State != StateRecording || s.StartedAt == nil {
		return s
	}
	d := min(max(o.now().Sub(*s.StartedAt), 0), capture.MaxDuration)
	s.Elapsed = d.Seconds()
	return s
}

// Backend returns the backend the next session will use.
func (o *Orchestrator) Backend() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.selected
}

func (o *Orchestrator) do(ctx context.Context, c command) (Session, error) {
	c.reply = make(chan reply, 1)
	select {
	case o.cmds <- c:
	case <-o.done:
		return Session{}, ErrClosed
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
	r := <-c.reply
	return r.snap, r.err
}

func (o *Orchestrator) handle(c command) reply {
	switch c.kind {
	case cmdStart:
		err := o.start()
		return reply{snap: o.snapshot(), err: err}
	case cmdStop:
		err := o.stop()
		return reply{snap: o.snapshot(), err: err}
	case cmdTeardown:
		o.teardown()
		return reply{snap: o.snapshot()}
	case cmdSelectBackend:
		if !o.deps.Analyzer.Has(c.backend) {
			return reply{snap: o.snapshot(), err: fmt.Errorf("%w: %q", analysis.ErrUnknownBackend, c.backend)}
		}
		o.backend = c.backend
		o.publishState()
		o.log.Info("analysis backend selected", "backend", c.backend)
		return reply{snap: o.snapshot()}
	default:
		return reply{snap: o.snapshot(), err: fmt.Errorf("session: unknown command %d", c.kind)}
	}
}

func (o *Orchestrator) start() error {
	if o.cur != nil && o.cur.State.Active() {
		return ErrSessionActive
	}

	completion, err := o.deps.Recorder.Start(o.ctx)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(KindDeviceUnavailable).Inc()
		o.log.Warn("capture start failed", "error", err)
		return err
	}

	now := o.now()
	o.gen++
	o.cur = &Session{
		ID:        idgen.Session(),
		State:     StateRecording,
		Backend:   o.backend,
		StartedAt: &now,
	}
	o.completion = completion
	o.artifact = nil
	metrics.ActiveSessions.Set(1)
	o.log.Info("session started", "session_id", o.cur.ID, "backend", o.backend)
	o.publishState()
	return nil
}

func (o *Orchestrator) stop() error {
	if o.cur == nil || o.cur.State != StateRecording || o.completion == nil {
		return ErrNotRecording
	}
	// The cap timer may already be finishing; either way exactly one
	// completion arrives.
	_, _ = o.deps.Recorder.Stop()
	c, ok := <-o.completion
	o.completion = nil
	if ok {
		o.onCaptured(c)
	}
	return nil
}

func (o *Orchestrator) onCaptured(c capture.Completion) {
	if o.cur == nil || o.cur.State != StateRecording || c.Cause == capture.CauseAborted {
		return
	}
	s := o.cur
	stopped := o.now()
	s.StoppedAt = &stopped
	s.StopCause = c.Cause
	if c.Artifact != nil {
		s.Elapsed = c.Artifact.Seconds()
		s.AudioBytes = len(c.Artifact.Data)
	}
	s.State = StateEncoding
	o.publishState()

	empty := c.Artifact == nil || c.Artifact.Empty()
	switch {
	case c.Err != nil && empty:
		o.fail(c.Err)
		return
	case empty:
		o.fail(ErrNoAudio)
		return
	case c.Err != nil:
		o.log.Warn("capture ended early, analyzing partial audio", "session_id", s.ID, "error", c.Err)
	}
	o.dispatch(c.Artifact)
}

func (o *Orchestrator) dispatch(art *capture.Artifact) {
	s := o.cur
	s.State = StateAnalyzing
	s.Backend = o.backend
	o.artifact = art

	ctx, cancel := context.WithCancel(logging.WithSessionID(o.ctx, s.ID))
	o.cancelAnalysis = cancel
	gen, backend := o.gen, s.Backend

	go func() {
		raw, err := o.deps.Analyzer.Analyze(ctx, art, backend)
		select {
		case o.results <- analysisResult{gen: gen, raw: raw, err: err}:
		case <-o.done:
		}
	}()

	o.log.Info("audio dispatched for analysis", "session_id", s.ID, "backend", backend,
		"audio_bytes", len(art.Data), "stop_cause", s.StopCause)
	o.publishState()
}

func (o *Orchestrator) onAnalyzed(r analysisResult) {
	if r.gen != o.gen || o.cur == nil || o.cur.State != StateAnalyzing {
		return // torn down while in flight
	}
	if o.cancelAnalysis != nil {
		o.cancelAnalysis()
		o.cancelAnalysis = nil
	}
	if r.err != nil {
		o.fail(r.err)
		return
	}
	o.resolve(r.raw)
}

func (o *Orchestrator) resolve(raw *risk.Raw) {
	s := o.cur
	ctx := logging.WithSessionID(o.ctx, s.ID)
	ctx, span := traces.StartSpan(ctx, "session.resolve", traces.SessionID(s.ID), traces.Backend(s.Backend))
	defer span.End()

	res := o.deps.Classifier.Classify(raw)
	span.SetAttributes(
		traces.RiskScore(res.RiskScore),
		traces.RiskLevel(string(res.RiskLevel)),
		traces.ScamDetected(res.ScamDetected),
	)

	s.Result = res
	s.State = StateResolved
	s.CallID = idgen.Call()

	var dur time.Duration
	if o.artifact != nil {
		dur = o.artifact.Duration
	}
	entry := history.NewEntry(s.ID, dur, res)
	entry.CallID = s.CallID
	o.deps.History.Record(entry)
	o.deps.Alerts.OnResolved(ctx, s.ID, res)
	o.archive(ctx, archive.NewCall(s.CallID, s.ID, dur, res))

	metrics.SessionsTotal.WithLabelValues(string(StateResolved)).Inc()
	metrics.VerdictsTotal.WithLabelValues(string(res.RiskLevel), strconv.FormatBool(res.ScamDetected)).Inc()
	metrics.ActiveSessions.Set(0)
	logging.L(ctx).Info("session resolved",
		"risk_score", res.RiskScore, "risk_level", res.RiskLevel,
		"scam_detected", res.ScamDetected, "speakers", res.SpeakerCount, "degraded", res.Degraded)

	o.publishState()
	o.emit(EventResolved, s.ID, res)
}

// archive saves in the background; failures are logged and never affect the
// session outcome.
func (o *Orchestrator) archive(ctx context.Context, call *archive.Call) {
	if o.deps.Archive == nil {
		return
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := o.deps.Archive.Save(ctx, call); err != nil {
			logging.L(ctx).Error("failed to archive call", "call_id", call.ID, "error", err)
		}
	}()
}

func (o *Orchestrator) fail(err error) {
	s := o.cur
	ue := Classify(err)
	s.Error = ue
	s.State = StateFailed
	o.artifact = nil

	metrics.SessionsTotal.WithLabelValues(string(StateFailed)).Inc()
	metrics.ActiveSessions.Set(0)
	o.log.Warn("session failed", "session_id", s.ID, "kind", ue.Kind, "error", err)

	o.publishState()
	o.emit(EventFailed, s.ID, ue)
}

func (o *Orchestrator) teardown() {
	wasActive := o.cur != nil && o.cur.State.Active()

	o.gen++
	if o.cancelAnalysis != nil {
		o.cancelAnalysis()
		o.cancelAnalysis = nil
	}
	o.deps.Recorder.Abort()
	o.completion = nil
	o.artifact = nil

	if wasActive {
		metrics.SessionsTotal.WithLabelValues("torn_down").Inc()
		o.log.Info("session torn down", "session_id", o.cur.ID, "state", o.cur.State)
	}
	o.cur = nil
	metrics.ActiveSessions.Set(0)
	o.publishState()
}

// snapshot copies loop state; only the run loop (or New) calls it.
func (o *Orchestrator) snapshot() Session {
	if o.cur == nil {
		return Session{State: StateIdle, Backend: o.backend}
	}
	return *o.cur
}

func (o *Orchestrator) publishState() {
	snap := o.snapshot()
	o.mu.Lock()
	o.snap = snap
	o.selected = o.backend
	o.mu.Unlock()
	o.emit(EventState, snap.ID, snap)
}

func (o *Orchestrator) emit(eventType, sessionID string, data any) {
	if o.deps.Emitter != nil {
		o.deps.Emitter.Publish(eventType, sessionID, data)
	}
}
