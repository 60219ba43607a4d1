// Package pipeline runs the per-session translation state machine:
// segmented utterances flow through transcription, translation, and
// synthesis under the latency budget, and results are emitted back to
// the caller in per-direction order.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"voice-relay/pkg/budget"
	"voice-relay/pkg/config"
	"voice-relay/pkg/models"
	"voice-relay/pkg/providers"
	"voice-relay/pkg/stage"
	"voice-relay/pkg/storage"
)

// State is the pipeline lifecycle position. Transitions are one-way:
// Created -> Active -> Draining -> Completed, with Error reachable
// from Active and Draining on unrecoverable faults.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateDraining
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Pipeline owns all processing for one session. Exactly one pipeline
// instance processes a session's audio; session state is never
// shared-mutated across sessions.
type Pipeline struct {
	cfg     config.PipelineConfig
	segCfg  config.SegmenterConfig
	budgets budget.Budgets

	session   *models.AudioSession
	sessionMu sync.Mutex

	adapter  *stage.Adapter
	detector providers.VoiceDetector
	store    storage.Store

	flows   [2]*directionFlow
	results chan *models.Utterance

	state  atomic.Int32
	fault  atomic.Value // error
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	drainOnce sync.Once
	faultOnce sync.Once

	// ingestMu serializes chunk admission against ingest-channel close
	// during the Active -> Draining transition.
	ingestMu sync.RWMutex

	now func() time.Time
}

func New(cfg config.PipelineConfig, segCfg config.SegmenterConfig, budgets budget.Budgets, session *models.AudioSession, adapter *stage.Adapter, detector providers.VoiceDetector, store storage.Store) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		segCfg:   segCfg,
		budgets:  budgets,
		session:  session,
		adapter:  adapter,
		detector: detector,
		store:    store,
		results:  make(chan *models.Utterance, cfg.ResultQueueSize),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Session returns a snapshot of the session record.
func (p *Pipeline) Session() models.AudioSession {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()
	return *p.session
}

// Results delivers finished utterances in per-direction emission
// order. The channel closes once every in-flight utterance has been
// delivered and the pipeline has stopped.
func (p *Pipeline) Results() <-chan *models.Utterance {
	return p.results
}

// Start registers the session with storage and transitions
// Created -> Active, launching both direction flows.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateCreated), int32(StateActive)) {
		return models.NewPipelineError(models.FailureInvalidRequest, "", "",
			fmt.Errorf("pipeline already started"))
	}

	if err := p.store.SaveSession(p.session); err != nil {
		p.state.Store(int32(StateError))
		return models.NewPipelineError(models.FailureSessionFault, "", "",
			fmt.Errorf("failed to register session: %w", err))
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	for _, d := range []models.Direction{models.DirectionInbound, models.DirectionOutbound} {
		flow := p.newFlow(d)
		p.flows[d] = flow
		p.wg.Add(4)
		go flow.seg.Run(p.ctx)
		go p.runTranscribe(flow)
		go p.runTranslate(flow)
		go p.runSynthesize(flow)
		go p.runEmit(flow)
	}

	go func() {
		p.wg.Wait()
		close(p.results)
		close(p.done)
	}()

	logrus.WithFields(logrus.Fields{
		"session_id": p.session.ID,
		"source":     p.session.SourceLanguage,
		"target":     p.session.TargetLanguage,
	}).Info("Pipeline: session active")
	return nil
}

// Ingest admits one chunk into its direction flow. It never blocks on
// in-flight work: a full queue or in-flight limit rejects the chunk
// synchronously and the caller must slow down.
func (p *Pipeline) Ingest(chunk *models.AudioChunk) error {
	p.ingestMu.RLock()
	defer p.ingestMu.RUnlock()

	if p.State() != StateActive {
		return models.NewPipelineError(models.FailureInvalidRequest, "", "",
			fmt.Errorf("session is %s, not accepting chunks", p.State()))
	}

	flow := p.flows[chunk.Direction]
	if flow.inFlight.Load() >= int64(p.cfg.MaxInFlight) {
		return fmt.Errorf("too many utterances in flight for direction %s", chunk.Direction)
	}
	chunk.Seq = flow.chunkSeq.Add(1) - 1

	select {
	case flow.ingest <- chunk:
		return nil
	case <-p.ctx.Done():
		return models.NewPipelineError(models.FailureInvalidRequest, "", "",
			fmt.Errorf("session shutting down"))
	default:
		return fmt.Errorf("chunk queue full for direction %s", chunk.Direction)
	}
}

// Drain stops chunk admission, lets all in-flight utterances finish,
// and completes the session. Blocks until Completed or the timeout
// forces cancellation of any remaining stage calls.
func (p *Pipeline) Drain(timeout time.Duration) (*models.SessionSummary, error) {
	swapped := p.state.CompareAndSwap(int32(StateActive), int32(StateDraining))
	if !swapped && p.State() == StateError {
		return nil, p.Fault()
	}
	if !swapped && p.State() != StateDraining {
		return nil, models.NewPipelineError(models.FailureInvalidRequest, "", "",
			fmt.Errorf("session is %s, cannot end", p.State()))
	}
	if swapped {
		p.drainOnce.Do(func() {
			p.ingestMu.Lock()
			for _, flow := range p.flows {
				close(flow.ingest)
			}
			p.ingestMu.Unlock()
		})
	}

	select {
	case <-p.done:
	case <-time.After(timeout):
		// Current attempts get their deadline; past it, cut them off.
		p.cancel()
		<-p.done
	}

	if err, ok := p.fault.Load().(error); ok && err != nil {
		return nil, err
	}

	summary := p.summarize()
	if err := p.store.SaveSessionSummary(summary); err != nil {
		p.toError(models.NewPipelineError(models.FailureSessionFault, "", "",
			fmt.Errorf("failed to save session summary: %w", err)))
		return nil, p.fault.Load().(error)
	}

	p.state.Store(int32(StateCompleted))
	p.sessionMu.Lock()
	p.session.Status = models.SessionCompleted
	session := *p.session
	p.sessionMu.Unlock()
	if err := p.store.SaveSession(&session); err != nil {
		logrus.WithError(err).Warn("Pipeline: failed to persist completed session")
	}
	p.cancel()

	logrus.WithFields(logrus.Fields{
		"session_id": summary.SessionID,
		"utterances": summary.UtteranceCount,
		"failed":     summary.FailedCount,
		"avg_ms":     summary.AvgLatencyMs,
	}).Info("Pipeline: session completed")
	return summary, nil
}

func (p *Pipeline) summarize() *models.SessionSummary {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()
	return &models.SessionSummary{
		SessionID:      p.session.ID,
		Duration:       p.now().Sub(p.session.CreatedAt),
		UtteranceCount: p.session.UtteranceCount,
		FailedCount:    p.session.FailedCount,
		AvgLatencyMs:   p.session.AvgLatencyMs,
	}
}

// toError moves the session to the terminal Error state. Only faults
// outside the retry/fallback envelope land here.
func (p *Pipeline) toError(err error) {
	p.faultOnce.Do(func() {
		p.fault.Store(err)
		p.state.Store(int32(StateError))
		p.sessionMu.Lock()
		p.session.Status = models.SessionError
		session := *p.session
		p.sessionMu.Unlock()
		if saveErr := p.store.SaveSession(&session); saveErr != nil {
			logrus.WithError(saveErr).Warn("Pipeline: failed to persist errored session")
		}
		logrus.WithFields(logrus.Fields{
			"session_id": session.ID,
		}).WithError(err).Error("Pipeline: session fault")
		p.cancel()
	})
}

// Fault returns the session-level error, if the pipeline has one.
func (p *Pipeline) Fault() error {
	if err, ok := p.fault.Load().(error); ok {
		return err
	}
	return nil
}
