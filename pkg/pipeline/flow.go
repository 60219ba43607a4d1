package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-relay/pkg/models"
	"voice-relay/pkg/segmenter"
)

// maxTranslationHints bounds the recent-transcript context passed to
// translators.
const maxTranslationHints = 3

// job carries one utterance through the stage goroutines together
// with its processing start time, which anchors every budget check.
type job struct {
	utt   *models.Utterance
	start time.Time
}

// directionFlow is one direction of a session: a bounded ingest
// channel feeding the segmenter, then one goroutine per stage joined
// by FIFO channels. One worker per stage keeps emission order equal to
// segmentation order while consecutive utterances overlap across
// stages.
type directionFlow struct {
	direction  models.Direction
	sourceLang string
	targetLang string

	ingest      chan *models.AudioChunk
	seg         *segmenter.Segmenter
	translateCh chan *job
	synthCh     chan *job
	emitCh      chan *job

	chunkSeq atomic.Uint64
	inFlight atomic.Int64

	// hints is touched only by the translate-stage goroutine.
	hints []string
}

func (p *Pipeline) newFlow(direction models.Direction) *directionFlow {
	sourceLang, targetLang := p.session.SourceLanguage, p.session.TargetLanguage
	if direction == models.DirectionOutbound {
		sourceLang, targetLang = targetLang, sourceLang
	}

	flow := &directionFlow{
		direction:   direction,
		sourceLang:  sourceLang,
		targetLang:  targetLang,
		ingest:      make(chan *models.AudioChunk, p.segCfg.ChunkQueueSize),
		translateCh: make(chan *job, p.cfg.StageQueueSize),
		synthCh:     make(chan *job, p.cfg.StageQueueSize),
		emitCh:      make(chan *job, p.cfg.StageQueueSize),
	}
	flow.seg = segmenter.New(p.segCfg, p.detector, p.session.ID, direction, sourceLang, flow.ingest)
	return flow
}

// forward hands a job to the next stage, giving up only on shutdown.
func (p *Pipeline) forward(ch chan<- *job, j *job) bool {
	select {
	case ch <- j:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *Pipeline) runTranscribe(flow *directionFlow) {
	defer p.wg.Done()
	defer close(flow.translateCh)

	for u := range flow.seg.Utterances() {
		flow.inFlight.Add(1)
		j := &job{utt: u, start: p.now()}

		result, err := p.adapter.Transcribe(p.ctx, u.Audio, u.SourceLanguage, j.start)
		u.Stages = append(u.Stages, result)
		if err != nil {
			p.failUtterance(u, err)
		} else {
			u.Transcript = result.Text
		}

		if !p.forward(flow.translateCh, j) {
			return
		}
	}
}

func (p *Pipeline) runTranslate(flow *directionFlow) {
	defer p.wg.Done()
	defer close(flow.synthCh)

	for j := range flow.translateCh {
		if u := j.utt; u.Status == models.UtterancePending {
			hints := append([]string(nil), flow.hints...)
			result, err := p.adapter.Translate(p.ctx, u.Transcript, flow.sourceLang, flow.targetLang, hints, j.start)
			u.Stages = append(u.Stages, result)
			if err != nil {
				p.failUtterance(u, err)
			} else {
				u.TranslatedText = result.Text
				flow.hints = append(flow.hints, u.Transcript)
				if len(flow.hints) > maxTranslationHints {
					flow.hints = flow.hints[len(flow.hints)-maxTranslationHints:]
				}
			}
		}

		if !p.forward(flow.synthCh, j) {
			return
		}
	}
}

func (p *Pipeline) runSynthesize(flow *directionFlow) {
	defer p.wg.Done()
	defer close(flow.emitCh)

	for j := range flow.synthCh {
		if u := j.utt; u.Status == models.UtterancePending {
			result, err := p.adapter.Synthesize(p.ctx, u.TranslatedText, flow.targetLang, j.start)
			if err != nil {
				u.Stages = append(u.Stages, result)
				p.failUtterance(u, err)
			} else {
				ref := uuid.New().String()
				if putErr := p.store.PutAudio(ref, result.Audio); putErr != nil {
					p.toError(models.NewPipelineError(models.FailureSessionFault, models.StageSynthesize, "",
						fmt.Errorf("failed to store synthesized audio: %w", putErr)))
					return
				}
				// The payload lives behind the reference; keep the
				// utterance record lean.
				result.Audio = nil
				u.Stages = append(u.Stages, result)
				u.AudioRef = ref
			}
		}

		if !p.forward(flow.emitCh, j) {
			return
		}
	}
}

// runEmit finalizes utterances in segmentation order, appends them to
// the session log, and delivers them to the caller.
func (p *Pipeline) runEmit(flow *directionFlow) {
	defer p.wg.Done()

	for j := range flow.emitCh {
		u := j.utt
		u.TotalLatency = p.now().Sub(j.start)
		if u.Status == models.UtterancePending {
			u.Status = models.UtteranceCompleted
		}

		if err := p.store.AppendUtterance(u.SessionID, u); err != nil {
			p.toError(models.NewPipelineError(models.FailureSessionFault, "", "",
				fmt.Errorf("failed to append utterance: %w", err)))
			return
		}

		p.sessionMu.Lock()
		p.session.RecordUtterance(u)
		p.sessionMu.Unlock()

		fields := logrus.Fields{
			"session_id": u.SessionID,
			"direction":  u.Direction.String(),
			"seq":        u.Seq,
			"status":     u.Status,
			"elapsed":    u.TotalLatency,
		}
		for _, s := range u.Stages {
			fields[string(s.Stage)+"_provider"] = s.Provider
		}
		if u.Status == models.UtteranceFailed {
			fields["failure"] = u.FailureKind
			logrus.WithFields(fields).Warn("Pipeline: utterance failed")
		} else {
			logrus.WithFields(fields).Info("Pipeline: utterance completed")
		}

		flow.inFlight.Add(-1)
		select {
		case p.results <- u:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pipeline) failUtterance(u *models.Utterance, err error) {
	u.Status = models.UtteranceFailed
	if kind := models.KindOf(err); kind != "" {
		u.FailureKind = kind
	} else {
		u.FailureKind = models.FailureStageExhausted
	}
}
