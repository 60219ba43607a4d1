// Package session owns the table of live sessions and the operations
// exposed to the surrounding application layer.
package session

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
	"voice-relay/pkg/pipeline"
	"voice-relay/pkg/providers"
	"voice-relay/pkg/stage"
	"voice-relay/pkg/storage"
)

// bytesPerMilli is the ingest audio rate: 16 kHz, 16-bit, mono.
const bytesPerMilli = 32

type entry struct {
	pipe         *pipeline.Pipeline
	lastActivity atomic.Int64 // unix nanos
	lastTs       [2]atomic.Int64
}

func (e *entry) touch(now time.Time) {
	e.lastActivity.Store(now.UnixNano())
}

// Manager enforces one pipeline per session and serializes access to
// the session table, the only structure mutated across sessions.
type Manager struct {
	cfg      *config.Config
	budgets  budget.Budgets
	adapter  *stage.Adapter
	detector providers.VoiceDetector
	store    storage.Store

	mu       sync.RWMutex
	sessions map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg *config.Config, adapter *stage.Adapter, detector providers.VoiceDetector, store storage.Store) *Manager {
	return &Manager{
		cfg:      cfg,
		budgets:  budget.FromConfig(cfg.Budgets),
		adapter:  adapter,
		detector: detector,
		store:    store,
		sessions: make(map[string]*entry),
	}
}

// Start launches the idle-session reaper.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.reap()
}

// Stop ends every live session and waits for the reaper to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if _, err := m.EndSession(id); err != nil {
			logrus.WithField("session_id", id).WithError(err).Warn("Session Manager: shutdown end failed")
		}
	}

	m.cancel()
	m.wg.Wait()
}

// StartSession validates the language pair, registers a new session,
// and activates its pipeline.
func (m *Manager) StartSession(userID, sourceLang, targetLang string) (string, error) {
	if userID == "" {
		return "", models.NewPipelineError(models.FailureInvalidRequest, "", "",
			fmt.Errorf("user id is required"))
	}
	for _, lang := range []string{sourceLang, targetLang} {
		if !m.cfg.Supports(lang) {
			return "", models.NewPipelineError(models.FailureInvalidRequest, "", "",
				fmt.Errorf("unsupported language %q", lang))
		}
	}
	if sourceLang == targetLang {
		return "", models.NewPipelineError(models.FailureInvalidRequest, "", "",
			fmt.Errorf("source and target language must differ"))
	}

	session := models.NewAudioSession(userID, sourceLang, targetLang)
	pipe := pipeline.New(m.cfg.Pipeline, m.cfg.Segmenter, m.budgets, session, m.adapter, m.detector, m.store)
	if err := pipe.Start(m.ctx); err != nil {
		return "", err
	}

	e := &entry{pipe: pipe}
	e.touch(time.Now())

	m.mu.Lock()
	m.sessions[session.ID] = e
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session_id": session.ID,
		"user_id":    userID,
		"source":     sourceLang,
		"target":     targetLang,
	}).Info("Session Manager: session started")
	return session.ID, nil
}

// ProcessAudioChunk admits one chunk. It validates synchronously,
// never blocks on in-flight utterances, and returns once the chunk is
// queued for segmentation. Completed results arrive on Results.
func (m *Manager) ProcessAudioChunk(sessionID string, direction models.Direction, audio []byte, timestamp int64) error {
	if len(audio) == 0 {
		return models.NewPipelineError(models.FailureInvalidRequest, "", "",
			fmt.Errorf("empty audio chunk"))
	}
	if !direction.Valid() {
		return models.NewPipelineError(models.FailureInvalidRequest, "", "",
			fmt.Errorf("invalid direction %d", direction))
	}

	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	if last := e.lastTs[direction].Load(); timestamp < last {
		return models.NewPipelineError(models.FailureInvalidRequest, "", "",
			fmt.Errorf("timestamp %d is behind the stream position %d", timestamp, last))
	}

	duration := int64(len(audio)) / bytesPerMilli
	chunk := models.NewAudioChunk(sessionID, direction, audio, timestamp, duration)
	if err := e.pipe.Ingest(chunk); err != nil {
		return err
	}

	e.lastTs[direction].Store(timestamp + duration)
	e.touch(time.Now())
	return nil
}

// Results returns the ordered utterance delivery channel for a session.
func (m *Manager) Results(sessionID string) (<-chan *models.Utterance, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return e.pipe.Results(), nil
}

// EndSession drains the session's pipeline, blocks until every
// in-flight utterance has been resolved, and removes the session from
// the live table.
func (m *Manager) EndSession(sessionID string) (*models.SessionSummary, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	summary, drainErr := e.pipe.Drain(m.cfg.Session.DrainTimeout)

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	return summary, drainErr
}

// Session returns a snapshot of a live session's state.
func (m *Manager) Session(sessionID string) (models.AudioSession, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return models.AudioSession{}, err
	}
	return e.pipe.Session(), nil
}

func (m *Manager) lookup(sessionID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, models.NewPipelineError(models.FailureInvalidRequest, "", "",
			fmt.Errorf("unknown session %s", sessionID))
	}
	return e, nil
}

// reap force-ends sessions with no chunk activity past the idle
// timeout.
func (m *Manager) reap() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Session.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			cutoff := now.Add(-m.cfg.Session.IdleTimeout).UnixNano()

			m.mu.RLock()
			var idle []string
			for id, e := range m.sessions {
				if e.lastActivity.Load() < cutoff {
					idle = append(idle, id)
				}
			}
			m.mu.RUnlock()

			for _, id := range idle {
				logrus.WithField("session_id", id).Info("Session Manager: force-ending idle session")
				if _, err := m.EndSession(id); err != nil {
					logrus.WithField("session_id", id).WithError(err).Warn("Session Manager: idle end failed")
				}
			}
		case <-m.ctx.Done():
			return
		}
	}
}
