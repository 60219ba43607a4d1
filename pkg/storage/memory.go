package storage

import (
	"errors"
	"sort"
	"sync"

	"voice-relay/pkg/models"
)

// memoryStore is the in-process Store used by tests and single-node
// development runs.
type memoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*models.AudioSession
	utterances map[string][]*models.Utterance
	summaries  map[string]*models.SessionSummary
	audio      map[string][]byte

	// FailAppends, when set via the concrete type, makes utterance
	// persistence fail. Used to exercise session fault handling.
	failAppends bool
}

type MemoryStore struct {
	*memoryStore
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{&memoryStore{
		sessions:   make(map[string]*models.AudioSession),
		utterances: make(map[string][]*models.Utterance),
		summaries:  make(map[string]*models.SessionSummary),
		audio:      make(map[string][]byte),
	}}
}

// FailAppends toggles scripted persistence failures.
func (s *MemoryStore) FailAppends(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppends = fail
}

func (s *memoryStore) SaveSession(session *models.AudioSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *memoryStore) LoadSession(id string) (*models.AudioSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *memoryStore) AppendUtterance(sessionID string, u *models.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppends {
		return errors.New("utterance append rejected")
	}
	record := *u
	record.Audio = nil
	s.utterances[sessionID] = append(s.utterances[sessionID], &record)
	return nil
}

func (s *memoryStore) ListUtterances(sessionID string) ([]*models.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*models.Utterance, len(s.utterances[sessionID]))
	copy(list, s.utterances[sessionID])
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Direction != list[j].Direction {
			return list[i].Direction < list[j].Direction
		}
		return list[i].Seq < list[j].Seq
	})
	return list, nil
}

func (s *memoryStore) SaveSessionSummary(summary *models.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *summary
	s.summaries[summary.SessionID] = &copied
	return nil
}

func (s *memoryStore) LoadSessionSummary(sessionID string) (*models.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[sessionID]
	if !ok {
		return nil, ErrSummaryNotFound
	}
	copied := *summary
	return &copied, nil
}

func (s *memoryStore) PutAudio(ref string, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio[ref] = append([]byte(nil), audio...)
	return nil
}

func (s *memoryStore) GetAudio(ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	audio, ok := s.audio[ref]
	if !ok {
		return nil, ErrAudioNotFound
	}
	return append([]byte(nil), audio...), nil
}

func (s *memoryStore) Close() error { return nil }
