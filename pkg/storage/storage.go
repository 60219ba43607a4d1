package storage

import (
	"fmt"

	"voice-relay/pkg/models"
)

// Store is the durable collaborator for session bookkeeping. Failures
// surface to the pipeline as session faults.
type Store interface {
	SaveSession(session *models.AudioSession) error
	LoadSession(id string) (*models.AudioSession, error)

	AppendUtterance(sessionID string, u *models.Utterance) error
	ListUtterances(sessionID string) ([]*models.Utterance, error)

	SaveSessionSummary(summary *models.SessionSummary) error
	LoadSessionSummary(sessionID string) (*models.SessionSummary, error)

	// PutAudio stores synthesized audio under an opaque reference.
	PutAudio(ref string, audio []byte) error
	GetAudio(ref string) ([]byte, error)

	Close() error
}

var (
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrSummaryNotFound = fmt.Errorf("session summary not found")
	ErrAudioNotFound   = fmt.Errorf("audio reference not found")
)
