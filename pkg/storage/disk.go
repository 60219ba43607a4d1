package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"

	"voice-relay/pkg/models"
)

// diskStore persists sessions, utterances, summaries, and synthesized
// audio in an embedded badger database.
type diskStore struct {
	db *badger.DB
}

func NewDiskStore(path string) (Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(path, "badger"))
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &diskStore{db: db}, nil
}

func sessionKey(id string) []byte          { return []byte("session:" + id) }
func summaryKey(id string) []byte          { return []byte("summary:" + id) }
func audioKey(ref string) []byte           { return []byte("audio:" + ref) }
func utterancePrefix(sessionID string) []byte {
	return []byte("utt:" + sessionID + ":")
}
func utteranceKey(u *models.Utterance) []byte {
	return []byte(fmt.Sprintf("utt:%s:%d:%012d", u.SessionID, u.Direction, u.Seq))
}

func (s *diskStore) setJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *diskStore) getJSON(key []byte, v interface{}, missing error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if err == badger.ErrKeyNotFound {
		return missing
	}
	return err
}

func (s *diskStore) SaveSession(session *models.AudioSession) error {
	return s.setJSON(sessionKey(session.ID), session)
}

func (s *diskStore) LoadSession(id string) (*models.AudioSession, error) {
	var session models.AudioSession
	if err := s.getJSON(sessionKey(id), &session, ErrSessionNotFound); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *diskStore) AppendUtterance(sessionID string, u *models.Utterance) error {
	// Raw input audio is not persisted; it has served its purpose once
	// the stages ran. Synthesized output lives behind AudioRef.
	record := *u
	record.Audio = nil
	return s.setJSON(utteranceKey(u), &record)
}

func (s *diskStore) ListUtterances(sessionID string) ([]*models.Utterance, error) {
	var utterances []*models.Utterance
	prefix := utterancePrefix(sessionID)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var u models.Utterance
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &u)
			})
			if err != nil {
				return err
			}
			utterances = append(utterances, &u)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list utterances: %w", err)
	}
	return utterances, nil
}

func (s *diskStore) SaveSessionSummary(summary *models.SessionSummary) error {
	return s.setJSON(summaryKey(summary.SessionID), summary)
}

func (s *diskStore) LoadSessionSummary(sessionID string) (*models.SessionSummary, error) {
	var summary models.SessionSummary
	if err := s.getJSON(summaryKey(sessionID), &summary, ErrSummaryNotFound); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *diskStore) PutAudio(ref string, audio []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(audioKey(ref), audio)
	})
}

func (s *diskStore) GetAudio(ref string) ([]byte, error) {
	var audio []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(audioKey(ref))
		if err != nil {
			return err
		}
		audio, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrAudioNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audio: %w", err)
	}
	return audio, nil
}

func (s *diskStore) Close() error {
	return s.db.Close()
}
