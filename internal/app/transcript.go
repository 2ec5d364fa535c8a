package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxgate/internal/voice"
)

// TranscriptRecord is the YAML document written to transcript.output_path
// when a session ends.
type TranscriptRecord struct {
	SessionID      string            `yaml:"session_id"`
	ConversationID string            `yaml:"conversation_id"`
	AgentID        string            `yaml:"agent_id,omitempty"`
	EndedAt        time.Time         `yaml:"ended_at"`
	EndCause       voice.EndCause    `yaml:"end_cause"`
	Elapsed        time.Duration     `yaml:"elapsed"`
	RemoteDuration time.Duration     `yaml:"remote_duration,omitempty"`
	Utterances     []voice.Utterance `yaml:"utterances"`
}

func (a *App) record(sess *voice.Session, r voice.EndReason) TranscriptRecord {
	return TranscriptRecord{
		SessionID:      sess.ID(),
		ConversationID: a.cfg.Session.ConversationID,
		AgentID:        a.cfg.Session.AgentID,
		EndedAt:        time.Now().UTC(),
		EndCause:       r.Cause,
		Elapsed:        r.Elapsed,
		RemoteDuration: r.RemoteDuration,
		Utterances:     voice.Consolidate(sess.Transcript()),
	}
}

// WriteTranscript marshals rec as YAML and replaces the file at path. The
// document is written to a temporary file in the same directory first so a
// reader never sees a partial transcript.
func WriteTranscript(path string, rec TranscriptRecord) error {
	if rec.Utterances == nil {
		rec.Utterances = []voice.Utterance{}
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("app: marshal transcript: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*.yaml")
	if err != nil {
		return fmt.Errorf("app: write transcript: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("app: write transcript: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("app: write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("app: write transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("app: write transcript: %w", err)
	}
	return nil
}

// ReadTranscript loads a document written by [WriteTranscript].
func ReadTranscript(path string) (TranscriptRecord, error) {
	var rec TranscriptRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("app: read transcript: %w", err)
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("app: parse transcript: %w", err)
	}
	return rec, nil
}
