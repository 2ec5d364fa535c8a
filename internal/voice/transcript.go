package voice

import (
	"strings"
	"sync"
)

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"

	// SpeakerSystem marks notes generated locally, such as remote errors.
	SpeakerSystem Speaker = "system"
)

// speakerForRole maps a wire transcript role to a Speaker. Anything that is
// not the user is attributed to the assistant.
func speakerForRole(role string) Speaker {
	if role == string(SpeakerUser) {
		return SpeakerUser
	}
	return SpeakerAssistant
}

// Utterance is one turn of the conversation as far as it has been
// transcribed.
type Utterance struct {
	Speaker Speaker `yaml:"speaker"`
	Text    string  `yaml:"text"`
}

// Accumulator merges streamed transcript fragments into utterances. A change
// of speaker starts a new utterance; consecutive fragments from the same
// speaker are concatenated verbatim. It is safe for concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	utts  []Utterance
	notes map[int]bool
}

// Append adds a fragment and returns the index of the utterance it landed in.
// Empty fragments are ignored and report ok == false.
func (a *Accumulator) Append(speaker Speaker, fragment string) (index int, ok bool) {
	if fragment == "" {
		return -1, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.utts); n > 0 && a.utts[n-1].Speaker == speaker && !a.notes[n-1] {
		a.utts[n-1].Text += fragment
		return n - 1, true
	}
	a.utts = append(a.utts, Utterance{Speaker: speaker, Text: fragment})
	return len(a.utts) - 1, true
}

// Note appends a standalone system utterance that later fragments never
// merge into.
func (a *Accumulator) Note(text string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.notes == nil {
		a.notes = make(map[int]bool)
	}
	a.utts = append(a.utts, Utterance{Speaker: SpeakerSystem, Text: text})
	idx := len(a.utts) - 1
	a.notes[idx] = true
	return idx
}

// At returns the utterance at index i.
func (a *Accumulator) At(i int) Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.utts[i]
}

// Len returns the number of utterances.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.utts)
}

// Snapshot returns a copy of all utterances in order.
func (a *Accumulator) Snapshot() []Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Utterance, len(a.utts))
	copy(out, a.utts)
	return out
}

// Consolidate returns utts with adjacent same-speaker entries joined and
// whitespace-only entries removed. It is the form a finished transcript is
// stored in.
func Consolidate(utts []Utterance) []Utterance {
	var out []Utterance
	for _, u := range utts {
		if n := len(out); n > 0 && out[n-1].Speaker == u.Speaker {
			out[n-1].Text += u.Text
			continue
		}
		out = append(out, u)
	}
	kept := out[:0]
	for _, u := range out {
		if strings.TrimSpace(u.Text) != "" {
			kept = append(kept, u)
		}
	}
	return kept
}
