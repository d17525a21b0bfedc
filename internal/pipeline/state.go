package pipeline

import (
	"github.com/dvloznov/budgetflow/internal/domain"
)

// Phase is a document's position in the processing state machine.
type Phase string

const (
	PhaseStart             Phase = "START"
	PhaseDownloaded        Phase = "DOWNLOADED"
	PhaseHashed            Phase = "HASHED"
	PhaseDuplicate         Phase = "DUPLICATE"
	PhaseExtracting        Phase = "EXTRACTING"
	PhaseExtracted         Phase = "EXTRACTED"
	PhaseArchived          Phase = "ARCHIVED"
	PhaseMovedToDuplicates Phase = "MOVED_TO_DUPLICATES"
	PhaseErrored           Phase = "ERRORED"
	PhaseLedgered          Phase = "LEDGERED"
	PhaseCleaned           Phase = "CLEANED"
)

// State holds the shared state across all pipeline steps for one document.
type State struct {
	Customer  *domain.Customer
	Document  domain.Document
	LocalPath string
	Hash      string
	Items     []domain.LineItem

	Phase Phase
	Trail []Phase
}

// NewState starts a document at PhaseStart.
func NewState(c *domain.Customer, doc domain.Document) *State {
	return &State{Customer: c, Document: doc, Phase: PhaseStart, Trail: []Phase{PhaseStart}}
}

// Advance moves to p and records it in the trail.
func (s *State) Advance(p Phase) {
	s.Phase = p
	s.Trail = append(s.Trail, p)
}

// Downloaded reports whether the document reached local disk.
func (s *State) Downloaded() bool {
	return s.LocalPath != ""
}
