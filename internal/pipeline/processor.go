// Package pipeline moves one statement through download, dedup, extraction
// and filing, recording the outcome in the ledger.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/extract"
	"github.com/dvloznov/budgetflow/internal/ledger"
	"github.com/dvloznov/budgetflow/internal/logger"
	"github.com/dvloznov/budgetflow/internal/storage"
)

// Status is the terminal result of processing one document.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

// Outcome reports what happened to one document. Items is non-empty only
// for StatusSucceeded.
type Outcome struct {
	Document domain.Document
	Status   Status
	Items    []domain.LineItem
	Hash     string
	Err      error
	Trail    []Phase
}

// Processor runs documents through the pipeline and files them.
type Processor struct {
	storage  storage.Storage
	ledger   ledger.Store
	pipeline *Pipeline
	now      func() time.Time
}

// Deps are the collaborators a Processor needs.
type Deps struct {
	Storage     storage.Storage
	Ledger      ledger.Store
	Extractor   extract.Extractor
	Categorizer *extract.Categorizer
	ScratchDir  string
	// PageCount overrides PDF preflight; nil uses PDFPageCount.
	PageCount func(path string) (int, error)
}

// NewProcessor creates the standard document pipeline.
func NewProcessor(d Deps) *Processor {
	scratch := d.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}

	return &Processor{
		storage: d.Storage,
		ledger:  d.Ledger,
		pipeline: NewPipeline(
			&DownloadStep{Storage: d.Storage, ScratchDir: scratch},
			&HashStep{},
			&DedupStep{Ledger: d.Ledger},
			&PreflightStep{PageCount: d.PageCount},
			&ExtractStep{Extractor: d.Extractor, Categorizer: d.Categorizer},
		),
		now: time.Now,
	}
}

// Process handles one document end to end. It never returns an error: every
// failure is reported through the Outcome. The customer's subfolder handles
// must already be set.
func (p *Processor) Process(ctx context.Context, c *domain.Customer, doc domain.Document) (out Outcome) {
	ctx, log := logger.WithStr(ctx, "document", doc.Name)
	state := NewState(c, doc)

	defer func() {
		if state.LocalPath != "" {
			if err := os.Remove(state.LocalPath); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", state.LocalPath).Msg("Failed to remove scratch file")
			}
		}
		state.Advance(PhaseCleaned)
		out.Trail = state.Trail
	}()

	out = Outcome{Document: doc}

	err := p.pipeline.Execute(ctx, state)
	out.Hash = state.Hash
	if state.Hash != "" {
		log = log.With().Str("hash", state.Hash).Logger()
	}

	if err == nil && state.Phase == PhaseDuplicate {
		if mvErr := p.storage.Move(ctx, doc.ID, c.FolderID, c.DuplicatesID); mvErr != nil {
			log.Error().Err(mvErr).Msg("Failed to move duplicate")
		} else {
			state.Advance(PhaseMovedToDuplicates)
		}
		log.Info().Msg("Skipping duplicate file")
		out.Status = StatusDuplicate
		return out
	}

	if err == nil {
		if mvErr := p.storage.Move(ctx, doc.ID, c.FolderID, c.ArchiveID); mvErr != nil {
			err = fmt.Errorf("archive: %w", mvErr)
		} else {
			state.Advance(PhaseArchived)
			p.record(ctx, state, ledger.OutcomeSuccess)

			log.Info().Int("items", len(state.Items)).Msg("Processed statement")
			out.Status = StatusSucceeded
			out.Items = state.Items
			return out
		}
	}

	out.Status = StatusFailed
	out.Err = err
	log.Error().Err(err).Str("phase", string(state.Phase)).Msg("Failed to process statement")

	if !state.Downloaded() {
		// Left in place for the next cycle.
		return out
	}

	state.Advance(PhaseErrored)
	if mvErr := p.storage.Move(ctx, doc.ID, c.FolderID, c.ErrorID); mvErr != nil {
		log.Error().Err(mvErr).Msg("Failed to move to error folder")
	}
	if state.Hash != "" {
		p.record(ctx, state, ledger.OutcomeFailed)
	}
	return out
}

// record writes the ledger entry. A write failure is logged and otherwise
// ignored.
func (p *Processor) record(ctx context.Context, state *State, outcome ledger.Outcome) {
	err := p.ledger.MarkProcessed(ctx, ledger.Record{
		CustomerID:  state.Customer.ID,
		Hash:        state.Hash,
		FileName:    state.Document.Name,
		Outcome:     outcome,
		ProcessedAt: p.now(),
	})
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("outcome", string(outcome)).Msg("Failed to write ledger record")
		return
	}
	state.Advance(PhaseLedgered)
}
