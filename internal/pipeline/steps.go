package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/extract"
	"github.com/dvloznov/budgetflow/internal/ledger"
	"github.com/dvloznov/budgetflow/internal/logger"
	"github.com/dvloznov/budgetflow/internal/storage"
)

// Step is a single stage of document processing.
type Step interface {
	Name() string
	Execute(ctx context.Context, state *State) error
}

// Step 1: DownloadStep streams the document into the scratch directory.
type DownloadStep struct {
	Storage    storage.Storage
	ScratchDir string
}

func (s *DownloadStep) Name() string { return "download" }

func (s *DownloadStep) Execute(ctx context.Context, state *State) error {
	rc, err := s.Storage.Download(ctx, state.Document.ID)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(s.ScratchDir, 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	local := filepath.Join(s.ScratchDir, uuid.NewString()[:8]+"_"+SanitizeFilename(state.Document.Name))
	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}

	buf := make([]byte, ledger.HashChunkSize)
	if _, err := io.CopyBuffer(f, rc, buf); err != nil {
		f.Close()
		os.Remove(local)
		return fmt.Errorf("copy %q: %w", state.Document.Name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(local)
		return fmt.Errorf("close local file: %w", err)
	}

	state.LocalPath = local
	state.Advance(PhaseDownloaded)
	return nil
}

// Step 2: HashStep computes the content hash of the local copy.
type HashStep struct{}

func (s *HashStep) Name() string { return "hash" }

func (s *HashStep) Execute(ctx context.Context, state *State) error {
	h, err := ledger.HashFile(state.LocalPath)
	if err != nil {
		return err
	}
	state.Hash = h
	state.Advance(PhaseHashed)
	return nil
}

// Step 3: DedupStep stops processing when the content already succeeded for
// this customer.
type DedupStep struct {
	Ledger ledger.Store
}

func (s *DedupStep) Name() string { return "dedup" }

func (s *DedupStep) Execute(ctx context.Context, state *State) error {
	seen, err := s.Ledger.IsProcessed(ctx, state.Customer.ID, state.Hash)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if seen {
		state.Advance(PhaseDuplicate)
		return nil
	}
	state.Advance(PhaseExtracting)
	return nil
}

// Step 4: PreflightStep rejects PDFs that cannot be opened or have no pages.
type PreflightStep struct {
	// PageCount defaults to PDFPageCount.
	PageCount func(path string) (int, error)
}

func (s *PreflightStep) Name() string { return "preflight" }

func (s *PreflightStep) Execute(ctx context.Context, state *State) error {
	if !isPDF(state.Document) {
		return nil
	}

	count := s.PageCount
	if count == nil {
		count = PDFPageCount
	}
	pages, err := count(state.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: unreadable PDF: %v", domain.ErrContent, err)
	}
	if pages == 0 {
		return fmt.Errorf("%w: PDF has no pages", domain.ErrContent)
	}

	log := logger.FromContext(ctx)
	log.Debug().Int("pages", pages).Msg("PDF preflight passed")
	return nil
}

// PDFPageCount opens path with relaxed validation and counts its pages.
func PDFPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(f, conf)
}

func isPDF(doc domain.Document) bool {
	return doc.MimeType == storage.MimeTypePDF || strings.EqualFold(filepath.Ext(doc.Name), ".pdf")
}

// Step 5: ExtractStep extracts line items and settles their categories.
type ExtractStep struct {
	Extractor   extract.Extractor
	Categorizer *extract.Categorizer
}

func (s *ExtractStep) Name() string { return "extract" }

func (s *ExtractStep) Execute(ctx context.Context, state *State) error {
	items, err := s.Extractor.Extract(ctx, state.LocalPath)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return domain.ErrNoTransactions
	}

	if s.Categorizer != nil {
		s.Categorizer.Assign(ctx, state.Customer.ID, items)
	}
	state.Items = items
	state.Advance(PhaseExtracted)
	return nil
}

// Pipeline executes a sequence of steps in order, stopping early once a
// document is found to be a duplicate.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// ErrStepPanicked wraps a panic raised inside a step.
var ErrStepPanicked = errors.New("pipeline step panicked")

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for i, step := range p.steps {
		if err := runStep(ctx, step, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		if state.Phase == PhaseDuplicate {
			return nil
		}
	}
	return nil
}

func runStep(ctx context.Context, step Step, state *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanicked, r)
		}
	}()
	return step.Execute(ctx, state)
}
