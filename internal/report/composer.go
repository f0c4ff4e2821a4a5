package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"khyanalt/internal/catalogue"
	"khyanalt/internal/domain"
	"khyanalt/internal/imaging"
	"khyanalt/internal/logging"
	"khyanalt/internal/store"
)

// Composer renders a Word-compatible report from a collapsed aggregate and
// its image set. Composition is a pure function of the stored inputs; the
// aggregate and image rows are never mutated.
type Composer struct {
	store        *store.Store
	files        *imaging.FileStore
	templatePath string
	boxW, boxH   int
}

// NewComposer wires a composer. templateDir/templateFile locate the
// pre-authored .docx; boxW/boxH bound per-field photo embedding.
func NewComposer(st *store.Store, files *imaging.FileStore, templateDir, templateFile string, boxW, boxH int) *Composer {
	return &Composer{
		store:        st,
		files:        files,
		templatePath: filepath.Join(templateDir, templateFile),
		boxW:         boxW,
		boxH:         boxH,
	}
}

// Compose renders the report for one answer row and returns the .docx
// bytes. The template file is read per render.
func (c *Composer) Compose(ctx context.Context, answerID int64) ([]byte, error) {
	timer := logging.StartTimer(logging.CategoryReport, "Compose")
	defer timer.StopWithThreshold(3 * time.Second)

	answer, err := c.store.GetAnswer(ctx, answerID)
	if err != nil {
		return nil, err
	}
	insp, err := c.store.GetInspection(ctx, answer.InspectionID)
	if err != nil {
		return nil, err
	}
	cat, err := c.catalogueFor(ctx, insp)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(c.templatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("template %s: %w", c.templatePath, domain.ErrTemplateMissing)
		}
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	arc, err := openArchive(raw)
	if err != nil {
		return nil, err
	}

	data, err := c.hydrate(ctx, answer, insp, cat)
	if err != nil {
		return nil, err
	}
	if err := renderDocument(arc, data); err != nil {
		return nil, fmt.Errorf("failed to render document: %w", err)
	}

	// The sweep is best effort: on any post-processing failure the
	// un-swept buffer ships rather than losing images.
	preSweep, err := arc.bytes()
	if err != nil {
		return nil, err
	}
	if err := sweepDocument(arc); err != nil {
		logging.ReportWarn("empty-paragraph sweep failed, returning un-swept document: %v", err)
		return preSweep, nil
	}
	swept, err := arc.bytes()
	if err != nil {
		logging.ReportWarn("failed to package swept document, returning un-swept: %v", err)
		return preSweep, nil
	}

	logging.Report("composed report for answer %d (inspection %d, %d bytes)",
		answerID, answer.InspectionID, len(swept))
	return swept, nil
}

func (c *Composer) catalogueFor(ctx context.Context, insp *domain.Inspection) (*catalogue.Catalogue, error) {
	if insp.TemplateID == nil {
		return catalogue.Default(), nil
	}
	tpl, err := c.store.GetTemplate(ctx, *insp.TemplateID)
	if err != nil {
		return nil, err
	}
	return catalogue.Parse(tpl.Questions)
}
