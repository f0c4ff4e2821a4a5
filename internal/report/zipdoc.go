// Package report renders a completed inspection aggregate into a
// Word-compatible document: data hydration, a narrow placeholder templater
// with container blocks and image embedding, and an empty-paragraph sweep.
package report

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"

	"khyanalt/internal/domain"
)

const (
	documentPart     = "word/document.xml"
	documentRelsPart = "word/_rels/document.xml.rels"
	contentTypesPart = "[Content_Types].xml"
)

// docxArchive holds every part of a .docx package in original order. Only
// the parts the templater touches are rewritten; everything else — media
// parts above all — is copied back byte-identical.
type docxArchive struct {
	order []string
	parts map[string][]byte
}

// openArchive reads a docx package from raw bytes.
func openArchive(data []byte) (*docxArchive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a docx package: %v", domain.ErrTemplateMissing, err)
	}
	arc := &docxArchive{parts: make(map[string][]byte, len(zr.File))}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open part %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read part %s: %w", f.Name, err)
		}
		arc.order = append(arc.order, f.Name)
		arc.parts[f.Name] = content
	}
	if _, ok := arc.parts[documentPart]; !ok {
		return nil, fmt.Errorf("%w: package has no %s", domain.ErrTemplateMissing, documentPart)
	}
	return arc, nil
}

// get returns a part's bytes.
func (a *docxArchive) get(name string) ([]byte, bool) {
	b, ok := a.parts[name]
	return b, ok
}

// set rewrites (or adds) a part.
func (a *docxArchive) set(name string, content []byte) {
	if _, ok := a.parts[name]; !ok {
		a.order = append(a.order, name)
	}
	a.parts[name] = content
}

// bytes re-zips the package preserving part order.
func (a *docxArchive) bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range a.order {
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create part %s: %w", name, err)
		}
		if _, err := w.Write(a.parts[name]); err != nil {
			return nil, fmt.Errorf("failed to write part %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize package: %w", err)
	}
	return buf.Bytes(), nil
}
