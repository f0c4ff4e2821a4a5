package report

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"khyanalt/internal/aggregate"
	"khyanalt/internal/catalogue"
	"khyanalt/internal/domain"
	"khyanalt/internal/imaging"
	"khyanalt/internal/logging"
)

// Embedded signature and evidence image boxes (pixels). Per-field photo
// boxes come from configuration.
const (
	signatureWidth  = 180
	signatureHeight = 80
	evidenceWidth   = 300
	evidenceHeight  = 200
)

// hydrate builds the data object the templater consumes: contractor and
// metadata scalars, one map per content section, remarks, the inspector
// signature, the optional evidence image, and per-field image loop arrays
// with their hasImages gates.
func (c *Composer) hydrate(ctx context.Context, answer *domain.InspectionAnswer,
	insp *domain.Inspection, cat *catalogue.Catalogue) (*Data, error) {

	agg, err := aggregate.ParseDoc(answer.Answers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse aggregate: %w", err)
	}
	tree := agg.ToMap()

	d := map[string]interface{}{}

	contractor, err := c.contractorFor(ctx, insp)
	if err != nil {
		return nil, err
	}
	d["contractor"] = contractor

	if meta, ok := tree["metadata"].(map[string]interface{}); ok {
		d["metadata"] = meta
	} else {
		d["metadata"] = map[string]interface{}{}
	}

	for _, section := range cat.Sections() {
		fields := map[string]interface{}{}
		stored, _ := tree[section.Key].(map[string]interface{})
		for _, f := range section.Fields {
			entry := map[string]interface{}{"status": "", "comment": "", "question": f.Question}
			if raw, ok := stored[f.ID]; ok {
				if m, ok := raw.(map[string]interface{}); ok {
					for k, v := range m {
						entry[k] = v
					}
				} else {
					entry["status"] = stringify(raw)
				}
			}
			fields[placeholderKey(section.Key, f.ID)] = entry
		}
		// Extra keys written outside the template still render.
		for id, raw := range stored {
			key := placeholderKey(section.Key, id)
			if _, known := fields[key]; known {
				continue
			}
			if m, ok := raw.(map[string]interface{}); ok {
				fields[key] = m
			} else {
				fields[key] = map[string]interface{}{"status": stringify(raw)}
			}
		}
		d[section.Key] = fields
	}

	if remarks, ok := tree["remarks"]; ok {
		d["remarks"] = remarks
	} else {
		d["remarks"] = ""
	}

	d["signatures"] = c.hydrateSignatures(tree)
	if ftp, ok := tree["ftp_image"].(string); ok && ftp != "" {
		if content := contentFromDataURL(ftp, evidenceWidth, evidenceHeight); content != nil {
			d["ftp_image"] = content
		}
	}

	if err := c.hydrateImages(ctx, d, answer.ID, cat); err != nil {
		return nil, err
	}

	return NewData(map[string]interface{}{"d": d}), nil
}

// contractorFor takes company and contact from the inspection's organization,
// then replaces them with the contract's own company and contact fields when
// those are non-empty; contract_no comes from the contract. The contract's
// organization row is not read.
func (c *Composer) contractorFor(ctx context.Context, insp *domain.Inspection) (map[string]interface{}, error) {
	out := map[string]interface{}{"company": "", "contract_no": "", "contact": ""}

	org, err := c.store.GetOrganization(ctx, insp.OrganizationID)
	if err != nil {
		return nil, err
	}
	out["company"] = org.Name
	out["contact"] = org.ContactName

	if insp.ContractID != nil {
		contract, err := c.store.GetContract(ctx, *insp.ContractID)
		if err == nil {
			out["contract_no"] = contract.ContractNo
			if contract.Company != "" {
				out["company"] = contract.Company
			}
			if contract.Contact != "" {
				out["contact"] = contract.Contact
			}
		}
	}
	return out, nil
}

// hydrateSignatures converts stored data-url signatures into image content
// at the fixed signature box.
func (c *Composer) hydrateSignatures(tree map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	sigs, ok := tree["signatures"].(map[string]interface{})
	if !ok {
		return out
	}
	for role, raw := range sigs {
		dataURL, ok := raw.(string)
		if !ok {
			continue
		}
		if content := contentFromDataURL(dataURL, signatureWidth, signatureHeight); content != nil {
			// Signatures embed at the fixed box regardless of source size.
			content.Width, content.Height = signatureWidth, signatureHeight
			out[role] = content
		}
	}
	return out
}

func contentFromDataURL(dataURL string, boxW, boxH int) *imaging.Content {
	mimeType, data, err := imaging.ParseDataURL(dataURL)
	if err != nil {
		logging.ReportWarn("skipping undecodable data-url image: %v", err)
		return nil
	}
	content, err := imaging.Prepare(data, mimeType, boxW, boxH)
	if err != nil {
		logging.ReportWarn("skipping undecodable image: %v", err)
		return nil
	}
	return content
}

// hydrateImages loads the answer's photographs, prepares them for
// embedding, and builds the loop arrays and hasImages gates. Every
// template-declared field gets a default empty array and a false gate so
// unused fields render cleanly.
func (c *Composer) hydrateImages(ctx context.Context, d map[string]interface{}, answerID int64, cat *catalogue.Catalogue) error {
	images := map[string]interface{}{}
	hasImages := map[string]interface{}{}
	for _, section := range cat.Sections() {
		secImages := map[string]interface{}{}
		secHas := map[string]interface{}{}
		for _, f := range section.Fields {
			key := placeholderKey(section.Key, f.ID)
			secImages[key] = []LoopRecord{}
			secHas[key] = false
		}
		images[section.Key] = secImages
		hasImages[section.Key] = secHas
	}

	rows, err := c.store.ListImagesByAnswer(ctx, answerID)
	if err != nil {
		return err
	}

	// Decode and resize concurrently; order is restored by index.
	contents := make([]*imaging.Content, len(rows))
	var g errgroup.Group
	g.SetLimit(4)
	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			contents[i] = c.loadImage(row)
			return nil
		})
	}
	_ = g.Wait()

	var all []LoopRecord
	grouped := map[string]map[string][]*imaging.Content{}
	for i, row := range rows {
		content := contents[i]
		if content == nil {
			continue
		}
		if grouped[row.Section] == nil {
			grouped[row.Section] = map[string][]*imaging.Content{}
		}
		key := placeholderKey(row.Section, row.FieldID)
		grouped[row.Section][key] = append(grouped[row.Section][key], content)

		rec := newLoopRecord(content, len(all), 0)
		rec["section"] = row.Section
		rec["fieldId"] = row.FieldID
		rec["order"] = row.ImageOrder
		all = append(all, rec)
	}
	for i := range all {
		all[i]["total"] = len(all)
		all[i]["isLast"] = i == len(all)-1
	}

	for sectionKey, fields := range grouped {
		secImages, ok := images[sectionKey].(map[string]interface{})
		if !ok {
			secImages = map[string]interface{}{}
			images[sectionKey] = secImages
			hasImages[sectionKey] = map[string]interface{}{}
		}
		secHas := hasImages[sectionKey].(map[string]interface{})
		for key, contents := range fields {
			records := make([]LoopRecord, len(contents))
			for i, content := range contents {
				records[i] = newLoopRecord(content, i, len(contents))
			}
			secImages[key] = records
			secHas[key] = true
		}
	}

	d["images"] = images
	d["hasImages"] = hasImages
	d["imageList"] = all
	return nil
}

// loadImage reads and prepares one photograph; failures are logged and the
// image skipped, never aborting the document.
func (c *Composer) loadImage(row *domain.QuestionImage) *imaging.Content {
	name := c.files.FilenameFromURL(row.ImageURL)
	data, err := c.files.Read(name)
	if err != nil {
		logging.ReportWarn("skipping unreadable image %s: %v", name, err)
		return nil
	}
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	content, err := imaging.Prepare(data, mimeType, c.boxW, c.boxH)
	if err != nil {
		logging.ReportWarn("skipping undecodable image %s: %v", name, err)
		return nil
	}
	return content
}
