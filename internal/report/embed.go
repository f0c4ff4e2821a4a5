package report

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/beevik/etree"

	"khyanalt/internal/imaging"
)

const relImageType = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"

var relIDRe = regexp.MustCompile(`^rId(\d+)$`)

func formatExt(f imaging.Format) (ext, contentType string) {
	switch f {
	case imaging.FormatJPEG:
		return "jpeg", "image/jpeg"
	case imaging.FormatGIF:
		return "gif", "image/gif"
	case imaging.FormatBMP:
		return "bmp", "image/bmp"
	case imaging.FormatSVG:
		return "svg", "image/svg+xml"
	default:
		return "png", "image/png"
	}
}

// registerMedia finalizes every image run left by the templater: it writes
// the media part, adds the package relationship, ensures the content-type
// default, and swaps the marker run for an inline drawing.
func (t *templater) registerMedia() error {
	marked := t.doc.FindElements("//w:r[@khy-img]")
	if len(marked) == 0 {
		return nil
	}

	rels, err := t.loadRels()
	if err != nil {
		return err
	}
	nextRel := maxRelID(rels) + 1
	docPrID := 1000 // clear of template-authored drawing ids

	for _, run := range marked {
		idxAttr := run.SelectAttrValue("khy-img", "")
		run.RemoveAttr("khy-img")
		idx, err := strconv.Atoi(idxAttr)
		if err != nil || idx >= len(t.images) {
			continue
		}
		img := t.images[idx]
		ext, ctype := formatExt(img.Format)

		t.seq++
		partName := fmt.Sprintf("word/media/khy_image%d.%s", t.seq, ext)
		t.arc.set(partName, img.Data)
		if err := t.ensureContentType(ext, ctype); err != nil {
			return err
		}

		relID := fmt.Sprintf("rId%d", nextRel)
		nextRel++
		rel := rels.Root().CreateElement("Relationship")
		rel.CreateAttr("Id", relID)
		rel.CreateAttr("Type", relImageType)
		rel.CreateAttr("Target", fmt.Sprintf("media/khy_image%d.%s", t.seq, ext))

		drawing, err := buildDrawing(relID, docPrID, img.Width, img.Height)
		if err != nil {
			return err
		}
		docPrID++
		run.AddChild(drawing)
	}

	out, err := rels.WriteToBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize relationships: %w", err)
	}
	t.arc.set(documentRelsPart, out)
	return nil
}

func (t *templater) loadRels() (*etree.Document, error) {
	rels := etree.NewDocument()
	if raw, ok := t.arc.get(documentRelsPart); ok {
		if err := rels.ReadFromBytes(raw); err != nil {
			return nil, fmt.Errorf("failed to parse relationships part: %w", err)
		}
		return rels, nil
	}
	rels.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	root := rels.CreateElement("Relationships")
	root.CreateAttr("xmlns", "http://schemas.openxmlformats.org/package/2006/relationships")
	return rels, nil
}

func maxRelID(rels *etree.Document) int {
	max := 0
	for _, rel := range rels.FindElements("//Relationship") {
		if m := relIDRe.FindStringSubmatch(rel.SelectAttrValue("Id", "")); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
	}
	return max
}

// ensureContentType adds a Default mapping for ext when missing.
func (t *templater) ensureContentType(ext, ctype string) error {
	raw, ok := t.arc.get(contentTypesPart)
	if !ok {
		return fmt.Errorf("package has no %s", contentTypesPart)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return fmt.Errorf("failed to parse content types: %w", err)
	}
	for _, def := range doc.FindElements("//Default") {
		if def.SelectAttrValue("Extension", "") == ext {
			return nil
		}
	}
	def := doc.Root().CreateElement("Default")
	def.CreateAttr("Extension", ext)
	def.CreateAttr("ContentType", ctype)
	out, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize content types: %w", err)
	}
	t.arc.set(contentTypesPart, out)
	return nil
}

// buildDrawing produces a minimal wp:inline picture referencing relID, sized
// in EMUs from pixel dimensions.
func buildDrawing(relID string, docPrID, widthPx, heightPx int) (*etree.Element, error) {
	cx := widthPx * emuPerPixel
	cy := heightPx * emuPerPixel
	xml := fmt.Sprintf(`<w:drawing xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<wp:inline distT="0" distB="0" distL="0" distR="0" xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing">
<wp:extent cx="%d" cy="%d"/>
<wp:docPr id="%d" name="Picture %d"/>
<a:graphic xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">
<a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">
<pic:pic xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">
<pic:nvPicPr><pic:cNvPr id="%d" name="Picture %d"/><pic:cNvPicPr/></pic:nvPicPr>
<pic:blipFill><a:blip r:embed="%s" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>
<pic:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></pic:spPr>
</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing>`,
		cx, cy, docPrID, docPrID, docPrID, docPrID, relID, cx, cy)

	frag := etree.NewDocument()
	if err := frag.ReadFromString(xml); err != nil {
		return nil, fmt.Errorf("failed to build drawing: %w", err)
	}
	root := frag.Root()
	frag.RemoveChild(root)
	return root, nil
}
