package report

import (
	"strings"

	"github.com/beevik/etree"

	"khyanalt/internal/logging"
)

// protectedTags are elements whose presence keeps a paragraph alive even
// when it renders no text: drawings and pictures, OLE/link relationships,
// hyperlinks, bookmarks, tracked changes, and math.
var protectedTags = map[string]bool{
	"drawing":       true,
	"pict":          true,
	"blip":          true,
	"graphic":       true,
	"docPr":         true,
	"object":        true,
	"objectEmbed":   true,
	"objectLink":    true,
	"hyperlink":     true,
	"bookmarkStart": true,
	"bookmarkEnd":   true,
	"ins":           true,
	"del":           true,
	"oMath":         true,
	"oMathPara":     true,
	"tbl":           true,
	"fldChar":       true,
	"instrText":     true,
}

// entity-space characters stripped before deciding a paragraph is empty.
var spaceReplacer = strings.NewReplacer(
	" ", "", // no-break space (&nbsp;)
	" ", "", " ", "", " ", "", // en/em/thin spaces
	" ", "", "\t", "", "\n", "", "\r", "",
)

// sweepDocument removes the residual empty paragraphs container expansion
// leaves behind when conditionals evaluate false. It rewrites only the main
// document part; every other part (media above all) is untouched. On any
// failure the caller falls back to the un-swept buffer.
func sweepDocument(arc *docxArchive) error {
	raw, _ := arc.get(documentPart)
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return err
	}

	removed := 0
	for _, p := range doc.FindElements("//w:p") {
		if !paragraphRemovable(p) {
			continue
		}
		parent := p.Parent()
		if parent == nil {
			continue
		}
		// A table cell must keep at least one paragraph to stay valid.
		if isTag(parent, "tc") && countParagraphs(parent) <= 1 {
			continue
		}
		// The body's final paragraph carries the section break.
		if isTag(parent, "body") && isLastParagraph(parent, p) {
			continue
		}
		parent.RemoveChild(p)
		removed++
	}
	if removed > 0 {
		logging.Report("sweep removed %d empty paragraphs", removed)
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return err
	}
	arc.set(documentPart, out)
	return nil
}

// paragraphRemovable reports whether a paragraph is provably empty: no text
// residue after entity-space stripping and no protected descendant.
func paragraphRemovable(p *etree.Element) bool {
	var sb strings.Builder
	for _, wt := range p.FindElements(".//w:t") {
		sb.WriteString(wt.Text())
	}
	if spaceReplacer.Replace(sb.String()) != "" {
		return false
	}
	return !hasProtected(p)
}

func hasProtected(el *etree.Element) bool {
	for _, child := range el.ChildElements() {
		if protectedTags[child.Tag] {
			return true
		}
		if hasProtected(child) {
			return true
		}
	}
	return false
}

func countParagraphs(parent *etree.Element) int {
	n := 0
	for _, child := range parent.ChildElements() {
		if isTag(child, "p") {
			n++
		}
	}
	return n
}

func isLastParagraph(parent *etree.Element, p *etree.Element) bool {
	children := parent.ChildElements()
	for i := len(children) - 1; i >= 0; i-- {
		if isTag(children[i], "p") {
			return children[i] == p
		}
	}
	return false
}
