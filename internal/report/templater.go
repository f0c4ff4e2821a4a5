package report

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/beevik/etree"

	"khyanalt/internal/imaging"
	"khyanalt/internal/logging"
)

// The placeholder grammar: {{path}} substitutes a scalar; {{#path}} opens a
// container closed by {{/path}}. Containers gate on booleans or expand over
// arrays of loop records.
var (
	openTagRe   = regexp.MustCompile(`\{\{#\s*([^}]+?)\s*\}\}`)
	scalarTagRe = regexp.MustCompile(`\{\{\s*([^#/}][^}]*?)\s*\}\}`)
	closeTagRe  = regexp.MustCompile(`\{\{/[^}]*\}\}`)
)

const emuPerPixel = 9525

// imageToken marks where an embedded image lands inside rendered text until
// the paragraph is rebuilt into runs.
func imageToken(n int) string { return fmt.Sprintf("\x00img:%d\x00", n) }

var imageTokenRe = regexp.MustCompile(`\x00img:(\d+)\x00`)

// templater renders one docx package against hydrated data.
type templater struct {
	arc    *docxArchive
	doc    *etree.Document
	data   *Data
	images []*imaging.Content // registered by token index
	seq    int                // media part counter
}

// renderDocument hydrates the archive's main document part in place:
// split-run repair, container composition, scalar substitution, and image
// embedding (media parts + relationships + content types).
func renderDocument(arc *docxArchive, data *Data) error {
	raw, _ := arc.get(documentPart)
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return fmt.Errorf("failed to parse document part: %w", err)
	}

	t := &templater{arc: arc, doc: doc, data: data}
	t.repairSplitRuns()

	body := doc.FindElement("//w:body")
	if body == nil {
		return fmt.Errorf("document part has no body")
	}
	t.processChildren(body, nil)

	if err := t.registerMedia(); err != nil {
		return err
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize document part: %w", err)
	}
	arc.set(documentPart, out)
	return nil
}

// repairSplitRuns collapses the runs of any paragraph whose concatenated
// text contains a placeholder. Word splits {{name}} across runs freely
// (spell-check regions, formatting boundaries); joining the text into the
// first run restores the delimiters before matching.
func (t *templater) repairSplitRuns() {
	for _, p := range t.doc.FindElements("//w:p") {
		text := paraText(p)
		if !strings.Contains(text, "{{") {
			continue
		}
		// Leave the paragraph alone only when every text run holds both
		// delimiters; otherwise join all its runs into one.
		broken := false
		for _, wt := range p.FindElements(".//w:t") {
			if strings.Contains(wt.Text(), "{{") && strings.Contains(wt.Text(), "}}") {
				continue
			}
			broken = true
		}
		if broken {
			setParaRuns(p, []runPart{{text: text}})
		}
	}
}

// processChildren walks a block container (body or table cell), resolving
// multi-paragraph containers and rendering paragraphs.
func (t *templater) processChildren(parent *etree.Element, scopes []LoopRecord) {
	idx := 0
	for {
		children := parent.ChildElements()
		if idx >= len(children) {
			return
		}
		el := children[idx]
		switch {
		case isTag(el, "p"):
			text := paraText(el)
			if m := openTagRe.FindStringSubmatch(text); m != nil && !strings.Contains(text, "{{/") {
				if t.processBlock(parent, idx, m[1], scopes) {
					continue // children changed; re-evaluate same index
				}
			}
			t.renderParagraph(el, scopes)
			idx++
		case isTag(el, "tbl"):
			for _, cell := range el.FindElements(".//w:tc") {
				t.processChildren(cell, scopes)
			}
			idx++
		default:
			idx++
		}
	}
}

// processBlock handles a container whose open and close tags live in
// different paragraphs. It always returns true: when no matching close tag
// exists, the open tag is logged and stripped from its paragraph.
func (t *templater) processBlock(parent *etree.Element, openIdx int, path string, scopes []LoopRecord) bool {
	children := parent.ChildElements()
	closeTag := "{{/" + path + "}}"
	closeIdx := -1
	for i := openIdx + 1; i < len(children); i++ {
		if isTag(children[i], "p") && strings.Contains(normalizeTags(paraText(children[i])), closeTag) {
			closeIdx = i
			break
		}
	}
	if closeIdx < 0 {
		logging.ReportWarn("container %q has no close tag; substituting empty", path)
		stripContainerTags(children[openIdx], path)
		return true
	}

	value, _ := t.data.Resolve(path, scopes)
	region := children[openIdx+1 : closeIdx]

	switch v := value.(type) {
	case []LoopRecord:
		t.expandLoop(parent, region, children[closeIdx], v, scopes)
		removeAll(parent, region)
	case []interface{}:
		records := make([]LoopRecord, 0, len(v))
		for i, item := range v {
			records = append(records, coerceRecord(item, i, len(v)))
		}
		t.expandLoop(parent, region, children[closeIdx], records, scopes)
		removeAll(parent, region)
	default:
		if truthy(value) {
			// Keep the region; the main loop renders it next.
		} else {
			removeAll(parent, region)
		}
	}

	stripContainerTags(children[openIdx], path)
	stripContainerTags(children[closeIdx], path)
	t.renderParagraph(children[openIdx], scopes)
	t.renderParagraph(children[closeIdx], scopes)
	return true
}

// expandLoop inserts one processed copy of the region per record, before the
// closing paragraph.
func (t *templater) expandLoop(parent *etree.Element, region []*etree.Element, closeEl *etree.Element, records []LoopRecord, scopes []LoopRecord) {
	for _, rec := range records {
		recScopes := append(append([]LoopRecord{}, scopes...), rec)
		for _, el := range region {
			clone := el.Copy()
			parent.InsertChildAt(closeEl.Index(), clone)
			if isTag(clone, "p") {
				t.renderParagraph(clone, recScopes)
			} else if isTag(clone, "tbl") {
				for _, cell := range clone.FindElements(".//w:tc") {
					t.processChildren(cell, recScopes)
				}
			}
		}
	}
}

// coerceRecord adapts loose array items into loop records.
func coerceRecord(item interface{}, index, total int) LoopRecord {
	switch v := item.(type) {
	case LoopRecord:
		return v
	case map[string]interface{}:
		return LoopRecord(v)
	case *imaging.Content:
		return newLoopRecord(v, index, total)
	default:
		return LoopRecord{"value": v, "index": index, "total": total,
			"isFirst": index == 0, "isLast": index == total-1}
	}
}

// renderParagraph substitutes inline containers and scalars in one
// paragraph, rebuilding runs when the text changes or images land.
func (t *templater) renderParagraph(p *etree.Element, scopes []LoopRecord) {
	text := paraText(p)
	if !strings.Contains(text, "{{") {
		return
	}
	rendered := t.renderText(normalizeTags(text), scopes)
	if rendered == text {
		return
	}
	parts := t.splitImageTokens(rendered)
	setParaRuns(p, parts)
}

// renderText expands inline containers outermost-first (pairing each open
// tag with its own close tag, so nested containers resolve recursively),
// then substitutes scalars. Image values register a token resolved during
// run rebuilding.
func (t *templater) renderText(text string, scopes []LoopRecord) string {
	for {
		m := openTagRe.FindStringSubmatchIndex(text)
		if m == nil {
			break
		}
		path := text[m[2]:m[3]]
		closeToken := "{{/" + path + "}}"
		rel := strings.Index(text[m[1]:], closeToken)
		if rel < 0 {
			// Close tag lives in another paragraph; the block pass owns it.
			// An orphan open tag here substitutes as empty.
			text = text[:m[0]] + text[m[1]:]
			continue
		}
		body := text[m[1] : m[1]+rel]
		rest := text[m[1]+rel+len(closeToken):]
		value, _ := t.data.Resolve(path, scopes)

		var repl string
		switch v := value.(type) {
		case []LoopRecord:
			repl = t.expandInline(body, v, scopes)
		case []interface{}:
			records := make([]LoopRecord, 0, len(v))
			for i, item := range v {
				records = append(records, coerceRecord(item, i, len(v)))
			}
			repl = t.expandInline(body, records, scopes)
		default:
			if truthy(value) {
				repl = t.renderText(body, scopes)
			}
		}
		text = text[:m[0]] + repl + rest
	}

	// Orphan close tags (their open tag was consumed elsewhere) vanish.
	text = closeTagRe.ReplaceAllString(text, "")

	return scalarTagRe.ReplaceAllStringFunc(text, func(tag string) string {
		path := scalarTagRe.FindStringSubmatch(tag)[1]
		value, ok := t.data.Resolve(path, scopes)
		if !ok {
			return ""
		}
		if img, isImg := value.(*imaging.Content); isImg {
			t.images = append(t.images, img)
			return imageToken(len(t.images) - 1)
		}
		return stringify(value)
	})
}

func (t *templater) expandInline(body string, records []LoopRecord, scopes []LoopRecord) string {
	var sb strings.Builder
	for _, rec := range records {
		sb.WriteString(t.renderText(body, append(append([]LoopRecord{}, scopes...), rec)))
	}
	return sb.String()
}

// splitImageTokens cuts rendered text into alternating text/image run parts.
func (t *templater) splitImageTokens(text string) []runPart {
	var parts []runPart
	for {
		m := imageTokenRe.FindStringSubmatchIndex(text)
		if m == nil {
			break
		}
		if m[0] > 0 {
			parts = append(parts, runPart{text: text[:m[0]]})
		}
		var n int
		fmt.Sscanf(text[m[2]:m[3]], "%d", &n)
		if n < len(t.images) {
			parts = append(parts, runPart{image: t.images[n], imageIdx: n})
		}
		text = text[m[1]:]
	}
	if text != "" || len(parts) == 0 {
		parts = append(parts, runPart{text: text})
	}
	return parts
}

// normalizeTags trims stray whitespace Word sometimes leaves inside
// delimiters after run joins.
func normalizeTags(text string) string {
	text = strings.ReplaceAll(text, "{{ ", "{{")
	text = strings.ReplaceAll(text, " }}", "}}")
	return text
}

// stripContainerTags removes a container's open/close tags from a
// paragraph's text, leaving surrounding text intact.
func stripContainerTags(p *etree.Element, path string) {
	text := normalizeTags(paraText(p))
	text = strings.ReplaceAll(text, "{{#"+path+"}}", "")
	text = strings.ReplaceAll(text, "{{/"+path+"}}", "")
	setParaRuns(p, []runPart{{text: text}})
}

func removeAll(parent *etree.Element, els []*etree.Element) {
	for _, el := range els {
		parent.RemoveChild(el)
	}
}

func isTag(el *etree.Element, tag string) bool {
	return el.Space == "w" && el.Tag == tag
}

// paraText concatenates every text node of a paragraph.
func paraText(p *etree.Element) string {
	var sb strings.Builder
	for _, wt := range p.FindElements(".//w:t") {
		sb.WriteString(wt.Text())
	}
	return sb.String()
}

// runPart is one rebuilt run: either text or an embedded image.
type runPart struct {
	text     string
	image    *imaging.Content
	imageIdx int
}

// setParaRuns replaces a paragraph's runs with the given parts, keeping the
// first run's properties for text runs. Image parts become placeholder runs
// finalized by registerMedia once relationship ids exist.
func setParaRuns(p *etree.Element, parts []runPart) {
	var rPr *etree.Element
	runs := p.FindElements(".//w:r")
	if len(runs) > 0 {
		if props := runs[0].FindElement("w:rPr"); props != nil {
			rPr = props.Copy()
		}
	}
	for _, r := range runs {
		if parent := r.Parent(); parent != nil {
			parent.RemoveChild(r)
		}
	}

	for _, part := range parts {
		run := p.CreateElement("w:r")
		if rPr != nil {
			run.AddChild(rPr.Copy())
		}
		if part.image != nil {
			// Marker attribute consumed by registerMedia.
			run.CreateAttr("khy-img", fmt.Sprintf("%d", part.imageIdx))
			continue
		}
		wt := run.CreateElement("w:t")
		wt.CreateAttr("xml:space", "preserve")
		wt.SetText(part.text)
	}
}
