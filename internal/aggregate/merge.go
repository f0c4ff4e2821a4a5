package aggregate

import "khyanalt/internal/domain"

// scrapeMetadata moves recognized top-level keys of a first-section payload
// into the aggregate's metadata subdocument and folds any root-level remarks
// or signatures. Scraped keys are removed from the payload so they never
// appear as field answers. metadata.date is immutable once set.
func scrapeMetadata(doc, payload *Doc) {
	meta, ok := doc.GetDoc("metadata")
	if !ok {
		meta = NewDoc()
	}
	for _, key := range metadataFields {
		v, present := payload.Get(key)
		if !present {
			continue
		}
		payload.Delete(key)
		if key == "date" && meta.Has("date") {
			continue
		}
		meta.Set(key, v)
	}
	if meta.Len() > 0 {
		doc.Set("metadata", meta)
	}

	if v, present := payload.Get(domain.SectionRemarks); present {
		payload.Delete(domain.SectionRemarks)
		mergeRemarks(doc, v)
	}
	if v, present := payload.Get(domain.SectionSignatures); present {
		payload.Delete(domain.SectionSignatures)
		if sig, ok := v.(*Doc); ok {
			mergeSignatures(doc, sig)
		}
	}
}

// extractRemarks reduces a remarks-section payload to its stored value. A
// payload that already carries a remarks key uses that value; a payload that
// wraps a single field object with a comment collapses to the comment
// string; anything else is stored as written.
func extractRemarks(payload *Doc) interface{} {
	if v, ok := payload.Get(domain.SectionRemarks); ok {
		return v
	}
	if payload.Len() == 1 {
		only := payload.Keys()[0]
		v, _ := payload.Get(only)
		if inner, ok := v.(*Doc); ok {
			if comment, ok := inner.GetString("comment"); ok {
				return comment
			}
		}
		if s, ok := v.(string); ok {
			return s
		}
	}
	return payload
}

// mergeRemarks applies the remarks type rule: preserve the existing type by
// deep-merging when both sides are objects; on any type mismatch the writer
// wins.
func mergeRemarks(doc *Doc, incoming interface{}) {
	if incoming == nil {
		return
	}
	if existing, ok := doc.Get(domain.SectionRemarks); ok {
		ed, eok := existing.(*Doc)
		nd, nok := incoming.(*Doc)
		if eok && nok {
			ed.Merge(nd)
			return
		}
	}
	doc.Set(domain.SectionRemarks, cloneValue(incoming))
}

// extractSignatures reduces a signatures-section payload to the role map.
func extractSignatures(payload *Doc) *Doc {
	if inner, ok := payload.GetDoc(domain.SectionSignatures); ok {
		return inner
	}
	return payload
}

// mergeSignatures deep-merges a role → data-url map into the aggregate.
func mergeSignatures(doc *Doc, incoming *Doc) {
	if incoming == nil || incoming.Len() == 0 {
		return
	}
	if existing, ok := doc.GetDoc(domain.SectionSignatures); ok {
		existing.Merge(incoming)
		return
	}
	doc.Set(domain.SectionSignatures, incoming.Clone())
}

// mergeAggregate folds one answer row's document into the collapse
// accumulator: the earliest non-empty metadata wins, remarks and signatures
// follow their merge rules, and sections deep-merge with newer writes
// replacing older scalars.
func mergeAggregate(dst, src *Doc) {
	for _, key := range src.Keys() {
		v, _ := src.Get(key)
		switch key {
		case "metadata":
			meta, ok := v.(*Doc)
			if !ok || meta.Len() == 0 {
				continue
			}
			if existing, has := dst.GetDoc("metadata"); has && existing.Len() > 0 {
				continue
			}
			dst.Set("metadata", meta.Clone())
		case domain.SectionRemarks:
			mergeRemarks(dst, v)
		case domain.SectionSignatures:
			if sig, ok := v.(*Doc); ok {
				mergeSignatures(dst, sig)
			}
		default:
			if nd, ok := v.(*Doc); ok {
				if ed, has := dst.GetDoc(key); has {
					ed.Merge(nd)
					continue
				}
			}
			dst.Set(key, cloneValue(v))
		}
	}
}
