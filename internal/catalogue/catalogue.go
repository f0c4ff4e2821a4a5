// Package catalogue parses an inspection template's question definition into
// an ordered, navigable structure. The catalogue is pure: once parsed it does
// no I/O and is safe for concurrent reads.
package catalogue

import (
	"encoding/json"
	"fmt"

	"khyanalt/internal/domain"
)

// Field is one question inside a section.
type Field struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Type          string   `json:"type"` // rendering hint for the client
	Options       []string `json:"options,omitempty"`
	TextRequired  bool     `json:"text_required,omitempty"`
	ImageRequired bool     `json:"image_required,omitempty"`
}

// Section is one ordered block of the questionnaire.
type Section struct {
	Key    string  `json:"section"`
	Title  string  `json:"title"`
	Order  int     `json:"-"` // 0-based template position
	Fields []Field `json:"fields"`
}

// Catalogue is the parsed template.
type Catalogue struct {
	sections []Section
	byKey    map[string]int
}

// Parse decodes the template's questions JSON (an ordered array of section
// descriptors) into a catalogue.
func Parse(questions []byte) (*Catalogue, error) {
	var sections []Section
	if err := json.Unmarshal(questions, &sections); err != nil {
		return nil, fmt.Errorf("failed to parse template questions: %w", err)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: template has no sections", domain.ErrValidation)
	}
	c := &Catalogue{byKey: make(map[string]int, len(sections))}
	for i := range sections {
		s := sections[i]
		if s.Key == "" {
			return nil, fmt.Errorf("%w: template section %d has no key", domain.ErrValidation, i)
		}
		if domain.IsCrossCuttingSection(s.Key) {
			return nil, fmt.Errorf("%w: %q is a reserved section key", domain.ErrValidation, s.Key)
		}
		if _, dup := c.byKey[s.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate template section %q", domain.ErrValidation, s.Key)
		}
		s.Order = i
		c.byKey[s.Key] = i
		c.sections = append(c.sections, s)
	}
	return c, nil
}

// Sections returns the sections in template order.
func (c *Catalogue) Sections() []Section { return c.sections }

// Count returns the number of sections.
func (c *Catalogue) Count() int { return len(c.sections) }

// Section returns the descriptor for key.
func (c *Catalogue) Section(key string) (Section, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Section{}, false
	}
	return c.sections[i], true
}

// Order returns the 0-based template position of key.
func (c *Catalogue) Order(key string) (int, bool) {
	i, ok := c.byKey[key]
	return i, ok
}

// Next returns the section key following key in template order, or "" when
// key is the last section (or unknown).
func (c *Catalogue) Next(key string) string {
	i, ok := c.byKey[key]
	if !ok || i+1 >= len(c.sections) {
		return ""
	}
	return c.sections[i+1].Key
}

// IsLast reports whether key is the final section in template order.
func (c *Catalogue) IsLast(key string) bool {
	i, ok := c.byKey[key]
	return ok && i == len(c.sections)-1
}

// SectionKeys returns every section key in template order.
func (c *Catalogue) SectionKeys() []string {
	keys := make([]string, len(c.sections))
	for i, s := range c.sections {
		keys[i] = s.Key
	}
	return keys
}

// FieldOrder returns the declared field ids of a section in template order.
func (c *Catalogue) FieldOrder(key string) []string {
	i, ok := c.byKey[key]
	if !ok {
		return nil
	}
	ids := make([]string, len(c.sections[i].Fields))
	for j, f := range c.sections[i].Fields {
		ids[j] = f.ID
	}
	return ids
}

// defaultQuestions is the canonical six-section scale questionnaire used
// when an inspection carries no template reference.
const defaultQuestions = `[
  {"section": "exterior", "title": "Гадна үзлэг", "fields": [
    {"id": "platform_plate", "question": "Тавцангийн хавтан", "type": "status", "image_required": true},
    {"id": "side_rails", "question": "Хажуугийн хашлага", "type": "status"},
    {"id": "approach", "question": "Орох гарах зам", "type": "status"},
    {"id": "beam", "question": "Дам нуруу", "type": "status", "image_required": true}
  ]},
  {"section": "indicator", "title": "Индикатор", "fields": [
    {"id": "display", "question": "Дэлгэц", "type": "status", "image_required": true},
    {"id": "keypad", "question": "Товчлуур", "type": "status"},
    {"id": "calibration_seal", "question": "Лацны бүрэн бүтэн байдал", "type": "status", "text_required": true}
  ]},
  {"section": "jbox", "title": "Холболтын хайрцаг", "fields": [
    {"id": "enclosure", "question": "Хайрцагны битүүмжлэл", "type": "status"},
    {"id": "wiring", "question": "Кабель холболт", "type": "status", "image_required": true}
  ]},
  {"section": "sensor", "title": "Мэдрэгч", "fields": [
    {"id": "load_cell", "question": "Ачааллын мэдрэгч", "type": "status", "image_required": true},
    {"id": "ball", "question": "Бөмбөлөг тулгуур", "type": "status"},
    {"id": "cable", "question": "Мэдрэгчийн кабель", "type": "status"}
  ]},
  {"section": "foundation", "title": "Суурь", "fields": [
    {"id": "concrete", "question": "Бетон суурь", "type": "status", "image_required": true},
    {"id": "drainage", "question": "Ус зайлуулалт", "type": "status"}
  ]},
  {"section": "cleanliness", "title": "Цэвэрлэгээ", "fields": [
    {"id": "platform_clean", "question": "Тавцангийн цэвэрлэгээ", "type": "status"},
    {"id": "pit_clean", "question": "Нүхний цэвэрлэгээ", "type": "status", "image_required": true}
  ]}
]`

// Default returns the built-in six-section catalogue.
func Default() *Catalogue {
	c, err := Parse([]byte(defaultQuestions))
	if err != nil {
		// The constant is covered by tests; reaching here is a programming error.
		panic(fmt.Sprintf("catalogue: default questions invalid: %v", err))
	}
	return c
}
