package report

// fieldKeyOverrides translates field ids from the template definition to the
// placeholder key names the Word template was authored with. The document
// predates the template catalogue, so a handful of fields carry historical
// names; everything else passes through unchanged.
var fieldKeyOverrides = map[string]map[string]string{
	"exterior": {
		"platform_plate": "platform",
	},
	"sensor": {
		"load_cell": "loadcell",
	},
}

// placeholderKey returns the Word-template key for a field id.
func placeholderKey(section, fieldID string) string {
	if m, ok := fieldKeyOverrides[section]; ok {
		if key, ok := m[fieldID]; ok {
			return key
		}
	}
	return fieldID
}
