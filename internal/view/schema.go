package view

// Schema describes how a data source exposes its status flag and searchable fields.
type Schema struct {
	// InactiveField is truthy for deleted or deactivated rows. Defaults to isDeleted.
	InactiveField string
	// ActiveField, when set, takes precedence and is truthy for active rows.
	ActiveField string
	// SearchFields extends the default name, email and phone search fields.
	SearchFields []string
	// Columns restricts sortable columns. Empty allows any column.
	Columns []string
}

const defaultInactiveField = "isDeleted"

// Inactive reports whether the record is deleted or deactivated.
func (s Schema) Inactive(r Record) bool {
	if s.ActiveField != "" {
		return !r.Bool(s.ActiveField)
	}
	field := s.InactiveField
	if field == "" {
		field = defaultInactiveField
	}
	return r.Bool(field)
}

// Sortable reports whether column can be used as a sort key.
func (s Schema) Sortable(column string) bool {
	if len(s.Columns) == 0 {
		return true
	}
	for _, c := range s.Columns {
		if c == column {
			return true
		}
	}
	return false
}

func (s Schema) statusField(column string) bool {
	switch column {
	case "status", "isDeleted", "isActive":
		return true
	}
	return column != "" && (column == s.InactiveField || column == s.ActiveField)
}
