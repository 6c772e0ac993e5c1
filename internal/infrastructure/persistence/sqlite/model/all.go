package model

// All lists every table the application migrates.
func All() []any {
	return []any{
		&Proposal{},
		&AuditEntry{},
		&Emoji{},
		&Image{},
		&KV{},
	}
}
