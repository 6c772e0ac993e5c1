package model

// AuditEntry rows are insert-only. Seq orders entries that share a timestamp.
type AuditEntry struct {
	Seq        uint64 `gorm:"column:seq;primaryKey;autoIncrement"`
	ID         string `gorm:"column:id;type:text;not null;uniqueIndex"`
	Date       string `gorm:"column:date;type:text;not null;index"`
	Actor      string `gorm:"column:actor;type:text;not null"`
	Action     string `gorm:"column:action;type:text;not null;index"`
	ProposalID string `gorm:"column:proposal_id;type:text;not null;index"`
	Emoji      string `gorm:"column:emoji;type:text;not null;default:''"`
	Note       string `gorm:"column:note;type:text;not null;default:''"`
}

func (AuditEntry) TableName() string {
	return "audit_log"
}
