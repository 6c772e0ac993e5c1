package model

type Emoji struct {
	Name       string `gorm:"column:name;type:text;primaryKey"`
	FileRef    string `gorm:"column:file_ref;type:text;not null;default:''"`
	Alias      bool   `gorm:"column:alias;not null;default:0"`
	Canonical  string `gorm:"column:cname;type:text;not null;default:''"`
	Updated    string `gorm:"column:updated;type:text;not null"`
	ProposalID string `gorm:"column:proposal_id;type:text;not null"`
}

func (Emoji) TableName() string {
	return "emojis"
}
