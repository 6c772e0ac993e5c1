package model

type Proposal struct {
	ID         string `gorm:"column:id;type:text;primaryKey"`
	Created    string `gorm:"column:created;type:text;not null"`
	State      string `gorm:"column:state;type:text;not null;index"`
	Action     string `gorm:"column:action;type:text;not null"`
	Emoji      string `gorm:"column:emoji;type:text;not null;index"`
	FileRef    string `gorm:"column:file_ref;type:text;not null;default:''"`
	Alias      bool   `gorm:"column:alias;not null;default:0"`
	Canonical  string `gorm:"column:cname;type:text;not null;default:''"`
	Thread     string `gorm:"column:thread;type:text;not null;uniqueIndex"`
	Permalink  string `gorm:"column:permalink;type:text;not null;default:''"`
	User       string `gorm:"column:user;type:text;not null"`
	PreviewRef string `gorm:"column:preview_ref;type:text;not null;default:''"`
}

func (Proposal) TableName() string {
	return "proposals"
}
