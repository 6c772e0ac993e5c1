package model

type Image struct {
	SHA1        string `gorm:"column:sha1;type:text;primaryKey"`
	ContentType string `gorm:"column:content_type;type:text;not null"`
	Data        []byte `gorm:"column:data;not null"`
	CreatedAt   string `gorm:"column:created_at;type:text;not null"`
}

func (Image) TableName() string {
	return "images"
}
