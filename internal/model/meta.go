package model

// StoreMeta is the single bookkeeping row of the database. Generation counts committed
// writes across every process that opens the file.
type StoreMeta struct {
	ID         uint   `gorm:"primaryKey"`
	Generation uint64 `gorm:"not null"`
}

func (StoreMeta) TableName() string { return "store_meta" }
