package model

import "time"

// Exception is an unexpected failure persisted for later inspection.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	RunID   string `gorm:"size:64;index" json:"run_id,omitempty"`
	Service string `gorm:"size:100;index" json:"service"` // e.g. "futuresbot"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "grid"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "replenish"

	Kind    string `gorm:"size:40;index" json:"kind"` // model.ErrorKind of the failure
	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack,omitempty"`
	Level   string `gorm:"size:20;index" json:"level"` // warn | error | fatal

	// JSON encoded extra fields
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
