package model

import (
	"time"
)

// RunStatus is the lifecycle of a strategy run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "CREATED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusCanceled  RunStatus = "CANCELED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusCanceled || s == RunStatusFailed
}

// StrategyRun is one invocation of a strategy.
type StrategyRun struct {
	ID         uint       `gorm:"primaryKey" json:"-"`
	RunID      string     `gorm:"size:64;uniqueIndex;not null" json:"run_id"`
	Strategy   string     `gorm:"size:20;not null;index" json:"strategy"`
	Symbol     string     `gorm:"size:30;index" json:"symbol"`
	Side       Side       `gorm:"size:10" json:"side"`
	Params     string     `gorm:"type:text" json:"params"`
	Status     RunStatus  `gorm:"size:20;not null" json:"status"`
	Summary    string     `gorm:"type:text" json:"summary,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"-"`
	UpdatedAt  time.Time  `json:"-"`
}

func (StrategyRun) TableName() string {
	return "strategy_runs"
}

// StrategyEvent is one state transition of a plan or one of its orders. Events are only appended.
type StrategyEvent struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RunID     string    `gorm:"size:64;index;not null" json:"run_id"`
	Strategy  string    `gorm:"size:20" json:"strategy"`
	Symbol    string    `gorm:"size:30" json:"symbol"`
	Entity    string    `gorm:"size:40" json:"entity"` // plan, leg:tp, chunk:3, level:7 ...
	From      string    `gorm:"column:from_state;size:30" json:"from"`
	To        string    `gorm:"column:to_state;size:30;not null" json:"to"`
	OrderID   int64     `json:"order_id,omitempty"`
	Message   string    `gorm:"type:text" json:"message,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (StrategyEvent) TableName() string {
	return "strategy_events"
}
