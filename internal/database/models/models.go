// Package models contains the database model definitions.
// These models map directly to the SQLite database tables.
package models

import (
	"time"
)

// TriggerEvent records one rule action execution for history and debugging.
// Table: trigger_events
type TriggerEvent struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	RuleSetID  string    `gorm:"column:ruleset_id;index" json:"ruleset_id"`
	RuleID     string    `gorm:"column:rule_id;index" json:"rule_id"`
	RuleName   string    `gorm:"column:rule_name" json:"rule_name"`
	ActionType string    `gorm:"column:action_type" json:"action_type"`
	Success    bool      `gorm:"column:success;default:true" json:"success"`
	Error      *string   `gorm:"column:error" json:"error,omitempty"`
	FiredAt    time.Time `gorm:"column:fired_at;index" json:"fired_at"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (TriggerEvent) TableName() string { return "trigger_events" }

// SweepSession records one finished parameter sweep.
// Table: sweep_sessions
type SweepSession struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	TrackIndex     int       `gorm:"column:track_index" json:"track_index"`
	DeviceIndex    int       `gorm:"column:device_index" json:"device_index"`
	ParameterIndex int       `gorm:"column:parameter_index" json:"parameter_index"`
	Waveform       string    `gorm:"column:waveform" json:"waveform"`
	Class          string    `gorm:"column:class" json:"class"`
	DurationMs     int64     `gorm:"column:duration_ms" json:"duration_ms"`
	Outcome        string    `gorm:"column:outcome;index" json:"outcome"` // completed, cancelled, emergency
	StartedAt      time.Time `gorm:"column:started_at" json:"started_at"`
	EndedAt        time.Time `gorm:"column:ended_at;index" json:"ended_at"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (SweepSession) TableName() string { return "sweep_sessions" }

// Setting represents a system setting.
// Table: settings
type Setting struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Key       string    `gorm:"column:key;uniqueIndex" json:"key"`
	Value     string    `gorm:"column:value" json:"value"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }
