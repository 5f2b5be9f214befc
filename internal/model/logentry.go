package model

import (
	"errors"
	"fmt"
)

// Stage is the pipeline progress of a version
type Stage string

const (
	StageStarted   Stage = "STARTED"
	StageWritten   Stage = "WRITTEN"
	StageCommitted Stage = "COMMITTED"
)

// Status is the logical state of a version
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusDeleted  Status = "DELETED"
	StatusComplete Status = "COMPLETE"
)

// ErrIllegalTransition is returned for stage/status pairs outside the transition table
var ErrIllegalTransition = errors.New("illegal log entry transition")

type stageRule struct {
	statuses []Status
	next     []Stage
}

// transitions is the only source of legal log entry states. A COMMITTED entry may
// only move to another COMMITTED status.
var transitions = map[Stage]stageRule{
	StageStarted: {
		statuses: []Status{StatusActive},
		next:     []Stage{StageWritten, StageCommitted},
	},
	StageWritten: {
		statuses: []Status{StatusActive},
		next:     []Stage{StageCommitted},
	},
	StageCommitted: {
		statuses: []Status{StatusActive, StatusDeleted, StatusComplete},
		next:     []Stage{StageCommitted},
	},
}

// LogEntry is the write-ahead record of a version's progress
type LogEntry struct {
	ID      ID      `json:"id"`
	Version Version `json:"version"`
	Stage   Stage   `json:"stage"`
	Status  Status  `json:"status"`
}

// NewLogEntry builds an entry, rejecting pairs the transition table does not allow
func NewLogEntry(id ID, version Version, stage Stage, status Status) (LogEntry, error) {
	if err := validPair(stage, status); err != nil {
		return LogEntry{}, err
	}
	return LogEntry{ID: id, Version: version, Stage: stage, Status: status}, nil
}

// Advance returns the entry moved to the given stage and status
func (e LogEntry) Advance(stage Stage, status Status) (LogEntry, error) {
	rule, ok := transitions[e.Stage]
	if !ok {
		return LogEntry{}, fmt.Errorf("%w: unknown stage %q", ErrIllegalTransition, e.Stage)
	}
	if !containsStage(rule.next, stage) {
		return LogEntry{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, e.Stage, stage)
	}
	return NewLogEntry(e.ID, e.Version, stage, status)
}

// Visible reports whether readers may observe the version
func (e LogEntry) Visible() bool {
	return e.Stage == StageCommitted && e.Status != StatusDeleted
}

// Validate checks a decoded entry against the transition table
func (e LogEntry) Validate() error {
	return validPair(e.Stage, e.Status)
}

func validPair(stage Stage, status Status) error {
	rule, ok := transitions[stage]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrIllegalTransition, stage)
	}
	for _, s := range rule.statuses {
		if s == status {
			return nil
		}
	}
	return fmt.Errorf("%w: status %s not allowed at stage %s", ErrIllegalTransition, status, stage)
}

func containsStage(stages []Stage, s Stage) bool {
	for _, candidate := range stages {
		if candidate == s {
			return true
		}
	}
	return false
}
