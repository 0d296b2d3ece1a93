package types

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// EntryKind identifies what a transcript entry records.
type EntryKind string

const (
	EntryText         EntryKind = "text"
	EntryToolStart    EntryKind = "tool_start"
	EntryToolProgress EntryKind = "tool_progress"
	EntryToolResult   EntryKind = "tool_result"
	EntryToolError    EntryKind = "tool_error"
)

// TranscriptEntry is one immutable record of conversation activity.
// Entries are appended in resolution order and never mutated or removed;
// insertion order is the only ordering guarantee.
type TranscriptEntry struct {
	ID            string    `json:"id"`
	Role          Role      `json:"role"`
	Kind          EntryKind `json:"kind"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	AttachedImage []byte    `json:"attached_image,omitempty"`
}

// NewTranscriptEntry stamps a fresh entry with an ID and timestamp.
func NewTranscriptEntry(role Role, kind EntryKind, content string) TranscriptEntry {
	return TranscriptEntry{
		ID:        uuid.NewString(),
		Role:      role,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	}
}
