// Package model defines the core memory data types.
package model

import (
	"fmt"
	"strings"
	"time"
)

// MemoryType classifies what a memory records.
type MemoryType string

const (
	TypeFact         MemoryType = "fact"
	TypePreference   MemoryType = "preference"
	TypePattern      MemoryType = "pattern"
	TypeRelationship MemoryType = "relationship"
	TypeGoal         MemoryType = "goal"
	TypeCorrection   MemoryType = "correction"
	TypeDocument     MemoryType = "document"
	TypeConversation MemoryType = "conversation"
)

// ValidTypes are the allowed memory types.
var ValidTypes = map[MemoryType]bool{
	TypeFact:         true,
	TypePreference:   true,
	TypePattern:      true,
	TypeRelationship: true,
	TypeGoal:         true,
	TypeCorrection:   true,
	TypeDocument:     true,
	TypeConversation: true,
}

// ParseType validates a memory type string. Empty defaults to fact.
func ParseType(s string) (MemoryType, error) {
	if s == "" {
		return TypeFact, nil
	}
	t := MemoryType(strings.ToLower(strings.TrimSpace(s)))
	if !ValidTypes[t] {
		return "", &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown memory type %q", s)}
	}
	return t, nil
}

const (
	DefaultConfidence = 1.0
	DefaultImportance = 0.5
)

// Entry represents a stored memory.
type Entry struct {
	ID           string     `json:"id" yaml:"id"`
	Owner        string     `json:"owner" yaml:"owner"`
	Content      string     `json:"content" yaml:"content"`
	Type         MemoryType `json:"type" yaml:"type"`
	Embedding    []float32  `json:"embedding,omitempty" yaml:"embedding,omitempty,flow"`
	Confidence   float64    `json:"confidence" yaml:"confidence"`
	Importance   float64    `json:"importance" yaml:"importance"`
	AccessCount  int64      `json:"access_count" yaml:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty" yaml:"last_accessed,omitempty"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"updated_at"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty" yaml:"archived_at,omitempty"`
	Tags         []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Source       string     `json:"source,omitempty" yaml:"source,omitempty"`
	Version      int64      `json:"version" yaml:"version"`
}

// Active reports whether the entry has not been archived.
func (e *Entry) Active() bool { return e.ArchivedAt == nil }

// HasEmbedding reports whether the entry participates in vector search.
func (e *Entry) HasEmbedding() bool { return len(e.Embedding) > 0 }

// LinkRel is the type of a directed edge between two memories.
type LinkRel string

const (
	RelRelated     LinkRel = "related"
	RelContradicts LinkRel = "contradicts"
	RelSupports    LinkRel = "supports"
	RelSupersedes  LinkRel = "supersedes"
	RelDerivedFrom LinkRel = "derived_from"
)

// ValidRels are the allowed link relations.
var ValidRels = map[LinkRel]bool{
	RelRelated:     true,
	RelContradicts: true,
	RelSupports:    true,
	RelSupersedes:  true,
	RelDerivedFrom: true,
}

// Link represents a relation between two memories.
type Link struct {
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Rel       LinkRel   `json:"rel"`
	CreatedAt time.Time `json:"created_at"`
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CheckUnit returns a ValidationError when v is outside [0,1].
func CheckUnit(field string, v float64) error {
	if v < 0 || v > 1 || v != v {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%v is outside [0,1]", v)}
	}
	return nil
}

// CheckOwner rejects blank owner ids.
func CheckOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return &ValidationError{Field: "owner", Reason: "owner is required"}
	}
	return nil
}
