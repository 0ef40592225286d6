// Package models defines the core data structures for Pathlight.
//
// It includes the conversation objective, tree, and manifest documents held
// in the remote configuration store, the caller-owned conversation state,
// and the prompt bundle derived from them. These types are shared across
// the cache, assembler, store, and API modules.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ObjectiveCategory classifies the conversational phase an objective drives.
type ObjectiveCategory string

const (
	// CategoryOnboarding covers introductory objectives collecting basics.
	CategoryOnboarding ObjectiveCategory = "onboarding"
	// CategoryExploration covers open-ended career discovery objectives.
	CategoryExploration ObjectiveCategory = "exploration"
	// CategoryValidation covers objectives confirming a tentative choice.
	CategoryValidation ObjectiveCategory = "validation"
	// CategoryAnalysis covers deep-dive analysis objectives.
	CategoryAnalysis ObjectiveCategory = "analysis"
	// CategoryOther is the catch-all for uncategorized objectives.
	CategoryOther ObjectiveCategory = "other"
)

// IsValidObjectiveCategory checks if the given category is supported.
func IsValidObjectiveCategory(c ObjectiveCategory) bool {
	switch c {
	case CategoryOnboarding, CategoryExploration, CategoryValidation, CategoryAnalysis, CategoryOther:
		return true
	default:
		return false
	}
}

// Error variables for better error handling and testability
var (
	ErrMissingID       = errors.New("document id is required")
	ErrMissingPurpose  = errors.New("objective purpose is required")
	ErrInvalidCategory = errors.New("invalid objective category")
)

// ObjectiveAnalytics carries informational authoring-side metrics. The cache
// never acts on these.
type ObjectiveAnalytics struct {
	SuccessRate      float64 `json:"success_rate,omitempty"`
	AverageExchanges float64 `json:"average_exchanges,omitempty"`
}

// Objective is a named step/goal in a multi-turn conversation. Objectives are
// authored externally and read-only from this system's perspective. The
// domain id may differ from the store's document key, so lookups must work
// by either.
type Objective struct {
	ID               string              `json:"id"`
	Purpose          string              `json:"purpose"`
	Category         ObjectiveCategory   `json:"category,omitempty"`
	SystemPrompt     string              `json:"system_prompt,omitempty"`
	Tone             string              `json:"tone,omitempty"`
	DataPoints       DataPointList       `json:"data_points,omitempty"`
	AverageExchanges float64             `json:"average_exchanges,omitempty"`
	Analytics        *ObjectiveAnalytics `json:"analytics,omitempty"`
}

// Validate performs validation for authoring-side writes. Documents read
// from the store are tolerated as-is.
func (o *Objective) Validate() error {
	if o.ID == "" {
		return ErrMissingID
	}
	if o.Purpose == "" {
		return ErrMissingPurpose
	}
	if o.Category != "" && !IsValidObjectiveCategory(o.Category) {
		return ErrInvalidCategory
	}
	return nil
}

// Tree is a named graph of objectives defining one conversation flow variant.
// Its internal structure is opaque to the cache; only the id and default
// flag matter for lookup.
type Tree struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	IsDefault bool            `json:"is_default,omitempty"`
	Persona   string          `json:"persona,omitempty"`
	Nodes     json.RawMessage `json:"nodes,omitempty"`
}

// Validate performs validation for authoring-side writes.
func (t *Tree) Validate() error {
	if t.ID == "" {
		return ErrMissingID
	}
	return nil
}

// DefaultTreeID is the well-known fallback tree when the manifest flags no
// default.
const DefaultTreeID = "onboarding_tree"

// ManifestKey is the well-known document key of the manifest singleton.
const ManifestKey = "current"

// ManifestEntry summarizes the version and checksum of one active document.
// The checksum is the sole staleness signal for cached entries.
type ManifestEntry struct {
	Version      int       `json:"version"`
	Checksum     string    `json:"checksum"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// ManifestCacheHints carries authoring-side cache guidance.
type ManifestCacheHints struct {
	LastPurged    time.Time `json:"last_purged,omitempty"`
	HotObjectives []string  `json:"hot_objectives,omitempty"`
	PreloadTrees  []string  `json:"preload_trees,omitempty"`
}

// Manifest is the singleton checksum index over all active objectives and
// trees. It is recomputed by the authoring side whenever a document changes;
// this system only consumes it.
type Manifest struct {
	Version          int                        `json:"version"`
	LastUpdated      time.Time                  `json:"last_updated"`
	Checksum         string                     `json:"checksum,omitempty"`
	ActiveObjectives map[string]ManifestEntry   `json:"active_objectives"`
	ActiveTrees      map[string]ManifestEntry   `json:"active_trees"`
	DefaultTree      string                     `json:"default_tree,omitempty"`
	PersonaTrees     map[string]string          `json:"persona_trees,omitempty"`
	Experiments      map[string]json.RawMessage `json:"experiments,omitempty"`
	Cache            ManifestCacheHints         `json:"cache,omitempty"`
}

// ConversationMessage is one entry of the caller-owned conversation history.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Channel   string    `json:"channel,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ChannelVoice tags a history message as having arrived over a voice channel.
const ChannelVoice = "voice"

// ConversationState is the caller-owned record of a conversation's progress.
// The cache and assembler consume it read-only; they never mutate it.
type ConversationState struct {
	CurrentObjectiveID  string                `json:"current_objective_id,omitempty"`
	CurrentTreeID       string                `json:"current_tree_id,omitempty"`
	ExchangeCount       int                   `json:"exchange_count"`
	UserPersona         string                `json:"user_persona,omitempty"`
	LastUserMessage     string                `json:"last_user_message,omitempty"`
	DataCollected       map[string]string     `json:"data_collected,omitempty"`
	ConfidenceScores    map[string]float64    `json:"confidence_scores,omitempty"`
	ConversationHistory []ConversationMessage `json:"conversation_history,omitempty"`
	StartedAt           time.Time             `json:"started_at,omitempty"`
	LastActivityAt      time.Time             `json:"last_activity_at,omitempty"`
}

// HasVoiceMessage reports whether any prior message is tagged as voice.
func (s *ConversationState) HasVoiceMessage() bool {
	for _, m := range s.ConversationHistory {
		if m.Channel == ChannelVoice {
			return true
		}
	}
	return false
}

// ToolName identifies an invokable tool the assistant may call during a turn.
type ToolName string

const (
	// ToolUpdatePersonProfile persists profile fields; always permitted.
	ToolUpdatePersonProfile ToolName = "update_person_profile"
	// ToolAnalyzeCareers runs career analysis over the conversation so far.
	ToolAnalyzeCareers ToolName = "analyze_conversation_for_careers"
	// ToolGetCareerPathways retrieves pathway suggestions for a career.
	ToolGetCareerPathways ToolName = "get_career_pathways"
	// ToolValidateCareerChoice checks a tentative choice against collected data.
	ToolValidateCareerChoice ToolName = "validate_career_choice"
	// ToolTriggerInstantInsights produces a mid-conversation insight summary.
	ToolTriggerInstantInsights ToolName = "trigger_instant_insights"
)

// ResponseConstraints bounds the assistant's next reply.
type ResponseConstraints struct {
	MaxWords int    `json:"max_words"`
	Tone     string `json:"tone"`
	Format   string `json:"format,omitempty"`
}

// PromptBundle is the assembled per-turn output: system prompt text,
// template variables, tool allow-list, and response constraints. The tool
// allow-list is a safety/scope boundary; no tool outside it may be invoked
// for the turn.
type PromptBundle struct {
	SystemPrompt     string              `json:"system_prompt"`
	DynamicVariables map[string]string   `json:"dynamic_variables"`
	ToolRestrictions []ToolName          `json:"tool_restrictions"`
	Constraints      ResponseConstraints `json:"response_constraints"`
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	HitRate       float64 `json:"hit_rate"`
	TotalHits     int64   `json:"total_hits"`
	TotalMisses   int64   `json:"total_misses"`
	CacheSize     int     `json:"cache_size"`
	TreeCacheSize int     `json:"tree_cache_size"`
	UptimeMinutes int64   `json:"uptime_minutes"`
}
