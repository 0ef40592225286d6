// Package assembler derives per-turn prompt bundles from a conversation
// objective and the caller-owned conversation state.
//
// Generate is a pure function: no I/O, no internal state, and identical
// inputs always produce identical bundles, so it is safe to call repeatedly
// or speculatively.
package assembler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pathlight-ai/pathlight/internal/models"
)

// Response length and defaults.
const (
	// BaseMaxWords is the base reply budget for text conversations.
	BaseMaxWords = 120
	// VoiceMaxWords replaces the base budget when any prior message arrived
	// over a voice channel.
	VoiceMaxWords = 60
	// DefaultTone applies when the objective specifies none.
	DefaultTone = "warm and professional"
	// DefaultPersona applies when the conversation has not identified one.
	DefaultPersona = "unknown"
	// InsightsExchangeThreshold is the exchange count from which the instant
	// insights tool becomes available.
	InsightsExchangeThreshold = 3
)

// categoryWordAdjustment maps an objective category to its reply budget delta.
var categoryWordAdjustment = map[models.ObjectiveCategory]int{
	models.CategoryOnboarding:  0,
	models.CategoryExploration: 40,
	models.CategoryValidation:  20,
	models.CategoryAnalysis:    60,
}

// Generate derives the prompt bundle for one conversation turn. A nil
// objective yields a nil bundle; callers fall back to a static prompt.
func Generate(obj *models.Objective, state *models.ConversationState) *models.PromptBundle {
	if obj == nil {
		return nil
	}
	if state == nil {
		state = &models.ConversationState{}
	}

	return &models.PromptBundle{
		SystemPrompt:     systemPrompt(obj, state),
		DynamicVariables: dynamicVariables(obj, state),
		ToolRestrictions: Tools(obj.Category, state.ExchangeCount),
		Constraints: models.ResponseConstraints{
			MaxWords: MaxWords(obj.Category, state),
			Tone:     tone(obj),
			Format:   "conversational",
		},
	}
}

// Tools returns the ordered tool allow-list for an objective category and
// exchange count. The list is a scope boundary: no other tool may be invoked
// during the turn.
func Tools(category models.ObjectiveCategory, exchangeCount int) []models.ToolName {
	tools := []models.ToolName{models.ToolUpdatePersonProfile}
	switch category {
	case models.CategoryExploration, models.CategoryAnalysis:
		tools = append(tools, models.ToolAnalyzeCareers, models.ToolGetCareerPathways)
	case models.CategoryValidation:
		tools = append(tools, models.ToolValidateCareerChoice, models.ToolGetCareerPathways)
	}
	if exchangeCount >= InsightsExchangeThreshold {
		tools = append(tools, models.ToolTriggerInstantInsights)
	}
	return tools
}

// MaxWords computes the reply word budget: voice-aware base plus the
// category adjustment.
func MaxWords(category models.ObjectiveCategory, state *models.ConversationState) int {
	base := BaseMaxWords
	if state.HasVoiceMessage() {
		base = VoiceMaxWords
	}
	return base + categoryWordAdjustment[category]
}

// CompletionProgress estimates objective completion in [0, 1]: the greater
// of the collected data-point fraction and the exchange-count fraction.
func CompletionProgress(obj *models.Objective, state *models.ConversationState) float64 {
	var dataFraction float64
	if n := len(obj.DataPoints.Values); n > 0 {
		collected := 0
		for _, dp := range obj.DataPoints.Values {
			if _, ok := state.DataCollected[dp]; ok {
				collected++
			}
		}
		dataFraction = float64(collected) / float64(n)
	}

	var exchangeFraction float64
	if obj.AverageExchanges > 0 {
		exchangeFraction = float64(state.ExchangeCount) / obj.AverageExchanges
		if exchangeFraction > 1 {
			exchangeFraction = 1
		}
	}

	if dataFraction > exchangeFraction {
		return dataFraction
	}
	return exchangeFraction
}

// ConfidenceLevel is the arithmetic mean of all confidence scores, 0 if none.
func ConfidenceLevel(state *models.ConversationState) float64 {
	if len(state.ConfidenceScores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range state.ConfidenceScores {
		sum += v
	}
	return sum / float64(len(state.ConfidenceScores))
}

func tone(obj *models.Objective) string {
	if obj.Tone != "" {
		return obj.Tone
	}
	return DefaultTone
}

func persona(state *models.ConversationState) string {
	if state.UserPersona != "" {
		return state.UserPersona
	}
	return DefaultPersona
}

// collectedKeys returns the sorted data keys already gathered, comma-joined.
func collectedKeys(state *models.ConversationState) string {
	keys := make([]string, 0, len(state.DataCollected))
	for k := range state.DataCollected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

// contextBlock renders the fixed-format "Current Context" body shared by the
// authored and fallback prompt paths.
func contextBlock(state *models.ConversationState) string {
	collected := collectedKeys(state)
	if collected == "" {
		collected = "none"
	}
	lines := []string{
		fmt.Sprintf("- Exchange count: %d", state.ExchangeCount),
		fmt.Sprintf("- User persona: %s", persona(state)),
		fmt.Sprintf("- Data collected: %s", collected),
	}
	if state.CurrentTreeID != "" {
		lines = append(lines, fmt.Sprintf("- Conversation tree: %s", state.CurrentTreeID))
	}
	if state.LastUserMessage != "" {
		lines = append(lines, fmt.Sprintf("- Last user message: %s", state.LastUserMessage))
	}
	return strings.Join(lines, "\n")
}

// systemPrompt appends the context block to an authored prompt, or builds the
// fallback prompt when the objective carries none.
func systemPrompt(obj *models.Objective, state *models.ConversationState) string {
	if obj.SystemPrompt != "" {
		return NewBuilder().
			Add("", obj.SystemPrompt).
			Add("Current Context", contextBlock(state)).
			String()
	}
	return NewBuilder().
		Add("Objective", fmt.Sprintf("You are a career guidance assistant. Your current goal is: %s", obj.Purpose)).
		Add("Tone", fmt.Sprintf("Respond in a %s tone to a user whose persona is %q, %d exchanges into the conversation.", tone(obj), persona(state), state.ExchangeCount)).
		Add("Current Context", contextBlock(state)).
		Add("Instructions", "Stay focused on the current objective. Ask one question at a time and acknowledge what the user has already shared.").
		String()
}

// dynamicVariables exposes the flat template-variable map consumed by the
// persona engine.
func dynamicVariables(obj *models.Objective, state *models.ConversationState) map[string]string {
	category := obj.Category
	if category == "" {
		category = models.CategoryOther
	}
	return map[string]string{
		"objective_purpose":   obj.Purpose,
		"user_persona":        persona(state),
		"exchange_count":      strconv.Itoa(state.ExchangeCount),
		"completion_progress": strconv.FormatFloat(CompletionProgress(obj, state), 'f', 2, 64),
		"data_collected":      collectedKeys(state),
		"last_user_message":   state.LastUserMessage,
		"conversation_phase":  string(category),
		"confidence_level":    strconv.FormatFloat(ConfidenceLevel(state), 'f', 2, 64),
	}
}
