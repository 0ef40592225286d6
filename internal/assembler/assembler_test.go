package assembler

import (
	"reflect"
	"strings"
	"testing"

	"github.com/pathlight-ai/pathlight/internal/models"
)

func TestGenerateNilObjective(t *testing.T) {
	if bundle := Generate(nil, &models.ConversationState{}); bundle != nil {
		t.Errorf("expected nil bundle, got %+v", bundle)
	}
}

func TestGenerateNilStateTreatedAsEmpty(t *testing.T) {
	obj := &models.Objective{ID: "obj1", Purpose: "intro", Category: models.CategoryOnboarding}
	bundle := Generate(obj, nil)
	if bundle == nil {
		t.Fatal("expected bundle for nil state")
	}
	if bundle.Constraints.MaxWords != BaseMaxWords {
		t.Errorf("expected base word budget, got %d", bundle.Constraints.MaxWords)
	}
	if bundle.DynamicVariables["exchange_count"] != "0" {
		t.Errorf("expected zero exchange count, got %q", bundle.DynamicVariables["exchange_count"])
	}
}

func TestGenerateDeterministic(t *testing.T) {
	obj := &models.Objective{
		ID:       "obj1",
		Purpose:  "explore interests",
		Category: models.CategoryExploration,
		DataPoints: models.DataPointList{
			Values: []string{"interests", "skills"},
		},
		AverageExchanges: 6,
	}
	state := &models.ConversationState{
		ExchangeCount: 4,
		UserPersona:   "student",
		DataCollected: map[string]string{"interests": "music", "skills": "coding"},
	}
	a := Generate(obj, state)
	b := Generate(obj, state)
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different bundles")
	}
}

func TestToolsByCategory(t *testing.T) {
	tests := []struct {
		name          string
		category      models.ObjectiveCategory
		exchangeCount int
		want          []models.ToolName
	}{
		{
			"onboarding early", models.CategoryOnboarding, 0,
			[]models.ToolName{models.ToolUpdatePersonProfile},
		},
		{
			"exploration", models.CategoryExploration, 0,
			[]models.ToolName{models.ToolUpdatePersonProfile, models.ToolAnalyzeCareers, models.ToolGetCareerPathways},
		},
		{
			"analysis", models.CategoryAnalysis, 0,
			[]models.ToolName{models.ToolUpdatePersonProfile, models.ToolAnalyzeCareers, models.ToolGetCareerPathways},
		},
		{
			"validation with insights", models.CategoryValidation, 3,
			[]models.ToolName{models.ToolUpdatePersonProfile, models.ToolValidateCareerChoice, models.ToolGetCareerPathways, models.ToolTriggerInstantInsights},
		},
		{
			"other below threshold", models.CategoryOther, 2,
			[]models.ToolName{models.ToolUpdatePersonProfile},
		},
		{
			"other at threshold", models.CategoryOther, 3,
			[]models.ToolName{models.ToolUpdatePersonProfile, models.ToolTriggerInstantInsights},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tools(tt.category, tt.exchangeCount)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMaxWords(t *testing.T) {
	text := &models.ConversationState{}
	voice := &models.ConversationState{
		ConversationHistory: []models.ConversationMessage{
			{Role: "user", Content: "spoken", Channel: models.ChannelVoice},
		},
	}

	tests := []struct {
		name     string
		category models.ObjectiveCategory
		state    *models.ConversationState
		want     int
	}{
		{"onboarding text", models.CategoryOnboarding, text, 120},
		{"exploration text", models.CategoryExploration, text, 160},
		{"validation text", models.CategoryValidation, text, 140},
		{"analysis text", models.CategoryAnalysis, text, 180},
		{"other text", models.CategoryOther, text, 120},
		{"onboarding voice", models.CategoryOnboarding, voice, 60},
		{"exploration voice", models.CategoryExploration, voice, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaxWords(tt.category, tt.state); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestCompletionProgressMonotonic(t *testing.T) {
	obj := &models.Objective{
		ID:               "obj1",
		Purpose:          "explore",
		DataPoints:       models.DataPointList{Values: []string{"a", "b", "c", "d"}},
		AverageExchanges: 8,
	}

	// Adding data points never lowers progress.
	prev := -1.0
	collected := map[string]string{}
	for _, dp := range obj.DataPoints.Values {
		collected[dp] = "x"
		got := CompletionProgress(obj, &models.ConversationState{DataCollected: collected})
		if got < prev {
			t.Errorf("progress decreased after collecting %q: %f -> %f", dp, prev, got)
		}
		prev = got
	}
	if prev != 1.0 {
		t.Errorf("expected full data collection to reach 1.0, got %f", prev)
	}

	// Exchange progress is capped at 1.
	got := CompletionProgress(obj, &models.ConversationState{ExchangeCount: 100})
	if got != 1.0 {
		t.Errorf("expected exchange fraction capped at 1.0, got %f", got)
	}

	// The greater of the two fractions wins.
	state := &models.ConversationState{
		ExchangeCount: 2, // 0.25 by exchanges
		DataCollected: map[string]string{"a": "x", "b": "y", "c": "z"}, // 0.75 by data
	}
	if got := CompletionProgress(obj, state); got != 0.75 {
		t.Errorf("expected 0.75, got %f", got)
	}
}

func TestCompletionProgressNoSignals(t *testing.T) {
	obj := &models.Objective{ID: "obj1", Purpose: "intro"}
	if got := CompletionProgress(obj, &models.ConversationState{}); got != 0 {
		t.Errorf("expected zero progress, got %f", got)
	}
}

func TestConfidenceLevel(t *testing.T) {
	if got := ConfidenceLevel(&models.ConversationState{}); got != 0 {
		t.Errorf("expected 0 for no scores, got %f", got)
	}
	state := &models.ConversationState{
		ConfidenceScores: map[string]float64{"persona": 0.8, "interests": 0.4},
	}
	if got := ConfidenceLevel(state); got != 0.6 {
		t.Errorf("expected mean 0.6, got %f", got)
	}
}

func TestSystemPromptAuthoredKeepsContext(t *testing.T) {
	obj := &models.Objective{
		ID:           "obj1",
		Purpose:      "explore",
		SystemPrompt: "You are Pathlight, a friendly career guide.",
	}
	state := &models.ConversationState{
		ExchangeCount:   2,
		UserPersona:     "student",
		CurrentTreeID:   "onboarding_tree",
		LastUserMessage: "I like biology",
		DataCollected:   map[string]string{"interests": "biology"},
	}
	prompt := Generate(obj, state).SystemPrompt

	if !strings.HasPrefix(prompt, obj.SystemPrompt) {
		t.Errorf("expected authored prompt to lead, got %q", prompt)
	}
	for _, want := range []string{
		"Current Context:",
		"- Exchange count: 2",
		"- User persona: student",
		"- Data collected: interests",
		"- Conversation tree: onboarding_tree",
		"- Last user message: I like biology",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q\nprompt:\n%s", want, prompt)
		}
	}
}

func TestSystemPromptFallback(t *testing.T) {
	obj := &models.Objective{ID: "obj1", Purpose: "understand the user's interests", Tone: "encouraging"}
	prompt := Generate(obj, &models.ConversationState{}).SystemPrompt

	for _, want := range []string{
		"Objective:",
		"understand the user's interests",
		"encouraging",
		"Current Context:",
		"- User persona: unknown",
		"- Data collected: none",
		"Instructions:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected fallback prompt to contain %q\nprompt:\n%s", want, prompt)
		}
	}
	// Optional lines are omitted when the state carries no values.
	for _, unwanted := range []string{"Conversation tree", "Last user message"} {
		if strings.Contains(prompt, unwanted) {
			t.Errorf("expected fallback prompt to omit %q\nprompt:\n%s", unwanted, prompt)
		}
	}
}

func TestDynamicVariables(t *testing.T) {
	obj := &models.Objective{
		ID:               "obj1",
		Purpose:          "explore interests",
		Category:         models.CategoryExploration,
		DataPoints:       models.DataPointList{Values: []string{"interests", "skills"}},
		AverageExchanges: 4,
	}
	state := &models.ConversationState{
		ExchangeCount:    2,
		UserPersona:      "student",
		LastUserMessage:  "maybe engineering",
		DataCollected:    map[string]string{"interests": "building things"},
		ConfidenceScores: map[string]float64{"persona": 0.9},
	}
	vars := Generate(obj, state).DynamicVariables

	want := map[string]string{
		"objective_purpose":   "explore interests",
		"user_persona":        "student",
		"exchange_count":      "2",
		"completion_progress": "0.50",
		"data_collected":      "interests",
		"last_user_message":   "maybe engineering",
		"conversation_phase":  "exploration",
		"confidence_level":    "0.90",
	}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("expected %v, got %v", want, vars)
	}
}

func TestConstraintsDefaults(t *testing.T) {
	obj := &models.Objective{ID: "obj1", Purpose: "intro"}
	bundle := Generate(obj, &models.ConversationState{})
	if bundle.Constraints.Tone != DefaultTone {
		t.Errorf("expected default tone, got %q", bundle.Constraints.Tone)
	}
	if bundle.Constraints.Format != "conversational" {
		t.Errorf("expected conversational format, got %q", bundle.Constraints.Format)
	}
	if bundle.DynamicVariables["conversation_phase"] != string(models.CategoryOther) {
		t.Errorf("expected uncategorized objectives to report phase %q, got %q", models.CategoryOther, bundle.DynamicVariables["conversation_phase"])
	}
}
