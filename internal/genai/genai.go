// Package genai generates assistant replies from prompt bundles using the
// OpenAI API.
//
// The prompt cache itself performs no AI calls; this package is the consumer
// that turns an assembled PromptBundle plus the conversation state into the
// next assistant message, honoring the bundle's tool allow-list and response
// constraints.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/pathlight-ai/pathlight/internal/models"
)

// DefaultMaxCompletionTokens bounds reply generation; word limits are also
// enforced via prompt instructions since token cutoffs truncate mid-sentence.
const DefaultMaxCompletionTokens = 1024

// ClientInterface defines the reply-generation surface consumed by the API
// layer, so tests can substitute a fake.
type ClientInterface interface {
	GenerateReply(ctx context.Context, bundle *models.PromptBundle, state *models.ConversationState) (string, error)
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	client openai.Client
	model  openai.ChatModel
}

// NewClient initializes a GenAI client using the OPENAI_API_KEY environment
// variable.
func NewClient() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.ChatModelGPT4oMini,
	}, nil
}

// GenerateReply produces the next assistant message for the turn described
// by bundle and state. Only tools on the bundle's allow-list are exposed to
// the model.
func (c *Client) GenerateReply(ctx context.Context, bundle *models.PromptBundle, state *models.ConversationState) (string, error) {
	if bundle == nil {
		return "", fmt.Errorf("prompt bundle is required")
	}
	if state == nil {
		state = &models.ConversationState{}
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemMessage(bundle)),
	}
	for _, m := range state.ConversationHistory {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	if state.LastUserMessage != "" {
		messages = append(messages, openai.UserMessage(state.LastUserMessage))
	}

	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(DefaultMaxCompletionTokens),
	}
	if tools := toolDefinitions(bundle.ToolRestrictions); len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		slog.Error("genai GenerateReply failed", "error", err)
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	slog.Debug("genai GenerateReply succeeded", "tools_allowed", len(bundle.ToolRestrictions))
	return resp.Choices[0].Message.Content, nil
}

// systemMessage appends the response constraints to the assembled prompt.
func systemMessage(bundle *models.PromptBundle) string {
	return fmt.Sprintf("%s\n\nKeep your reply under %d words. Maintain a %s tone.",
		bundle.SystemPrompt, bundle.Constraints.MaxWords, bundle.Constraints.Tone)
}

// toolDefinitions maps the bundle's allow-list to OpenAI tool definitions.
// Unknown tool names are skipped; the allow-list is a scope boundary, so
// nothing outside it is ever defined for the model.
func toolDefinitions(allowed []models.ToolName) []openai.ChatCompletionToolParam {
	var tools []openai.ChatCompletionToolParam
	for _, name := range allowed {
		if def, ok := toolCatalog[name]; ok {
			tools = append(tools, def)
		} else {
			slog.Warn("genai skipping unknown tool", "tool", name)
		}
	}
	return tools
}

// toolCatalog holds the OpenAI definitions of every invokable tool.
var toolCatalog = map[models.ToolName]openai.ChatCompletionToolParam{
	models.ToolUpdatePersonProfile: {
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        string(models.ToolUpdatePersonProfile),
			Description: openai.String("Save or update fields of the user's career profile as they are learned"),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"field": map[string]interface{}{
						"type":        "string",
						"description": "Profile field name, e.g. 'interests' or 'skills'",
					},
					"value": map[string]interface{}{
						"type":        "string",
						"description": "Value to store for the field",
					},
				},
				"required": []string{"field", "value"},
			},
		},
	},
	models.ToolAnalyzeCareers: {
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        string(models.ToolAnalyzeCareers),
			Description: openai.String("Analyze the conversation so far and suggest matching career directions"),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	},
	models.ToolGetCareerPathways: {
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        string(models.ToolGetCareerPathways),
			Description: openai.String("Retrieve concrete pathway suggestions (education, entry roles) for a named career"),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"career": map[string]interface{}{
						"type":        "string",
						"description": "Career title to retrieve pathways for",
					},
				},
				"required": []string{"career"},
			},
		},
	},
	models.ToolValidateCareerChoice: {
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        string(models.ToolValidateCareerChoice),
			Description: openai.String("Check a tentative career choice against the data collected so far"),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"career": map[string]interface{}{
						"type":        "string",
						"description": "Career title the user is considering",
					},
				},
				"required": []string{"career"},
			},
		},
	},
	models.ToolTriggerInstantInsights: {
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        string(models.ToolTriggerInstantInsights),
			Description: openai.String("Produce a mid-conversation summary of insights gathered about the user"),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	},
}
