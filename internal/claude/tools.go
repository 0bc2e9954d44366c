package claude

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// SummaryToolName is the tool Claude calls to hand back a thread summary.
const SummaryToolName = "record_thread_summary"

// helper creates a tool with the given name, description and schema
func makeTool(name, description string, properties map[string]any, required []string) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{
		Properties: properties,
	}
	if len(required) > 0 {
		schema.ExtraFields = map[string]any{
			"required": required,
		}
	}

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: schema,
		},
	}
}

func stringList(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items":       map[string]any{"type": "string"},
	}
}

// SummaryTool returns the record_thread_summary tool definition. Its input
// schema is the stored summary document.
func SummaryTool() anthropic.ToolUnionParam {
	return makeTool(
		SummaryToolName,
		"Record the structured summary of a Slack thread. Always call this exactly once with the complete summary.",
		map[string]any{
			"one_line": map[string]any{
				"type":        "string",
				"description": "One short sentence, ideally under 80 characters",
			},
			"summary": map[string]any{
				"type":        "string",
				"description": "A summary of three to six sentences",
			},
			"key_points":   stringList("Key points raised in the thread"),
			"decisions":    stringList("Decisions that were made"),
			"blockers":     stringList("Open blockers or risks"),
			"questions":    stringList("Unanswered questions"),
			"participants": stringList("Names of people who took part"),
			"action_items": map[string]any{
				"type":        "array",
				"description": "Follow-up tasks",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task":       map[string]any{"type": "string"},
						"owner_hint": map[string]any{"type": "string", "description": "Likely owner, only if it can be inferred"},
						"due_hint":   map[string]any{"type": "string", "description": "Likely due date, only if it can be inferred"},
					},
					"required": []string{"task"},
				},
			},
			"confidence": map[string]any{
				"type": "string",
				"enum": []string{ConfidenceLow, ConfidenceMedium, ConfidenceHigh},
			},
		},
		[]string{"one_line", "summary", "key_points", "decisions", "blockers", "questions", "action_items", "participants", "confidence"},
	)
}
