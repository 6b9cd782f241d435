package analysis

var (
	assignmentTypes = []string{"homework", "exam", "quiz", "project", "participation", "lab", "other"}
	componentTypes  = []string{"timeline", "pie-chart", "assignment-list", "grade-breakdown", "calendar"}
)

// SyllabusSchema returns the JSON-Schema (draft 2020-12 subset) that every
// completed job's output must satisfy. It is also sent to the LLM as the
// structured output constraint.
func SyllabusSchema() map[string]any {
	date := map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`}
	nonEmpty := map[string]any{"type": "string", "minLength": 1}
	intProp := map[string]any{"type": "integer", "minimum": 0}

	parsed := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"courseInfo": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":       nonEmpty,
					"instructor": map[string]any{"type": "string"},
					"semester":   map[string]any{"type": "string"},
					"credits":    map[string]any{"type": "integer", "minimum": 0, "maximum": 20},
				},
				"required": []string{"name"},
			},
			"assignments": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":    nonEmpty,
						"dueDate": date,
						"weight":  map[string]any{"type": "number", "minimum": 0, "maximum": 100},
						"type":    map[string]any{"type": "string", "enum": assignmentTypes},
					},
					"required": []string{"name", "dueDate", "weight", "type"},
				},
			},
			"gradingScale": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			},
			"schedule": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date":     date,
						"topic":    nonEmpty,
						"readings": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []string{"date", "topic"},
				},
			},
		},
		"required": []string{"courseInfo", "assignments", "gradingScale", "schedule"},
	}

	layout := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"components": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type": map[string]any{"type": "string", "enum": componentTypes},
						"position": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"x": intProp, "y": intProp, "width": intProp, "height": intProp,
							},
							"required": []string{"x", "y", "width", "height"},
						},
						"config": map[string]any{"type": "object"},
					},
					"required": []string{"type", "position"},
				},
			},
			"theme": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"primaryColor": map[string]any{"type": "string", "pattern": `^#[0-9A-Fa-f]{6}$`},
					"layout":       map[string]any{"type": "string", "enum": []string{"grid", "list"}},
				},
				"required": []string{"primaryColor", "layout"},
			},
		},
		"required": []string{"components", "theme"},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"parsedSyllabus":  parsed,
			"dashboardLayout": layout,
		},
		"required": []string{"parsedSyllabus", "dashboardLayout"},
	}
}
