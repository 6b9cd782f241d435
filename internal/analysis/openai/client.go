package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/syllabus-jobs/internal/analysis"
)

// Process implements analysis.Processor. Only UTF-8 text documents are
// accepted; binary formats need a text extraction step first.
func (c *Client) Process(ctx context.Context, doc analysis.Document) (json.RawMessage, error) {
	rid := uuid.New().String()
	start := time.Now()

	if !utf8.Valid(doc.Data) {
		c.logger.Warn("llm.process.binary_document", "req_id", rid, "document", doc.Name, "bytes", len(doc.Data))
		return nil, fmt.Errorf("%w: %s is not UTF-8 text", analysis.ErrUnsupportedDocument, doc.Name)
	}

	c.logger.Info("llm.process.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"document", doc.Name,
		"text_len", len(doc.Data),
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildUserPrompt(doc.Name, string(doc.Data), c.cfg.MaxTextChars) + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(analysis.SyllabusSchema())},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, err := analysis.PostJSON(ctx, c.http, endpoint, rid, body, headers, c.logger)
	if err != nil {
		c.logger.Error("llm.process.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("openai: %w", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.process.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.process.no_choices", "req_id", rid)
		return nil, fmt.Errorf("no choices in openai response")
	}
	content, _, err := analysis.NormalizeOutput([]byte(cc.Choices[0].Message.Content), c.logger)
	if err != nil {
		c.logger.Error("llm.process.normalize_failed", "req_id", rid, "error", err)
		return nil, err
	}

	if err := c.validator.Validate(content); err != nil {
		c.logger.Error("llm.process.schema_validation_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	c.logger.Info("llm.process.ok",
		"req_id", rid,
		"document", doc.Name,
		"bytes", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return json.RawMessage(content), nil
}

const systemPrompt = "You are a course syllabus parser. Return ONLY JSON that matches the JSON Schema provided. " +
	"Use ISO-8601 dates (YYYY-MM-DD); if a year is missing, infer it from the term. " +
	"Assignment weights are percentages of the final grade. " +
	"gradingScale maps letter grades to their minimum percentage. " +
	"Choose dashboardLayout components that best present this course. " +
	"Never output null. If a field is not present, omit it."

func buildUserPrompt(name, text string, max int) string {
	var b strings.Builder
	b.WriteString("Filename: ")
	b.WriteString(name)
	b.WriteString("\n\nSyllabus text:\n")
	b.WriteString(truncate(text, max))
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
