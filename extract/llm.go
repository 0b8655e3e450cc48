package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/okkerlund/strata/llm"
)

// extractionPrompt asks for entities and relationships in one strict JSON
// call. Temperature is pinned to zero and JSON mode is requested, but the
// output is still validated; the model is never trusted.
const extractionPrompt = `You are a knowledge extraction engine for long governance, financial, and regulatory documents.
Given the following text, extract the entities it discusses and the relationships between them.

ENTITY TYPES (use exactly these values):
- PERSON        : a named individual
- ORGANIZATION  : a company, body, committee, board, or institution
- FINANCIAL     : a financial instrument, metric, account, or amount
- GOVERNANCE    : a policy, charter, mandate, role, or control
- RISK          : a named risk, exposure, or risk category
- CONCEPT       : an abstract idea, principle, or defined term
- EVENT         : a dated or datable occurrence
- OTHER         : anything that fits no other type

SALIENCE (use exactly these values):
- CORE       : central to what this text is about
- IMPORTANT  : materially discussed but not central
- SUPPORTING : mentioned in passing

RELATIONSHIP TYPES (use exactly these values):
- DEFINES          : source provides the definition of target
- DETAILS          : source elaborates on target
- REFERS_TO        : source mentions or cites target
- ASSOCIATED_WITH  : source and target are linked without a clearer verb

Return a JSON object with exactly two keys:
  "entities"      : array of {"name": string, "type": string, "description": string, "salience": string}
  "relationships" : array of {"source": string, "target": string, "type": string, "description": string}

Rules:
- At most %d entities and %d relationships.
- Relationship source and target must be names from the entities array.
- Only include what the text clearly supports. Empty arrays are fine.
- Do NOT include any text outside the JSON object.
%s
TEXT:
%s`

// LLMExtractor implements Extractor over a primary chat provider with an
// optional fallback tried when the primary fails.
type LLMExtractor struct {
	primary  llm.Provider
	fallback llm.Provider
	model    string
}

// NewLLMExtractor builds an extractor. fallback may be nil.
func NewLLMExtractor(primary, fallback llm.Provider, model string) *LLMExtractor {
	return &LLMExtractor{primary: primary, fallback: fallback, model: model}
}

// Extract runs the extraction prompt against the chunk text. A malformed
// or contract-violating response is an error: the caller's ledger decides
// whether to retry, and nothing partial is ever returned.
func (x *LLMExtractor) Extract(ctx context.Context, chunkText, subject string) (*Result, error) {
	var subjectLine string
	if subject != "" {
		subjectLine = fmt.Sprintf("\nDOCUMENT SUBJECT: %s\n", subject)
	}
	prompt := fmt.Sprintf(extractionPrompt, MaxEntities, MaxRelationships, subjectLine, chunkText)

	resp, err := x.chat(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("extraction chat: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("locating extraction JSON: %w", err)
	}

	var res Result
	if err := json.Unmarshal([]byte(jsonStr), &res); err != nil {
		return nil, fmt.Errorf("unmarshalling extraction result: %w", err)
	}

	Clean(&res)

	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("extraction payload invalid: %w", err)
	}
	for _, e := range res.Entities {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entity %q invalid: %w", e.Name, err)
		}
	}
	for _, r := range res.Relationships {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("relationship %s->%s invalid: %w", r.Source, r.Target, err)
		}
	}
	return &res, nil
}

// chat tries the primary provider, then the fallback. Context cancellation
// is terminal and skips the fallback.
func (x *LLMExtractor) chat(ctx context.Context, prompt string) (*llm.ChatResponse, error) {
	req := llm.ChatRequest{
		Model: x.model,
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	}

	resp, err := x.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil || x.fallback == nil {
		return nil, err
	}

	slog.Warn("extract: primary provider failed, trying fallback", "error", err)
	resp, ferr := x.fallback.Chat(ctx, req)
	if ferr != nil {
		return nil, fmt.Errorf("primary: %v; fallback: %w", err, ferr)
	}
	return resp, nil
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON attempts to find a valid JSON object in the LLM response text.
// It handles common LLM quirks: markdown code blocks, text before/after JSON.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}

	return "", fmt.Errorf("no JSON object found in response")
}
