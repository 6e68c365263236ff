package discovery

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/harborlight-collective/grantscout/internal/jsonx"
	"github.com/harborlight-collective/grantscout/internal/model"
	"github.com/harborlight-collective/grantscout/pkg/anthropic"
)

// extractPrompt is the system prompt for the cheap-tier extraction call.
const extractPrompt = `You normalize raw grant registry records into a fixed schema. The input is the registry's full detail payload as JSON; field names and nesting vary by funder.

Respond with ONLY a single JSON object, no other text:
{
  "name": "opportunity title",
  "funder": "funding agency or organization",
  "grant_type": "grant | cooperative_agreement | other",
  "description": "2-3 sentence summary",
  "award_ceiling": 0,
  "deadline": "YYYY-MM-DD or empty string if none stated",
  "eligibility_notes": "who may apply, condensed",
  "external_id": "the registry's own identifier for this record"
}

Use null for award_ceiling when no maximum award is stated. Never invent values.`

// Extractor runs the cheap-tier model over raw detail payloads.
type Extractor struct {
	ai        anthropic.Client
	model     string
	maxTokens int64
	maxChars  int
}

// NewExtractor creates an Extractor for the given cheap-tier model.
func NewExtractor(ai anthropic.Client, modelID string, maxTokens int64, maxChars int) *Extractor {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if maxChars <= 0 {
		maxChars = 24000
	}
	return &Extractor{ai: ai, model: modelID, maxTokens: maxTokens, maxChars: maxChars}
}

// Extract normalizes one raw detail payload. Token usage is returned even
// when parsing fails, since the call was made and must be accounted.
func (e *Extractor) Extract(ctx context.Context, raw json.RawMessage) (*model.ExtractedFields, anthropic.TokenUsage, error) {
	payload := string(raw)
	if len(payload) > e.maxChars {
		payload = payload[:e.maxChars]
	}

	resp, err := e.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    extractPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: payload}},
	})
	if err != nil {
		return nil, anthropic.TokenUsage{}, eris.Wrap(err, "extract: model call")
	}

	text := resp.Text()
	if text == "" {
		return nil, resp.Usage, eris.New("extract: empty model response")
	}

	var fields model.ExtractedFields
	if err := jsonx.DecodeObject(text, &fields); err != nil {
		return nil, resp.Usage, eris.Wrap(err, "extract: parse model response")
	}
	if fields.Name == "" {
		return nil, resp.Usage, eris.New("extract: response missing opportunity name")
	}

	return &fields, resp.Usage, nil
}
