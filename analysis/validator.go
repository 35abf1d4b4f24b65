package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bobby854854854/LexiSense/model"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Normalized is a validated analysis result plus the number of list
// elements that were discarded on the way.
type Normalized struct {
	Result  *model.AnalysisResult
	Dropped int
}

const resultSchemaURL = "https://lexisense.local/schemas/analysis-result.json"

const resultSchema = `{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "title": {"type": "string"},
    "counterparty": {"type": "string"},
    "contractType": {"type": "string"},
    "value": {"type": "string"},
    "effectiveDate": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "expiryDate": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "riskLevel": {"enum": ["low", "medium", "high"]},
    "parties": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "role"],
        "properties": {"name": {"type": "string"}, "role": {"type": "string"}}
      }
    },
    "keyDates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["date", "event"],
        "properties": {
          "date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
          "event": {"type": "string"}
        }
      }
    },
    "risks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["level", "description"],
        "properties": {
          "level": {"enum": ["High", "Medium", "Low"]},
          "description": {"type": "string"}
        }
      }
    },
    "insights": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "title", "content"],
        "properties": {
          "type": {"type": "string"},
          "title": {"type": "string"},
          "content": {"type": "string"}
        }
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(resultSchemaURL, strings.NewReader(resultSchema)); err != nil {
		panic(fmt.Sprintf("analysis schema load failed: %v", err))
	}
	schema, err := c.Compile(resultSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("analysis schema compile failed: %v", err))
	}
	return schema
}

// CheckSchema reports whether raw matches the expected result shape.
// A mismatch is informational: Normalize still produces a usable result.
func CheckSchema(raw any) error {
	return compiledSchema.Validate(raw)
}

// ParseCompletion decodes a completion into a generic JSON value. Markdown
// code fences around the payload are removed first.
func ParseCompletion(text string) (any, error) {
	text = stripCodeFence(text)
	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrMalformedCompletion)
	}
	return raw, nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// drop the language tag line, e.g. ```json
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// Normalize turns an untrusted decoded completion into an AnalysisResult.
// It never fails: malformed list elements are dropped, non-string scalars
// are ignored and an unknown riskLevel becomes low.
func Normalize(raw any) Normalized {
	n := Normalized{Result: model.EmptyAnalysisResult()}
	obj, ok := raw.(map[string]any)
	if !ok {
		return n
	}
	r := n.Result

	r.Summary = stringField(obj, "summary")
	r.Title = stringField(obj, "title")
	r.Counterparty = stringField(obj, "counterparty")
	r.ContractType = stringField(obj, "contractType")
	r.Value = stringField(obj, "value")
	r.EffectiveDate = stringField(obj, "effectiveDate")
	r.ExpiryDate = stringField(obj, "expiryDate")

	if level, ok := obj["riskLevel"].(string); ok {
		switch model.RiskLevel(level) {
		case model.RiskLow, model.RiskMedium, model.RiskHigh:
			r.RiskLevel = model.RiskLevel(level)
		}
	}

	for _, item := range objectList(obj, "parties", &n.Dropped) {
		name, ok1 := item["name"].(string)
		role, ok2 := item["role"].(string)
		if !ok1 || !ok2 {
			n.Dropped++
			continue
		}
		r.Parties = append(r.Parties, model.Party{Name: name, Role: role})
	}

	for _, item := range objectList(obj, "keyDates", &n.Dropped) {
		date, ok1 := item["date"].(string)
		event, ok2 := item["event"].(string)
		if !ok1 || !ok2 || !validDate(date) {
			n.Dropped++
			continue
		}
		r.KeyDates = append(r.KeyDates, model.KeyDate{Date: date, Event: event})
	}

	for _, item := range objectList(obj, "risks", &n.Dropped) {
		level, ok1 := item["level"].(string)
		desc, ok2 := item["description"].(string)
		if !ok1 || !ok2 || !validRiskLevel(level) {
			n.Dropped++
			continue
		}
		r.Risks = append(r.Risks, model.Risk{Level: level, Description: desc})
	}

	for _, item := range objectList(obj, "insights", &n.Dropped) {
		typ, ok1 := item["type"].(string)
		title, ok2 := item["title"].(string)
		content, ok3 := item["content"].(string)
		if !ok1 || !ok2 || !ok3 {
			n.Dropped++
			continue
		}
		r.Insights = append(r.Insights, model.Insight{Type: typ, Title: title, Content: content})
	}

	return n
}

func stringField(obj map[string]any, key string) *string {
	s, ok := obj[key].(string)
	if !ok {
		return nil
	}
	return &s
}

// objectList returns the object elements of obj[key], counting every
// non-object element as dropped. A missing or non-array field yields nil.
func objectList(obj map[string]any, key string, dropped *int) []map[string]any {
	list, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			*dropped++
			continue
		}
		out = append(out, m)
	}
	return out
}

func validDate(s string) bool {
	_, err := time.Parse(model.DateLayout, s)
	return err == nil
}

func validRiskLevel(s string) bool {
	return s == "High" || s == "Medium" || s == "Low"
}
