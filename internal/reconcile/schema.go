package reconcile

import (
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// reportSchema validates the document shape the synthesis model must produce.
// It covers the model-authored portion of a report; ids, versions and
// bookkeeping metadata are stamped by the engine afterward.
const reportSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["subject", "abstract", "sections"],
  "properties": {
    "subject": {
      "type": "object",
      "required": ["name", "identity_confidence"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "affiliation": {"type": "string"},
        "title": {"type": "string"},
        "location": {"type": "string"},
        "profile_url": {"type": "string"},
        "identity_confidence": {"enum": ["confirmed", "likely", "uncertain"]},
        "identity_notes": {"type": "string"}
      }
    },
    "abstract": {
      "type": "object",
      "required": ["summary", "relevance_score"],
      "properties": {
        "summary": {"type": "string", "minLength": 1},
        "key_findings": {"type": "array", "items": {"type": "string"}},
        "relevance_score": {"type": "integer", "minimum": 0, "maximum": 100}
      }
    },
    "sections": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["key", "title"],
        "properties": {
          "key": {"enum": ["background", "track_record", "network", "public_presence", "risk", "executive_summary"]},
          "title": {"type": "string", "minLength": 1},
          "subsections": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["title", "content", "confidence"],
              "properties": {
                "title": {"type": "string"},
                "content": {"type": "string", "minLength": 1},
                "confidence": {"enum": ["confirmed", "likely", "uncertain"]},
                "confidence_rationale": {"type": "string"},
                "structured_data": {"type": "object"},
                "citations": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["url"],
                    "properties": {
                      "url": {"type": "string", "minLength": 1},
                      "title": {"type": "string"},
                      "source_type": {"type": "string"}
                    }
                  }
                }
              }
            }
          }
        }
      }
    },
    "bibliography": {
      "type": "object",
      "properties": {
        "citations": {"type": "array", "items": {"type": "object", "required": ["url"]}},
        "counts_by_type": {"type": "object", "additionalProperties": {"type": "integer"}}
      }
    },
    "quality_score": {"type": "integer", "minimum": 0, "maximum": 100},
    "completeness_score": {"type": "integer", "minimum": 0, "maximum": 100},
    "section_confidence": {"type": "object", "additionalProperties": {"type": "integer", "minimum": 0, "maximum": 100}}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// validateDocument checks a normalized synthesis document against the report
// schema.
func validateDocument(doc map[string]any) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("report.json", strings.NewReader(reportSchema)); err != nil {
			schemaErr = eris.Wrap(err, "reconcile: add schema resource")
			return
		}
		compiledSchema, schemaErr = compiler.Compile("report.json")
	})
	if schemaErr != nil {
		return schemaErr
	}

	// Validate needs plain decoded JSON values.
	if err := compiledSchema.Validate(any(doc)); err != nil {
		return eris.Wrap(err, "reconcile: schema violation")
	}
	return nil
}
