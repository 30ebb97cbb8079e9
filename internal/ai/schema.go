package ai

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// jsonObject matches from the first '{' to the last '}' across lines
var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

const questionSetSchema = `{
  "type": "object",
  "required": ["introduction", "technical", "experience", "certification", "careerGoals", "softSkills", "other"],
  "properties": {
    "introduction":  {"$ref": "#/definitions/category"},
    "technical":     {"$ref": "#/definitions/category"},
    "experience":    {"$ref": "#/definitions/category"},
    "certification": {"$ref": "#/definitions/category"},
    "careerGoals":   {"$ref": "#/definitions/category"},
    "softSkills":    {"$ref": "#/definitions/category"},
    "other":         {"$ref": "#/definitions/category"}
  },
  "definitions": {
    "category": {
      "type": "object",
      "required": ["questions"],
      "properties": {
        "questions": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["question"],
            "properties": {
              "id":       {"type": "string"},
              "category": {"type": "string"},
              "question": {"type": "string", "minLength": 1}
            }
          }
        }
      }
    }
  }
}`

const validationSchema = `{
  "type": "object",
  "required": ["isCorrect", "score"],
  "properties": {
    "isCorrect": {"type": "boolean"},
    "score":     {"type": "number", "minimum": 0, "maximum": 100},
    "feedback":  {"type": "string"}
  }
}`

const evaluationSchema = `{
  "type": "object",
  "required": ["scores", "feedback"],
  "properties": {
    "scores": {
      "type": "object",
      "required": ["communication", "technicalKnowledge", "problemSolving", "confidence", "clarityOfThought"],
      "properties": {
        "communication":      {"$ref": "#/definitions/score"},
        "technicalKnowledge": {"$ref": "#/definitions/score"},
        "problemSolving":     {"$ref": "#/definitions/score"},
        "confidence":         {"$ref": "#/definitions/score"},
        "clarityOfThought":   {"$ref": "#/definitions/score"}
      }
    },
    "feedback": {
      "type": "object",
      "properties": {
        "strengths":    {"$ref": "#/definitions/strings"},
        "improvements": {"$ref": "#/definitions/strings"},
        "mistakes":     {"$ref": "#/definitions/strings"},
        "tips":         {"$ref": "#/definitions/strings"},
        "resources":    {"$ref": "#/definitions/strings"}
      }
    }
  },
  "definitions": {
    "score":   {"type": "number", "minimum": 0, "maximum": 100},
    "strings": {"type": "array", "items": {"type": "string"}}
  }
}`

const resumeSchema = `{
  "type": "object",
  "required": ["personalInfo"],
  "properties": {
    "personalInfo": {
      "type": "object",
      "required": ["name"],
      "properties": {"name": {"type": "string", "minLength": 1}}
    },
    "skills": {"type": "array", "items": {"type": "string"}},
    "experience": {"type": "array"},
    "education": {"type": "array"},
    "analysis": {
      "type": "object",
      "properties": {"overallScore": {"type": "number"}}
    }
  }
}`

var (
	questionSetValidator = mustSchema(questionSetSchema)
	validationValidator  = mustSchema(validationSchema)
	evaluationValidator  = mustSchema(evaluationSchema)
	resumeValidator      = mustSchema(resumeSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("ai: invalid schema: %v", err))
	}
	return schema
}

// extractJSON pulls the JSON object out of free-form model text and checks
// it against schema. The returned string is the raw object.
func extractJSON(text string, schema *gojsonschema.Schema) (string, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return "", fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return "", fmt.Errorf("%w: %s", ErrMalformedResponse, strings.Join(msgs, "; "))
	}

	return raw, nil
}
