// Package jsonx extracts JSON objects from free-form model output.
package jsonx

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// ErrNoObject is returned when the input contains no opening brace.
var ErrNoObject = eris.New("jsonx: no JSON object found")

// ErrMalformed is returned when a brace-delimited candidate is found but
// is unbalanced or fails to parse as JSON.
var ErrMalformed = eris.New("jsonx: malformed JSON object")

// ExtractObject returns the first balanced brace-delimited substring of s
// that parses as a JSON object. Model responses are instructed to contain
// exactly one JSON object but routinely wrap it in prose; this is the
// single boundary-tolerance point for both model stages.
func ExtractObject(s string) (string, error) {
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start = i
			break
		}
	}
	if start < 0 {
		return "", ErrNoObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", ErrMalformed
				}
				return candidate, nil
			}
		}
	}

	// Opening brace without a matching close.
	return "", ErrMalformed
}

// DecodeObject extracts the first JSON object from s and unmarshals it
// into v.
func DecodeObject(s string, v any) error {
	obj, err := ExtractObject(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return eris.Wrap(ErrMalformed, err.Error())
	}
	return nil
}
