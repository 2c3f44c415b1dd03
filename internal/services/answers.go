package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const maxTextAnswer = 4000

func validateQuestions(qs []Question) error {
	if len(qs) == 0 {
		return NewInvalidError("at least one question is required")
	}
	seen := make(map[string]struct{}, len(qs))
	for i, q := range qs {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return NewInvalidError(fmt.Sprintf("question %d: id required", i+1))
		}
		if _, dup := seen[id]; dup {
			return NewInvalidError(fmt.Sprintf("question %q: duplicate id", id))
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(q.Label) == "" {
			return NewInvalidError(fmt.Sprintf("question %q: label required", id))
		}
		switch q.Type {
		case QuestionRating:
			if lo, hi := q.Bounds(); lo >= hi {
				return NewInvalidError(fmt.Sprintf("question %q: min must be below max", id))
			}
		case QuestionText:
		case QuestionChoice:
			if len(q.Options) < 2 {
				return NewInvalidError(fmt.Sprintf("question %q: at least two options required", id))
			}
		default:
			return NewInvalidError(fmt.Sprintf("question %q: unknown type %q", id, q.Type))
		}
	}
	return nil
}

// normalizeAnswers checks answers against the question set and returns them
// with ratings as ints and text trimmed.
func normalizeAnswers(qs []Question, answers []Answer) ([]Answer, error) {
	if len(answers) == 0 {
		return nil, NewInvalidError("answers required")
	}
	byID := make(map[string]Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}
	seen := make(map[string]struct{}, len(answers))
	out := make([]Answer, 0, len(answers))
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			return nil, NewInvalidError(fmt.Sprintf("unknown question %q", a.QuestionID))
		}
		if _, dup := seen[a.QuestionID]; dup {
			return nil, NewInvalidError(fmt.Sprintf("question %q answered twice", a.QuestionID))
		}
		seen[a.QuestionID] = struct{}{}
		v, err := normalizeValue(q, a.Value)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		out = append(out, Answer{QuestionID: q.ID, Value: v})
	}
	for _, q := range qs {
		if !q.Required {
			continue
		}
		if _, ok := seen[q.ID]; !ok {
			return nil, NewInvalidError(fmt.Sprintf("question %q is required", q.ID))
		}
	}
	if len(out) == 0 {
		return nil, NewInvalidError("answers required")
	}
	return out, nil
}

func normalizeValue(q Question, v any) (any, error) {
	switch q.Type {
	case QuestionRating:
		f, ok := numericValue(v)
		if !ok || f != math.Trunc(f) {
			return nil, NewInvalidError(fmt.Sprintf("question %q: rating must be a whole number", q.ID))
		}
		lo, hi := q.Bounds()
		if int(f) < lo || int(f) > hi {
			return nil, NewInvalidError(fmt.Sprintf("question %q: rating must be between %d and %d", q.ID, lo, hi))
		}
		return int(f), nil
	case QuestionText:
		s, ok := v.(string)
		if !ok {
			return nil, NewInvalidError(fmt.Sprintf("question %q: text expected", q.ID))
		}
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) > maxTextAnswer {
			return nil, NewInvalidError(fmt.Sprintf("question %q: answer too long", q.ID))
		}
		if s == "" {
			if q.Required {
				return nil, NewInvalidError(fmt.Sprintf("question %q is required", q.ID))
			}
			return nil, nil
		}
		return s, nil
	case QuestionChoice:
		s, ok := v.(string)
		if !ok {
			return nil, NewInvalidError(fmt.Sprintf("question %q: choice expected", q.ID))
		}
		for _, opt := range q.Options {
			if opt == s {
				return s, nil
			}
		}
		return nil, NewInvalidError(fmt.Sprintf("question %q: %q is not an option", q.ID, s))
	}
	return nil, NewInvalidError(fmt.Sprintf("question %q: unsupported type", q.ID))
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
