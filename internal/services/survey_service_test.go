package services

import (
	"context"
	"testing"
)

func TestSurveyCreateValidatesQuestions(t *testing.T) {
	s := NewSurveyService(newMemStore())
	ctx := context.Background()
	bad := map[string][]Question{
		"none":          nil,
		"no id":         {{Label: "x", Type: QuestionText}},
		"duplicate id":  {{ID: "a", Label: "x", Type: QuestionText}, {ID: "a", Label: "y", Type: QuestionText}},
		"no label":      {{ID: "a", Type: QuestionText}},
		"unknown type":  {{ID: "a", Label: "x", Type: "slider"}},
		"one option":    {{ID: "a", Label: "x", Type: QuestionChoice, Options: []string{"only"}}},
		"inverted span": {{ID: "a", Label: "x", Type: QuestionRating, Min: 5, Max: 1}},
	}
	for name, qs := range bad {
		_, err := s.Create(ctx, "org-1", SurveyInput{Name: "form", Questions: qs})
		if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalid {
			t.Fatalf("%s: expected invalid, got %v", name, err)
		}
	}
	sv, err := s.Create(ctx, "org-1", SurveyInput{Name: " form ", Questions: []Question{{ID: "r", Label: "Rate", Type: "Rating"}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sv.Name != "form" || sv.Status != SurveyActive || sv.Questions[0].Type != QuestionRating {
		t.Fatalf("unexpected survey %+v", sv)
	}
	if lo, hi := sv.Questions[0].Bounds(); lo != 1 || hi != 10 {
		t.Fatalf("rating should default to 1..10, got %d..%d", lo, hi)
	}
}

func TestSurveyQuestionsFrozenOnceUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sv, err := f.surveys.Create(ctx, "org-1", SurveyInput{Name: "form", Questions: DefaultQuestions()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	renamed := "renamed"
	if _, err := f.surveys.Update(ctx, "org-1", sv.ID, SurveyPatch{Questions: DefaultQuestions()[:1]}); err != nil {
		t.Fatalf("questions should be editable before use: %v", err)
	}
	f.createPool(t, "org-1", CreatePoolInput{SurveyID: sv.ID})

	_, err = f.surveys.Update(ctx, "org-1", sv.ID, SurveyPatch{Questions: DefaultQuestions()})
	if se, ok := AsServiceError(err); !ok || se.Reason != ReasonSurveyInUse {
		t.Fatalf("expected survey in use, got %v", err)
	}
	got, err := f.surveys.Update(ctx, "org-1", sv.ID, SurveyPatch{Name: &renamed})
	if err != nil || got.Name != "renamed" {
		t.Fatalf("metadata edit: %+v %v", got, err)
	}
	if _, err := f.surveys.Get(ctx, "org-2", sv.ID); err == nil {
		t.Fatalf("other org must not read the survey")
	}
	archived, err := f.surveys.Archive(ctx, "org-1", sv.ID)
	if err != nil || archived.Status != SurveyArchived {
		t.Fatalf("archive: %+v %v", archived, err)
	}
	list, err := f.surveys.List(ctx, "org-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
}
