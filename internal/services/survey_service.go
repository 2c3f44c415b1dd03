package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SurveyStore interface {
	InsertSurvey(ctx context.Context, sv *Survey) error
	GetSurvey(ctx context.Context, id string) (*Survey, error)
	ListSurveys(ctx context.Context, orgID string) ([]*Survey, error)
	UpdateSurvey(ctx context.Context, sv *Survey) error
	SurveyInUse(ctx context.Context, id string) (bool, error)
}

type SurveyService struct {
	store SurveyStore
	now   func() time.Time
	idGen func() string
}

type SurveyInput struct {
	Name        string
	Description string
	Questions   []Question
}

// SurveyPatch carries optional edits; nil fields are left unchanged.
type SurveyPatch struct {
	Name        *string
	Description *string
	Questions   []Question
}

func NewSurveyService(store SurveyStore) *SurveyService {
	return &SurveyService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: uuid.NewString,
	}
}

func (s *SurveyService) Create(ctx context.Context, orgID string, in SurveyInput) (*Survey, error) {
	if orgID == "" {
		return nil, NewUnauthorizedError("organization required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, NewInvalidError("name required")
	}
	qs := trimQuestions(in.Questions)
	if err := validateQuestions(qs); err != nil {
		return nil, err
	}
	now := s.now()
	sv := &Survey{
		ID:          s.idGen(),
		OrgID:       orgID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Questions:   qs,
		Status:      SurveyActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertSurvey(ctx, sv); err != nil {
		return nil, err
	}
	return sv, nil
}

func (s *SurveyService) Get(ctx context.Context, orgID, id string) (*Survey, error) {
	sv, err := s.store.GetSurvey(ctx, id)
	if err != nil {
		return nil, err
	}
	if sv == nil || sv.OrgID != orgID {
		return nil, NewNotFoundError("survey not found")
	}
	return sv, nil
}

func (s *SurveyService) List(ctx context.Context, orgID string) ([]*Survey, error) {
	if orgID == "" {
		return nil, NewUnauthorizedError("organization required")
	}
	return s.store.ListSurveys(ctx, orgID)
}

// Update edits metadata freely. Questions can only change while no pool
// references the survey.
func (s *SurveyService) Update(ctx context.Context, orgID, id string, p SurveyPatch) (*Survey, error) {
	sv, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, NewInvalidError("name required")
		}
		sv.Name = name
	}
	if p.Description != nil {
		sv.Description = strings.TrimSpace(*p.Description)
	}
	if p.Questions != nil {
		inUse, err := s.store.SurveyInUse(ctx, sv.ID)
		if err != nil {
			return nil, err
		}
		if inUse {
			return nil, NewConflictError(ReasonSurveyInUse, "questions cannot change once a pool uses this survey")
		}
		qs := trimQuestions(p.Questions)
		if err := validateQuestions(qs); err != nil {
			return nil, err
		}
		sv.Questions = qs
	}
	sv.UpdatedAt = s.now()
	if err := s.store.UpdateSurvey(ctx, sv); err != nil {
		return nil, err
	}
	return sv, nil
}

// Archive hides a survey from new pools. Existing pools keep using it.
func (s *SurveyService) Archive(ctx context.Context, orgID, id string) (*Survey, error) {
	sv, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if sv.Status == SurveyArchived {
		return sv, nil
	}
	sv.Status = SurveyArchived
	sv.UpdatedAt = s.now()
	if err := s.store.UpdateSurvey(ctx, sv); err != nil {
		return nil, err
	}
	return sv, nil
}

func trimQuestions(in []Question) []Question {
	out := make([]Question, 0, len(in))
	for _, q := range in {
		q.ID = strings.TrimSpace(q.ID)
		q.Label = strings.TrimSpace(q.Label)
		q.Type = QuestionType(strings.ToLower(strings.TrimSpace(string(q.Type))))
		if q.Type == QuestionRating && q.Min == 0 && q.Max == 0 {
			q.Min, q.Max = defaultRatingMin, defaultRatingMax
		}
		out = append(out, q)
	}
	return out
}

// questionsFor resolves the form a pool collects answers for.
func questionsFor(ctx context.Context, store interface {
	GetSurvey(ctx context.Context, id string) (*Survey, error)
}, p *Pool) ([]Question, error) {
	if p.SurveyID == "" {
		return DefaultQuestions(), nil
	}
	sv, err := store.GetSurvey(ctx, p.SurveyID)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, NewNotFoundError("survey not found")
	}
	return sv.Questions, nil
}
