package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soaringjerry/candor/internal/models"
	"github.com/soaringjerry/candor/internal/services"
)

func toQuestions(in []models.QuestionPayload) []services.Question {
	if in == nil {
		return nil
	}
	out := make([]services.Question, 0, len(in))
	for _, q := range in {
		out = append(out, services.Question{
			ID:       q.ID,
			Label:    q.Label,
			Type:     services.QuestionType(q.Type),
			Required: q.Required,
			Options:  q.Options,
			Min:      q.Min,
			Max:      q.Max,
		})
	}
	return out
}

func (a *API) handleCreateSurvey(w http.ResponseWriter, r *http.Request) {
	var req models.SurveyRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sv, err := a.surveys.Create(r.Context(), orgID(r), services.SurveyInput{
		Name:        req.Name,
		Description: req.Description,
		Questions:   toQuestions(req.Questions),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, sv)
}

func (a *API) handleListSurveys(w http.ResponseWriter, r *http.Request) {
	list, err := a.surveys.List(r.Context(), orgID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*services.Survey{}
	}
	respond(w, r, http.StatusOK, map[string]any{"surveys": list})
}

func (a *API) handleGetSurvey(w http.ResponseWriter, r *http.Request) {
	sv, err := a.surveys.Get(r.Context(), orgID(r), chi.URLParam(r, "surveyID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, sv)
}

func (a *API) handleUpdateSurvey(w http.ResponseWriter, r *http.Request) {
	var req models.SurveyPatchRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sv, err := a.surveys.Update(r.Context(), orgID(r), chi.URLParam(r, "surveyID"), services.SurveyPatch{
		Name:        req.Name,
		Description: req.Description,
		Questions:   toQuestions(req.Questions),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, sv)
}

func (a *API) handleArchiveSurvey(w http.ResponseWriter, r *http.Request) {
	sv, err := a.surveys.Archive(r.Context(), orgID(r), chi.URLParam(r, "surveyID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, sv)
}
