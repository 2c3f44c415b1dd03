package api

import (
	"errors"
	"net/http"

	"github.com/soaringjerry/candor/internal/models"
	"github.com/soaringjerry/candor/internal/services"
)

// credentialOutcome labels credential checks for metrics.
func credentialOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, services.ErrInvalidCredential) {
		return "invalid"
	}
	if errors.Is(err, services.ErrPoolExpired) {
		return "expired"
	}
	return "error"
}

func submitOutcome(err error) string {
	if err == nil {
		return "accepted"
	}
	if se, ok := services.AsServiceError(err); ok {
		if se.Reason != services.ReasonNone {
			return string(se.Reason)
		}
		return string(se.Code)
	}
	return "error"
}

func (a *API) readToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req models.TokenRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return "", false
	}
	return req.Token, true
}

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	token, ok := a.readToken(w, r)
	if !ok {
		return
	}
	res, err := a.submissions.Validate(r.Context(), token)
	a.metrics.CredentialCheck(credentialOutcome(err))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, res)
}

func (a *API) handleMembers(w http.ResponseWriter, r *http.Request) {
	token, ok := a.readToken(w, r)
	if !ok {
		return
	}
	peers, err := a.submissions.Members(r.Context(), token)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if peers == nil {
		peers = []services.Peer{}
	}
	respond(w, r, http.StatusOK, peers)
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	answers := make([]services.Answer, 0, len(req.Answers))
	for _, ans := range req.Answers {
		answers = append(answers, services.Answer{QuestionID: ans.QuestionID, Value: ans.Value})
	}
	res, err := a.submissions.Submit(r.Context(), req.Token, req.TargetMemberID, answers)
	a.metrics.Submission(submitOutcome(err))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, res)
}

func (a *API) handleProgress(w http.ResponseWriter, r *http.Request) {
	token, ok := a.readToken(w, r)
	if !ok {
		return
	}
	p, err := a.submissions.Progress(r.Context(), token)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, p)
}
