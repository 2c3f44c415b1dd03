package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soaringjerry/candor/internal/middleware"
	"github.com/soaringjerry/candor/internal/models"
	"github.com/soaringjerry/candor/internal/services"
)

func orgID(r *http.Request) string {
	org, _ := middleware.OrgIDFromContext(r.Context())
	return org
}

func (a *API) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePoolRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	in := services.CreatePoolInput{
		Name:        req.Name,
		Description: req.Description,
		SurveyID:    req.SurveyID,
		ExpiresAt:   req.ExpiresAt,
	}
	for _, m := range req.Members {
		in.Members = append(in.Members, services.MemberInput{Name: m.Name, Role: m.Role, EmployeeID: m.EmployeeID})
	}
	res, err := a.pools.CreatePool(r.Context(), orgID(r), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.metrics.PoolCreated()
	respond(w, r, http.StatusCreated, res)
}

func (a *API) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := a.pools.ListPools(r.Context(), orgID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if pools == nil {
		pools = []services.PoolSummary{}
	}
	respond(w, r, http.StatusOK, map[string]any{"pools": pools})
}

func (a *API) handleGetPool(w http.ResponseWriter, r *http.Request) {
	details, err := a.pools.GetPoolDetails(r.Context(), orgID(r), chi.URLParam(r, "poolID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, details)
}

func (a *API) handleDeletePool(w http.ResponseWriter, r *http.Request) {
	if err := a.pools.DeletePool(r.Context(), orgID(r), chi.URLParam(r, "poolID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleExpirePool(w http.ResponseWriter, r *http.Request) {
	pool, err := a.pools.ExpirePool(r.Context(), orgID(r), chi.URLParam(r, "poolID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, pool)
}

func (a *API) handleRotateCredential(w http.ResponseWriter, r *http.Request) {
	issued, err := a.pools.RotateCredential(r.Context(), orgID(r), chi.URLParam(r, "poolID"), chi.URLParam(r, "memberID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, issued)
}

func (a *API) handlePoolResponses(w http.ResponseWriter, r *http.Request) {
	out, err := a.analytics.PoolResponses(r.Context(), orgID(r), chi.URLParam(r, "poolID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, out)
}

func (a *API) handleMemberAnalytics(w http.ResponseWriter, r *http.Request) {
	out, err := a.analytics.Aggregate(r.Context(), orgID(r), chi.URLParam(r, "memberID"), chi.URLParam(r, "poolID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, out)
}
