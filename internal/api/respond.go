package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/candor/internal/models"
	"github.com/soaringjerry/candor/internal/services"
)

const maxBodyBytes = 1 << 20

var errBadBody = errors.New("malformed request body")

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return errBadBody
	}
	return nil
}

func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// statusFor maps a service error to its HTTP status.
func statusFor(se *services.ServiceError) int {
	switch se.Code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorPoolState:
		return http.StatusForbidden
	case services.ErrorConflict:
		switch se.Reason {
		case services.ReasonSelfReview:
			return http.StatusBadRequest
		case services.ReasonQuotaExceeded:
			return http.StatusForbidden
		}
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadBody) {
		respond(w, r, http.StatusBadRequest, models.ErrorResponse{Error: string(services.ErrorInvalid), Message: err.Error()})
		return
	}
	if se, ok := services.AsServiceError(err); ok {
		respond(w, r, statusFor(se), models.ErrorResponse{Error: string(se.Code), Reason: string(se.Reason), Message: se.Message})
		return
	}
	a.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).WithError(err).Error("unhandled error")
	respond(w, r, http.StatusInternalServerError, models.ErrorResponse{Error: "internal", Message: "internal server error"})
}
