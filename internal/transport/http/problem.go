package transporthttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

// Problem is an RFC 7807 error body. Field-level validation failures are
// listed under Errors keyed by wire field name.
type Problem struct {
	Type   string              `json:"type"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, errs map[string][]string) {
	writeProblem(w, Problem{Type: "about:blank", Title: title, Status: status, Detail: detail, Errors: errs})
}

func writeProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// problemFor maps the domain error taxonomy onto a response. It reports
// false for anything outside it.
func problemFor(err error) (Problem, bool) {
	var invalid *domain.InvalidDataError
	switch {
	case errors.As(err, &invalid):
		return Problem{
			Type:   "about:blank",
			Title:  "invalid data",
			Status: http.StatusBadRequest,
			Detail: invalid.Msg,
			Errors: fieldProblems(invalid.Fields),
		}, true
	case errors.Is(err, domain.ErrConfiguration):
		return Problem{Type: "about:blank", Title: "configuration error", Status: http.StatusBadRequest, Detail: err.Error()}, true
	case errors.Is(err, domain.ErrNotFound):
		return Problem{Type: "about:blank", Title: "not found", Status: http.StatusNotFound, Detail: err.Error()}, true
	}
	return Problem{}, false
}

func fieldProblems(errs []domain.FieldError) map[string][]string {
	if len(errs) == 0 {
		return nil
	}
	prob := map[string][]string{}
	for _, fe := range errs {
		prob[fe.Field] = append(prob[fe.Field], fe.Msg)
	}
	return prob
}
