package lookup

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Handler serves GET /percentiles/{id}.
//
//	200 with the row as JSON
//	400 for a non-numeric id
//	404 {"error":"not found"} for an unknown id
//	500 when the store fails
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /percentiles/{id}", s.handleLookup)
	return mux
}

func (s *Service) handleLookup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "id must be an integer"})
		return
	}

	res, err := s.Lookup(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "lookup failed"})
		return
	}
	if !res.Found {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, res.Row)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
