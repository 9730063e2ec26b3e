package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
)

const maxWhatsappLinkLength = 512

// listDisciplines handles GET /v1/disciplines. When completed or current is
// present, each discipline is annotated with the student's status.
func (s *Server) listDisciplines(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.GetAllDisciplines(r.Context())
	if err != nil {
		s.logger.Error("list disciplines failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list disciplines")
		return
	}
	q := r.URL.Query()
	if !q.Has("completed") && !q.Has("current") {
		writeJSON(w, http.StatusOK, map[string]any{"disciplines": nonNil(all)})
		return
	}
	student := catalog.Student{
		ID:                   q.Get("student"),
		CompletedDisciplines: splitIDs(q, "completed"),
		CurrentDisciplines:   splitIDs(q, "current"),
	}
	writeJSON(w, http.StatusOK, map[string]any{"disciplines": catalog.Overlay(all, student)})
}

// getDiscipline handles GET /v1/disciplines/{id}.
func (s *Server) getDiscipline(w http.ResponseWriter, r *http.Request) {
	d, ok := s.loadDiscipline(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// getClass handles GET /v1/disciplines/{id}/classes/{number}.
func (s *Server) getClass(w http.ResponseWriter, r *http.Request) {
	number, err := classNumber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, ok := s.loadDiscipline(w, r)
	if !ok {
		return
	}
	c, found := d.Class(number)
	if !found {
		writeError(w, http.StatusNotFound, "class not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type whatsappRequest struct {
	WhatsappGroup *string `json:"whatsapp_group"`
}

// putWhatsappGroup handles PUT /v1/disciplines/{id}/classes/{number}/whatsapp.
// A null or empty link clears the group.
func (s *Server) putWhatsappGroup(w http.ResponseWriter, r *http.Request) {
	number, err := classNumber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req whatsappRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	link, err := normalizeLink(req.WhatsappGroup)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	update := catalog.WhatsappUpdate{
		DisciplineID:  chi.URLParam(r, "id"),
		ClassNumber:   number,
		WhatsappGroup: link,
	}
	if err := s.store.UpdateWhatsappGroup(r.Context(), update); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "class not found")
			return
		}
		s.logger.Error("update whatsapp group failed",
			zap.String("discipline_id", update.DisciplineID),
			zap.Int("class_number", number),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to update class")
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (s *Server) loadDiscipline(w http.ResponseWriter, r *http.Request) (catalog.Discipline, bool) {
	id := chi.URLParam(r, "id")
	d, err := s.store.GetDisciplineByID(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "discipline not found")
		return catalog.Discipline{}, false
	}
	if err != nil {
		s.logger.Error("load discipline failed", zap.String("discipline_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load discipline")
		return catalog.Discipline{}, false
	}
	return d, true
}

func classNumber(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "number")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("class number must be a non-negative integer")
	}
	return n, nil
}

func normalizeLink(link *string) (*string, error) {
	if link == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*link)
	if trimmed == "" {
		return nil, nil
	}
	if len(trimmed) > maxWhatsappLinkLength {
		return nil, errors.New("whatsapp_group is too long")
	}
	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, errors.New("whatsapp_group must be an http(s) URL")
	}
	return &trimmed, nil
}

func splitIDs(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func nonNil(in []catalog.Discipline) []catalog.Discipline {
	if in == nil {
		return []catalog.Discipline{}
	}
	return in
}
