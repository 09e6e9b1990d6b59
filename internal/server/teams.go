package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/hakbot/internal/accesskey"
	"github.com/wolfeidau/hakbot/internal/auth"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
)

// TeamHandlers manages teams and their access keys. Every route requires a
// privileged principal.
type TeamHandlers struct {
	teams     store.TeamStore
	lifecycle *accesskey.Lifecycle
}

// NewTeamHandlers creates the team resource handlers.
func NewTeamHandlers(teams store.TeamStore, lifecycle *accesskey.Lifecycle) *TeamHandlers {
	return &TeamHandlers{teams: teams, lifecycle: lifecycle}
}

// Routes mounts the team resource on r.
func (h *TeamHandlers) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Put("/", h.create)
	r.Post("/", h.update)
	r.Get("/{uuid}", h.get)
	r.Delete("/{uuid}", h.delete)
	r.Put("/{uuid}/key", h.generateKey)
	r.Delete("/{uuid}/key", h.revokeAllKeys)
	r.Post("/key/{apikey}", h.regenerateKey)
	r.Delete("/key/{apikey}", h.revokeKey)
}

func (h *TeamHandlers) list(w http.ResponseWriter, r *http.Request) {
	teams, err := h.teams.ListTeams(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := make([]teamResponse, 0, len(teams))
	for _, t := range teams {
		resp = append(resp, presentTeam(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TeamHandlers) get(w http.ResponseWriter, r *http.Request) {
	teamUUID, ok := parseTeamUUID(w, chi.URLParam(r, "uuid"))
	if !ok {
		return
	}

	team, err := h.teams.GetTeam(r.Context(), teamUUID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentTeam(team))
}

func (h *TeamHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	team, err := h.lifecycle.CreateTeam(r.Context(), req.Name, req.Privileged)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	audit(r, "team created").Str("team", team.UUID.String()).Send()
	writeJSON(w, http.StatusCreated, presentTeam(team))
}

func (h *TeamHandlers) update(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	teamUUID, ok := parseTeamUUID(w, req.UUID)
	if !ok {
		return
	}

	team, err := h.lifecycle.UpdateTeam(r.Context(), teamUUID, req.Name, req.Privileged)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	audit(r, "team updated").Str("team", team.UUID.String()).Bool("privileged", team.Privileged).Send()
	writeJSON(w, http.StatusOK, presentTeam(team))
}

func (h *TeamHandlers) delete(w http.ResponseWriter, r *http.Request) {
	teamUUID, ok := parseTeamUUID(w, chi.URLParam(r, "uuid"))
	if !ok {
		return
	}

	if err := h.lifecycle.DeleteTeam(r.Context(), teamUUID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	audit(r, "team deleted").Str("team", teamUUID.String()).Send()
	w.WriteHeader(http.StatusNoContent)
}

func (h *TeamHandlers) generateKey(w http.ResponseWriter, r *http.Request) {
	teamUUID, ok := parseTeamUUID(w, chi.URLParam(r, "uuid"))
	if !ok {
		return
	}

	key, err := h.lifecycle.Generate(r.Context(), teamUUID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	audit(r, "access key generated").Str("team", teamUUID.String()).Str("key", key.MaskedValue()).Send()
	writeJSON(w, http.StatusCreated, presentKey(key))
}

func (h *TeamHandlers) revokeAllKeys(w http.ResponseWriter, r *http.Request) {
	teamUUID, ok := parseTeamUUID(w, chi.URLParam(r, "uuid"))
	if !ok {
		return
	}

	n, err := h.lifecycle.RevokeAll(r.Context(), teamUUID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	audit(r, "access keys revoked").Str("team", teamUUID.String()).Int("count", n).Send()
	writeJSON(w, http.StatusOK, revokeAllResponse{Revoked: n})
}

func (h *TeamHandlers) regenerateKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.lifecycle.Regenerate(r.Context(), chi.URLParam(r, "apikey"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	audit(r, "access key regenerated").Str("team", key.TeamUUID.String()).Str("key", key.MaskedValue()).Send()
	writeJSON(w, http.StatusOK, presentKey(key))
}

func (h *TeamHandlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "apikey")
	if err := h.lifecycle.Revoke(r.Context(), value); err != nil {
		writeDomainError(w, r, err)
		return
	}

	audit(r, "access key revoked").Str("key", models.MaskKey(value)).Send()
	w.WriteHeader(http.StatusNoContent)
}

func parseTeamUUID(w http.ResponseWriter, value string) (uuid.UUID, bool) {
	teamUUID, err := uuid.Parse(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid team uuid")
		return uuid.Nil, false
	}
	return teamUUID, true
}

// audit logs a privileged mutation with the acting principal.
func audit(r *http.Request, msg string) *zerolog.Event {
	evt := zerolog.Ctx(r.Context()).Info().Str("audit", msg)
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		evt = evt.Str("principal", p.Name()).Str("principal_kind", auth.PrincipalKind(p))
	}
	return evt
}
