package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/hakbot/internal/accesskey"
	"github.com/wolfeidau/hakbot/internal/auth"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
)

const maxBodyBytes = 64 * 1024

type accessKeyResponse struct {
	Key       string    `json:"key"`
	Team      string    `json:"team"`
	CreatedAt time.Time `json:"created_at"`
}

type teamResponse struct {
	UUID       string              `json:"uuid"`
	Name       string              `json:"name"`
	Privileged bool                `json:"privileged"`
	AccessKeys []accessKeyResponse `json:"access_keys"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type whoamiResponse struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Privileged bool     `json:"privileged"`
	Teams      []string `json:"teams,omitempty"`
}

type teamRequest struct {
	UUID       string `json:"uuid,omitempty"`
	Name       string `json:"name"`
	Privileged bool   `json:"privileged"`
}

type revokeAllResponse struct {
	Revoked int `json:"revoked"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func presentKey(k *models.AccessKey) accessKeyResponse {
	return accessKeyResponse{Key: k.Value, Team: k.TeamUUID.String(), CreatedAt: k.CreatedAt}
}

func presentTeam(t *models.Team) teamResponse {
	keys := make([]accessKeyResponse, 0, len(t.AccessKeys))
	for _, k := range t.AccessKeys {
		keys = append(keys, presentKey(k))
	}
	return teamResponse{
		UUID:       t.UUID.String(),
		Name:       t.TeamName,
		Privileged: t.Privileged,
		AccessKeys: keys,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func presentPrincipal(p models.Principal) whoamiResponse {
	resp := whoamiResponse{
		Name:       p.Name(),
		Kind:       auth.PrincipalKind(p),
		Privileged: auth.IsPrivileged(p),
	}
	if identity, ok := p.(*models.DirectoryIdentity); ok {
		for _, t := range identity.Teams {
			resp.Teams = append(resp.Teams, t.TeamName)
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeDomainError maps lifecycle and store errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrTeamAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, accesskey.ErrInvalidTeam):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrDenied):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
