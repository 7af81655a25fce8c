package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/esplayer/internal/models"
	"github.com/jmylchreest/esplayer/internal/resource"
)

// SessionSource lists resource sessions. *resource.Manager implements it.
type SessionSource interface {
	Sessions(ctx context.Context) ([]models.Session, error)
	Snapshot(connectionID string) (resource.Snapshot, bool)
	Store() *resource.Store
}

// SessionHandler handles resource session endpoints.
type SessionHandler struct {
	sessions SessionSource
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions SessionSource) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// ListSessionsInput is the input for listing sessions.
type ListSessionsInput struct {
	State string `query:"state" enum:"idle,active,released,revoked" required:"false" doc:"Only sessions in this state"`
}

// ListSessionsOutput is the output for listing sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []SessionResponse `json:"sessions"`
		Count    int               `json:"count"`
	}
}

// GetSessionInput is the input for fetching one session.
type GetSessionInput struct {
	ConnectionID string `path:"connectionId" minLength:"16" maxLength:"16"`
}

// GetSessionOutput is the output for fetching one session.
type GetSessionOutput struct {
	Body SessionResponse
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List resource sessions",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/sessions/{connectionId}",
		Summary:     "Get a resource session",
		Tags:        []string{"Sessions"},
	}, h.Get)
}

// List returns the stored sessions, newest first.
func (h *SessionHandler) List(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	rows, err := h.sessions.Sessions(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing sessions", err)
	}

	out := &ListSessionsOutput{}
	out.Body.Sessions = make([]SessionResponse, 0, len(rows))
	for i := range rows {
		if input.State != "" && string(rows[i].State) != input.State {
			continue
		}
		out.Body.Sessions = append(out.Body.Sessions, h.response(&rows[i]))
	}
	out.Body.Count = len(out.Body.Sessions)
	return out, nil
}

// Get returns one session.
func (h *SessionHandler) Get(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	row, err := h.sessions.Store().Get(ctx, input.ConnectionID)
	if errors.Is(err, resource.ErrSessionNotFound) {
		return nil, huma.Error404NotFound("session not found")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("getting session", err)
	}
	return &GetSessionOutput{Body: h.response(row)}, nil
}

func (h *SessionHandler) response(row *models.Session) SessionResponse {
	resp := SessionFromModel(row)
	if snap, ok := h.sessions.Snapshot(row.ConnectionID); ok {
		resp.Live = &snap
	}
	return resp
}
