package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/watchroom/watchroom/internal/models"
	"github.com/watchroom/watchroom/internal/repository"
)

// ParticipantHandler exposes the participant roster and per-user resume
// points.
type ParticipantHandler struct {
	participants *repository.ParticipantRepository
	resume       *repository.ResumeRepository
}

// NewParticipantHandler creates a participant handler.
func NewParticipantHandler(participants *repository.ParticipantRepository, resume *repository.ResumeRepository) *ParticipantHandler {
	return &ParticipantHandler{participants: participants, resume: resume}
}

// ParticipantBody is the API view of a participant.
type ParticipantBody struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// UpsertParticipantInput registers or renames the calling participant.
type UpsertParticipantInput struct {
	Identity
	Body struct {
		DisplayName string `json:"display_name" required:"true" minLength:"1" maxLength:"64"`
	}
}

// UpsertParticipantOutput is the upsert response.
type UpsertParticipantOutput struct {
	Body ParticipantBody
}

// ListParticipantsInput requests the participant roster.
type ListParticipantsInput struct{}

// ListParticipantsOutput is the roster response.
type ListParticipantsOutput struct {
	Body struct {
		Participants []ParticipantBody `json:"participants"`
	}
}

// ResumePointBody is the API view of a resume point.
type ResumePointBody struct {
	MediaPath string    `json:"media_path"`
	Position  float64   `json:"position"`
	WatchedAt time.Time `json:"watched_at"`
}

// SaveResumeInput records where the caller stopped watching.
type SaveResumeInput struct {
	Identity
	Body struct {
		Path     string  `json:"path" required:"true"`
		Position float64 `json:"position" required:"true" minimum:"0"`
	}
}

// SaveResumeOutput is the save response.
type SaveResumeOutput struct{}

// GetResumeInput looks up the caller's resume point for one media file.
type GetResumeInput struct {
	Identity
	Path string `query:"path" required:"true" doc:"Logical media path"`
}

// GetResumeOutput is the lookup response.
type GetResumeOutput struct {
	Body ResumePointBody
}

// RecentInput lists the caller's recently watched media.
type RecentInput struct {
	Identity
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"100"`
}

// RecentOutput is the recently watched response.
type RecentOutput struct {
	Body struct {
		Items []ResumePointBody `json:"items"`
	}
}

// Register registers the participant and resume routes with the API.
func (h *ParticipantHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "upsertParticipant",
		Method:      "PUT",
		Path:        "/api/v1/participants/me",
		Summary:     "Register participant",
		Description: "Creates or renames the calling participant",
		Tags:        []string{"Participants"},
	}, h.Upsert)

	huma.Register(api, huma.Operation{
		OperationID: "listParticipants",
		Method:      "GET",
		Path:        "/api/v1/participants",
		Summary:     "List participants",
		Tags:        []string{"Participants"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "saveResumePoint",
		Method:      "PUT",
		Path:        "/api/v1/resume",
		Summary:     "Save resume point",
		Tags:        []string{"Resume"},
	}, h.SaveResume)

	huma.Register(api, huma.Operation{
		OperationID: "getResumePoint",
		Method:      "GET",
		Path:        "/api/v1/resume",
		Summary:     "Get resume point",
		Tags:        []string{"Resume"},
	}, h.GetResume)

	huma.Register(api, huma.Operation{
		OperationID: "listRecentlyWatched",
		Method:      "GET",
		Path:        "/api/v1/resume/recent",
		Summary:     "Recently watched",
		Tags:        []string{"Resume"},
	}, h.Recent)
}

// Upsert creates or renames the calling participant.
func (h *ParticipantHandler) Upsert(ctx context.Context, input *UpsertParticipantInput) (*UpsertParticipantOutput, error) {
	participant := &models.Participant{
		UserID:      input.UserID,
		DisplayName: input.Body.DisplayName,
	}
	if err := h.participants.Upsert(ctx, participant); err != nil {
		return nil, huma.Error500InternalServerError("saving participant", err)
	}
	return &UpsertParticipantOutput{Body: ParticipantBody{
		UserID:      input.UserID,
		DisplayName: input.Body.DisplayName,
	}}, nil
}

// List returns the participant roster.
func (h *ParticipantHandler) List(ctx context.Context, _ *ListParticipantsInput) (*ListParticipantsOutput, error) {
	participants, err := h.participants.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing participants", err)
	}

	out := &ListParticipantsOutput{}
	out.Body.Participants = make([]ParticipantBody, 0, len(participants))
	for _, p := range participants {
		out.Body.Participants = append(out.Body.Participants, ParticipantBody{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
		})
	}
	return out, nil
}

// SaveResume records where the caller stopped watching a media file.
func (h *ParticipantHandler) SaveResume(ctx context.Context, input *SaveResumeInput) (*SaveResumeOutput, error) {
	if err := h.resume.Save(ctx, input.UserID, input.Body.Path, input.Body.Position); err != nil {
		return nil, huma.Error500InternalServerError("saving resume point", err)
	}
	return &SaveResumeOutput{}, nil
}

// GetResume returns the caller's resume point for one media file.
func (h *ParticipantHandler) GetResume(ctx context.Context, input *GetResumeInput) (*GetResumeOutput, error) {
	point, err := h.resume.Get(ctx, input.UserID, input.Path)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, huma.Error404NotFound("no resume point for this media")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("getting resume point", err)
	}
	return &GetResumeOutput{Body: ResumePointBody{
		MediaPath: point.MediaPath,
		Position:  point.Position,
		WatchedAt: point.WatchedAt,
	}}, nil
}

// Recent returns the caller's most recently watched media.
func (h *ParticipantHandler) Recent(ctx context.Context, input *RecentInput) (*RecentOutput, error) {
	points, err := h.resume.RecentForUser(ctx, input.UserID, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing resume points", err)
	}

	out := &RecentOutput{}
	out.Body.Items = make([]ResumePointBody, 0, len(points))
	for _, p := range points {
		out.Body.Items = append(out.Body.Items, ResumePointBody{
			MediaPath: p.MediaPath,
			Position:  p.Position,
			WatchedAt: p.WatchedAt,
		})
	}
	return out, nil
}
