package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/watchroom/watchroom/internal/playback"
	"github.com/watchroom/watchroom/internal/transcode"
	"github.com/watchroom/watchroom/internal/vfs"
	"github.com/watchroom/watchroom/internal/wsync"
)

// PlaybackHandler exposes the playback session API: changing media, seeking,
// and inspecting the transcode backing a viewer's session.
type PlaybackHandler struct {
	registry *playback.Registry
	rooms    *wsync.Rooms
	logger   *slog.Logger
}

// NewPlaybackHandler creates a playback handler.
func NewPlaybackHandler(registry *playback.Registry, rooms *wsync.Rooms, logger *slog.Logger) *PlaybackHandler {
	return &PlaybackHandler{registry: registry, rooms: rooms, logger: logger}
}

// Identity identifies the viewer and their device. The same pair always maps
// to the same playback session.
type Identity struct {
	UserID      string `header:"X-User-ID" required:"true" doc:"Viewer identity"`
	DeviceToken string `header:"X-Device-Token" doc:"Device identity; defaults to a single shared device"`
}

func (id Identity) device() string {
	if id.DeviceToken == "" {
		return "default"
	}
	return id.DeviceToken
}

// AudioRenditionInfo describes one audio track in the HLS output.
type AudioRenditionInfo struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Default  bool   `json:"default"`
}

// TranscodeInfo describes the transcode now serving a playback session.
type TranscodeInfo struct {
	PlaybackID     string               `json:"playback_id"`
	TranscodeID    string               `json:"transcode_id"`
	MediaPath      string               `json:"media_path"`
	Duration       float64              `json:"duration"`
	Position       float64              `json:"position"`
	PlaylistURL    string               `json:"playlist_url"`
	Audio          []AudioRenditionInfo `json:"audio"`
	SubtitleBurnIn bool                 `json:"subtitle_burn_in"`
}

// ChangeMediaInput selects new media for a playback session.
type ChangeMediaInput struct {
	Identity
	Body struct {
		Path     string  `json:"path" required:"true" doc:"Logical media path relative to the library root"`
		Position float64 `json:"position,omitempty" minimum:"0" doc:"Start offset in seconds"`
	}
}

// ChangeMediaOutput is the result of a media change.
type ChangeMediaOutput struct {
	Body TranscodeInfo
}

// SeekInput requests a new playback position.
type SeekInput struct {
	Identity
	Body struct {
		Time float64 `json:"time" required:"true" minimum:"0" doc:"Target position in seconds"`
	}
}

// SeekResultBody is the outcome of a seek.
type SeekResultBody struct {
	// Restarted is true when the target was outside the transcoded window and
	// a replacement transcode was started; the client must reload the
	// playlist at PlaylistURL.
	Restarted bool          `json:"restarted"`
	Position  float64       `json:"position"`
	Transcode TranscodeInfo `json:"transcode"`
}

// SeekOutput is the seek response.
type SeekOutput struct {
	Body SeekResultBody
}

// TranscoderStats reports ffmpeg progress and resource usage.
type TranscoderStats struct {
	FPS           float64 `json:"fps"`
	Speed         float64 `json:"speed"`
	Frame         int64   `json:"frame"`
	HWDecoder     string  `json:"hw_decoder,omitempty"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSSMB   float64 `json:"memory_rss_mb"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// PlaybackStatus is the full state of a playback session.
type PlaybackStatus struct {
	TranscodeInfo
	// Window is the seekable range of media time materialized on disk.
	Window     transcode.Range `json:"window"`
	Transcoder TranscoderStats `json:"transcoder"`
}

// StatusInput requests playback status.
type StatusInput struct {
	Identity
}

// StatusOutput is the playback status response.
type StatusOutput struct {
	Body PlaybackStatus
}

// StopInput stops a playback session.
type StopInput struct {
	Identity
}

// StopOutput is the stop response.
type StopOutput struct{}

// Register registers the playback routes with the API.
func (h *PlaybackHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "changeMedia",
		Method:      "POST",
		Path:        "/api/v1/playback/media",
		Summary:     "Change media",
		Description: "Starts transcoding new media for the viewer's playback session and notifies the watch party",
		Tags:        []string{"Playback"},
	}, h.ChangeMedia)

	huma.Register(api, huma.Operation{
		OperationID: "seek",
		Method:      "POST",
		Path:        "/api/v1/playback/seek",
		Summary:     "Seek",
		Description: "Seeks within the transcoded window, or restarts the transcode at the target position",
		Tags:        []string{"Playback"},
	}, h.Seek)

	huma.Register(api, huma.Operation{
		OperationID: "getPlaybackStatus",
		Method:      "GET",
		Path:        "/api/v1/playback",
		Summary:     "Playback status",
		Tags:        []string{"Playback"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "stopPlayback",
		Method:      "DELETE",
		Path:        "/api/v1/playback",
		Summary:     "Stop playback",
		Description: "Stops the transcode backing the viewer's playback session",
		Tags:        []string{"Playback"},
	}, h.Stop)
}

// ChangeMedia switches the viewer's session to new media and broadcasts the
// change to the watch party.
func (h *PlaybackHandler) ChangeMedia(ctx context.Context, input *ChangeMediaInput) (*ChangeMediaOutput, error) {
	session := h.registry.Get(input.UserID, input.device())

	ts, err := session.ChangeMedia(ctx, input.Body.Path, input.Body.Position)
	if err != nil {
		return nil, mapPlaybackError(err)
	}

	if h.rooms != nil {
		h.rooms.Get(session.ID).SetMedia(&wsync.MediaInfo{
			Path:     input.Body.Path,
			Duration: ts.MediaDuration,
		})
	}

	return &ChangeMediaOutput{Body: transcodeInfo(session, ts, input.Body.Path)}, nil
}

// Seek resolves a seek against the current transcode window.
func (h *PlaybackHandler) Seek(ctx context.Context, input *SeekInput) (*SeekOutput, error) {
	session := h.registry.Get(input.UserID, input.device())

	res, ts, err := session.Seek(ctx, input.Body.Time)
	if err != nil {
		return nil, mapPlaybackError(err)
	}

	logical, _, _ := session.CurrentMedia()
	position := res.Position
	if res.Restart {
		position = ts.StartOffset
	}

	return &SeekOutput{Body: SeekResultBody{
		Restarted: res.Restart,
		Position:  position,
		Transcode: transcodeInfo(session, ts, logical),
	}}, nil
}

// Status reports the state of the viewer's playback session.
func (h *PlaybackHandler) Status(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	session := h.registry.Get(input.UserID, input.device())

	ts := session.Current()
	if ts == nil {
		return nil, huma.Error404NotFound("no active transcode")
	}

	logical, _, _ := session.CurrentMedia()
	metrics := ts.Metrics()
	stats := ts.Stats()

	return &StatusOutput{Body: PlaybackStatus{
		TranscodeInfo: transcodeInfo(session, ts, logical),
		Window:        ts.Window(),
		Transcoder: TranscoderStats{
			FPS:           metrics.FPS,
			Speed:         metrics.Speed,
			Frame:         metrics.Frame,
			HWDecoder:     metrics.HWDecoder,
			CPUPercent:    stats.CPUPercent,
			MemoryRSSMB:   float64(stats.MemoryRSSBytes) / 1024 / 1024,
			UptimeSeconds: stats.Uptime.Seconds(),
		},
	}}, nil
}

// Stop tears down the transcode backing the viewer's session and tells the
// watch party, if one formed, that there is no media anymore.
func (h *PlaybackHandler) Stop(ctx context.Context, input *StopInput) (*StopOutput, error) {
	session := h.registry.Get(input.UserID, input.device())
	session.Close()

	if h.rooms != nil {
		if hub := h.rooms.Lookup(session.ID); hub != nil {
			hub.SetMedia(nil)
		}
	}
	return &StopOutput{}, nil
}

// transcodeInfo builds the API view of a transcode session.
func transcodeInfo(session *playback.Session, ts *transcode.Session, logicalPath string) TranscodeInfo {
	audio := make([]AudioRenditionInfo, 0, len(ts.Audio))
	for _, a := range ts.Audio {
		audio = append(audio, AudioRenditionInfo{
			Name:     a.Name,
			Language: a.Language,
			Default:  a.Default,
		})
	}

	return TranscodeInfo{
		PlaybackID:     session.ID,
		TranscodeID:    ts.ID,
		MediaPath:      logicalPath,
		Duration:       ts.MediaDuration,
		Position:       ts.CurrentTime(),
		PlaylistURL:    fmt.Sprintf("/stream/%s/master.m3u8", ts.ID),
		Audio:          audio,
		SubtitleBurnIn: ts.BurnIn,
	}
}

// mapPlaybackError translates playback errors into API status codes.
func mapPlaybackError(err error) error {
	switch {
	case errors.Is(err, playback.ErrTranscodeBusy):
		return huma.Error409Conflict("a media change is already in progress", err)
	case errors.Is(err, playback.ErrNoActiveTranscode):
		return huma.Error404NotFound("no active transcode")
	case errors.Is(err, vfs.ErrNotFound):
		return huma.Error404NotFound("media not found")
	case errors.Is(err, transcode.ErrNoVideoStream):
		return huma.Error422UnprocessableEntity("media has no video stream", err)
	default:
		return huma.Error500InternalServerError("playback operation failed", err)
	}
}
