package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/progress"
	"github.com/jmylchreest/segmentarr/internal/queue"
	"github.com/jmylchreest/segmentarr/internal/repository"
	"github.com/jmylchreest/segmentarr/internal/service"
)

// VideoService is the business logic behind the video endpoints.
type VideoService interface {
	Create(ctx context.Context, video *models.VideoStream) error
	Update(ctx context.Context, video *models.VideoStream) error
	Delete(ctx context.Context, id models.ULID) error
	GetByID(ctx context.Context, id models.ULID) (*models.VideoStream, error)
	List(ctx context.Context, f repository.VideoFilter) ([]*models.VideoStream, error)
	Convert(ctx context.Context, id models.ULID) (queue.Kind, error)
	Progress(ctx context.Context, id models.ULID) (*progress.Report, error)
}

// VideoHandler handles video stream API endpoints.
type VideoHandler struct {
	svc    VideoService
	urls   StreamURLs
	logger *slog.Logger
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(svc VideoService, urls StreamURLs) *VideoHandler {
	return &VideoHandler{
		svc:    svc,
		urls:   urls,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *VideoHandler) WithLogger(logger *slog.Logger) *VideoHandler {
	h.logger = logger
	return h
}

// Register registers the video routes with the API.
func (h *VideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listVideos",
		Method:      "GET",
		Path:        "/api/v1/videos",
		Summary:     "List videos",
		Description: "Returns video streams in queue order",
		Tags:        []string{"Videos"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getVideo",
		Method:      "GET",
		Path:        "/api/v1/videos/{id}",
		Summary:     "Get video by ID",
		Tags:        []string{"Videos"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID:   "createVideo",
		Method:        "POST",
		Path:          "/api/v1/videos",
		Summary:       "Create video",
		Description:   "Creates a video stream from a source file or a download link",
		Tags:          []string{"Videos"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateVideo",
		Method:      "PUT",
		Path:        "/api/v1/videos/{id}",
		Summary:     "Update video",
		Description: "Replacing the source removes previous outputs and restarts conversion",
		Tags:        []string{"Videos"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteVideo",
		Method:      "DELETE",
		Path:        "/api/v1/videos/{id}",
		Summary:     "Delete video",
		Description: "Deletes a video stream and, depending on file_cleanup, its files",
		Tags:        []string{"Videos"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "getVideoProgress",
		Method:      "GET",
		Path:        "/api/v1/videos/{id}/progress",
		Summary:     "Get conversion progress",
		Tags:        []string{"Videos"},
	}, h.GetProgress)

	huma.Register(api, huma.Operation{
		OperationID:   "convertVideo",
		Method:        "POST",
		Path:          "/api/v1/videos/{id}/convert",
		Summary:       "Convert video",
		Description:   "Schedules the video; link-only videos are downloaded first",
		Tags:          []string{"Videos"},
		DefaultStatus: http.StatusAccepted,
	}, h.Convert)
}

// ListVideosInput is the input for listing videos.
type ListVideosInput struct {
	Filter string `query:"filter" enum:"all,awaiting_download,downloading,processing,missing_hls,missing_dash" default:"all"`
}

// ListVideosOutput is the output for listing videos.
type ListVideosOutput struct {
	Body struct {
		Items []VideoResponse `json:"items"`
		Total int             `json:"total"`
	}
}

// List returns videos matching the filter.
func (h *VideoHandler) List(ctx context.Context, input *ListVideosInput) (*ListVideosOutput, error) {
	var f repository.VideoFilter
	switch input.Filter {
	case "awaiting_download":
		f.AwaitingDownload = true
	case "downloading":
		f.Downloading = true
	case "processing":
		f.Processing = true
	case "missing_hls":
		f.MissingHLS = true
	case "missing_dash":
		f.MissingDASH = true
	}

	videos, err := h.svc.List(ctx, f)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list videos", err)
	}

	resp := &ListVideosOutput{}
	resp.Body.Items = make([]VideoResponse, 0, len(videos))
	for _, v := range videos {
		resp.Body.Items = append(resp.Body.Items, VideoFromModel(v, h.urls))
	}
	resp.Body.Total = len(videos)
	return resp, nil
}

// VideoIDInput identifies a video.
type VideoIDInput struct {
	ID string `path:"id" doc:"Video ID (ULID)"`
}

// VideoOutput is a single video.
type VideoOutput struct {
	Body VideoResponse
}

// GetByID returns one video.
func (h *VideoHandler) GetByID(ctx context.Context, input *VideoIDInput) (*VideoOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	v, err := h.svc.GetByID(ctx, id)
	if err != nil {
		return nil, h.mapError(input.ID, "failed to get video", err)
	}
	return &VideoOutput{Body: VideoFromModel(v, h.urls)}, nil
}

// CreateVideoInput is the input for creating a video.
type CreateVideoInput struct {
	Body VideoRequest
}

// Create stores a new video.
func (h *VideoHandler) Create(ctx context.Context, input *CreateVideoInput) (*VideoOutput, error) {
	v := &models.VideoStream{}
	input.Body.apply(v)
	if err := h.svc.Create(ctx, v); err != nil {
		return nil, h.mapError("", "failed to create video", err)
	}
	return &VideoOutput{Body: VideoFromModel(v, h.urls)}, nil
}

// UpdateVideoInput is the input for updating a video.
type UpdateVideoInput struct {
	ID   string `path:"id" doc:"Video ID (ULID)"`
	Body VideoRequest
}

// Update changes a video.
func (h *VideoHandler) Update(ctx context.Context, input *UpdateVideoInput) (*VideoOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	v, err := h.svc.GetByID(ctx, id)
	if err != nil {
		return nil, h.mapError(input.ID, "failed to get video", err)
	}
	input.Body.apply(v)
	if err := h.svc.Update(ctx, v); err != nil {
		return nil, h.mapError(input.ID, "failed to update video", err)
	}
	return &VideoOutput{Body: VideoFromModel(v, h.urls)}, nil
}

// DeleteVideoOutput is empty; the API answers 204.
type DeleteVideoOutput struct{}

// Delete removes a video.
func (h *VideoHandler) Delete(ctx context.Context, input *VideoIDInput) (*DeleteVideoOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	if err := h.svc.Delete(ctx, id); err != nil {
		return nil, h.mapError(input.ID, "failed to delete video", err)
	}
	return &DeleteVideoOutput{}, nil
}

// ProgressOutput is the progress of one video.
type ProgressOutput struct {
	Body ProgressResponse
}

// GetProgress returns the conversion progress of a video.
func (h *VideoHandler) GetProgress(ctx context.Context, input *VideoIDInput) (*ProgressOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	report, err := h.svc.Progress(ctx, id)
	if err != nil {
		return nil, h.mapError(input.ID, "failed to compute progress", err)
	}
	return &ProgressOutput{Body: ProgressResponse{ID: id, Report: *report}}, nil
}

// ConvertOutput names the queue the video was sent to.
type ConvertOutput struct {
	Body struct {
		ID    models.ULID `json:"id"`
		Queue string      `json:"queue"`
	}
}

// Convert schedules a video.
func (h *VideoHandler) Convert(ctx context.Context, input *VideoIDInput) (*ConvertOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	kind, err := h.svc.Convert(ctx, id)
	if err != nil {
		return nil, h.mapError(input.ID, "failed to schedule video", err)
	}
	resp := &ConvertOutput{}
	resp.Body.ID = id
	resp.Body.Queue = string(kind)
	return resp, nil
}

// mapError turns service errors into API errors.
func (h *VideoHandler) mapError(id, msg string, err error) error {
	var verr models.ErrValidation
	switch {
	case errors.Is(err, service.ErrNotFound):
		return huma.Error404NotFound(fmt.Sprintf("video %s not found", id))
	case errors.Is(err, service.ErrDuplicateTitle):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &verr),
		errors.Is(err, models.ErrTitleRequired),
		errors.Is(err, models.ErrSourceRequired):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		h.logger.Error(msg, slog.String("id", id), slog.String("error", err.Error()))
		return huma.Error500InternalServerError(msg, err)
	}
}
