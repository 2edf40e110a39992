package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/segmentarr/internal/scheduler"
	"github.com/jmylchreest/segmentarr/internal/service"
)

// QueueReporter lists the queues.
type QueueReporter interface {
	Queues(ctx context.Context) ([]service.QueueStatus, error)
}

// RunnerReporter exposes the state of the job workers.
type RunnerReporter interface {
	GetStatus() scheduler.RunnerStatus
}

// ScheduleReporter exposes the periodic checks.
type ScheduleReporter interface {
	Entries() []scheduler.Entry
}

// QueueHandler handles queue inspection endpoints.
type QueueHandler struct {
	queues   QueueReporter
	runner   RunnerReporter
	schedule ScheduleReporter
	urls     StreamURLs
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(queues QueueReporter, urls StreamURLs) *QueueHandler {
	return &QueueHandler{queues: queues, urls: urls}
}

// WithRunner adds worker state to the response.
func (h *QueueHandler) WithRunner(r RunnerReporter) *QueueHandler {
	h.runner = r
	return h
}

// WithSchedule adds the periodic checks to the response.
func (h *QueueHandler) WithSchedule(s ScheduleReporter) *QueueHandler {
	h.schedule = s
	return h
}

// Register registers the queue routes with the API.
func (h *QueueHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listQueues",
		Method:      "GET",
		Path:        "/api/v1/queues",
		Summary:     "List queues",
		Description: "Returns the conversion and download queues with their running jobs",
		Tags:        []string{"Queues"},
	}, h.List)
}

// ListQueuesInput is the input for listing queues.
type ListQueuesInput struct{}

// ListQueuesOutput is the output for listing queues.
type ListQueuesOutput struct {
	Body struct {
		Queues        []QueueResponse `json:"queues"`
		Running       bool            `json:"running"`
		PendingTimers int             `json:"pending_timers"`
		Schedule      []ScheduleEntry `json:"schedule"`
	}
}

// List returns the queues.
func (h *QueueHandler) List(ctx context.Context, input *ListQueuesInput) (*ListQueuesOutput, error) {
	statuses, err := h.queues.Queues(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list queues", err)
	}

	var runner scheduler.RunnerStatus
	if h.runner != nil {
		runner = h.runner.GetStatus()
	}

	resp := &ListQueuesOutput{}
	resp.Body.Queues = make([]QueueResponse, 0, len(statuses))
	for _, s := range statuses {
		q := QueueFromStatus(s, h.urls)
		q.Current = runner.Current[q.Kind]
		q.Backlog = runner.Backlog[q.Kind]
		resp.Body.Queues = append(resp.Body.Queues, q)
	}
	resp.Body.Running = runner.Running
	resp.Body.PendingTimers = runner.PendingTimers

	resp.Body.Schedule = []ScheduleEntry{}
	if h.schedule != nil {
		for _, e := range h.schedule.Entries() {
			entry := ScheduleEntry{Kind: string(e.Kind), Spec: e.Spec, Next: e.Next}
			if !e.Prev.IsZero() {
				prev := e.Prev
				entry.Prev = &prev
			}
			resp.Body.Schedule = append(resp.Body.Schedule, entry)
		}
	}
	return resp, nil
}
