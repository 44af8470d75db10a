package entity

import "time"

// Execution is the workflow phase reported in a feedback.
type Execution string

// Execution values understood by the server.
const (
	ExecutionProceeding Execution = "proceeding"
	ExecutionScheduled  Execution = "scheduled"
	ExecutionResumed    Execution = "resumed"
	ExecutionDownloaded Execution = "downloaded"
	ExecutionCanceled   Execution = "canceled"
	ExecutionRejected   Execution = "rejected"
	ExecutionClosed     Execution = "closed"
)

// Finished is the terminal outcome reported in a feedback.
type Finished string

// Finished values.
const (
	FinishedSuccess Finished = "success"
	FinishedFailure Finished = "failure"
	FinishedNone    Finished = "none"
)

// Result wraps the terminal outcome.
type Result struct {
	Finished Finished `json:"finished"`
}

// Status is the body of an action feedback.
type Status struct {
	Execution Execution `json:"execution"`
	Result    Result    `json:"result"`
	Details   []string  `json:"details,omitempty"`
}

// ActionFeedback is a fire-and-forget status report for a deployment or cancel action.
type ActionFeedback struct {
	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// NewFeedback builds an ActionFeedback stamped with the current time.
func NewFeedback(execution Execution, finished Finished, details ...string) ActionFeedback {
	return ActionFeedback{
		Status: Status{
			Execution: execution,
			Result:    Result{Finished: finished},
			Details:   details,
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

// ConfirmationState is the device's answer to a confirmation request.
type ConfirmationState string

// Confirmation answers.
const (
	Confirmed ConfirmationState = "confirmed"
	Denied    ConfirmationState = "denied"
)

// ConfirmationFeedback answers a confirmation request.
type ConfirmationFeedback struct {
	Confirmation ConfirmationState `json:"confirmation"`
	Code         int               `json:"code,omitempty"`
	Details      []string          `json:"details,omitempty"`
}

// EventKind classifies an observable simulator event.
type EventKind string

// Event kinds.
const (
	EventPoll     EventKind = "poll"
	EventFeedback EventKind = "feedback"
)

// Event is emitted for every poll and every feedback a device sends.
type Event struct {
	Kind         EventKind  `json:"kind"`
	ControllerID string     `json:"controller_id"`
	ActionID     string     `json:"action_id,omitempty"`
	Action       ActionKind `json:"action,omitempty"`
	Execution    string     `json:"execution,omitempty"`
	Finished     Finished   `json:"finished,omitempty"`
	Details      []string   `json:"details,omitempty"`
	Interval     int        `json:"interval_seconds,omitempty"`
	Error        string     `json:"error,omitempty"`
	Time         time.Time  `json:"time"`
}
