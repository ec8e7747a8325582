package extraction

import (
	"context"
	"errors"

	"github.com/mx-space/distill/internal/pkg/apperr"
)

// EventType names a pipeline event on the wire.
type EventType string

const (
	EventStatus EventType = "status"
	EventText   EventType = "text"
	EventResult EventType = "result"
	EventError  EventType = "error"
	EventDone   EventType = "done"
)

// Status steps.
const (
	StepCache           = "cache"
	StepTranscript      = "transcript"
	StepTranscriptRetry = "transcript-retry"
	StepSource          = "source"
	StepLanguage        = "language"
	StepAnalyzing       = "analyzing"
	StepRepair          = "repair-json"
)

// Event is one item of the pipeline stream.
type Event struct {
	Type EventType
	Data any
}

type StatusData struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

type TextData struct {
	Chunk string `json:"chunk"`
}

type ErrorData struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Kind    apperr.Kind `json:"kind"`
}

type DoneData struct {
	OK bool `json:"ok"`
}

// ErrorDataOf converts a pipeline failure to its wire form.
func ErrorDataOf(err error) ErrorData {
	if errors.Is(err, context.Canceled) {
		return ErrorData{Message: "request cancelled", Code: apperr.KindInternal.Status(), Kind: apperr.KindInternal}
	}
	ae := apperr.As(err)
	message := ae.Message
	if ae.Kind == apperr.KindInternal {
		message = "internal error"
	}
	return ErrorData{Message: message, Code: ae.Status(), Kind: ae.Kind}
}

// Observer receives progress while a run executes. Terminal events are not
// part of it; the caller derives them from the run's return values.
type Observer interface {
	Status(step, message string)
	Text(chunk string)
	// Streaming reports whether the AI output should be streamed to Text.
	Streaming() bool
}

type discardObserver struct{}

func (discardObserver) Status(string, string) {}
func (discardObserver) Text(string)           {}
func (discardObserver) Streaming() bool       { return false }

// channelObserver forwards progress into an event channel. Sends stop as
// soon as ctx is done so an abandoned reader never blocks the pipeline.
type channelObserver struct {
	ctx context.Context
	ch  chan<- Event
}

func (o *channelObserver) Status(step, message string) {
	o.send(Event{Type: EventStatus, Data: StatusData{Step: step, Message: message}})
}

func (o *channelObserver) Text(chunk string) {
	if chunk == "" {
		return
	}
	o.send(Event{Type: EventText, Data: TextData{Chunk: chunk}})
}

func (o *channelObserver) Streaming() bool { return true }

func (o *channelObserver) send(ev Event) bool {
	if o.ctx.Err() != nil {
		return false
	}
	select {
	case o.ch <- ev:
		return true
	case <-o.ctx.Done():
		return false
	}
}
