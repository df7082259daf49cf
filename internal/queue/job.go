// Package queue carries extraction jobs from the dispatcher to workers. Jobs
// travel as structured-mode CloudEvents; the Kafka broker is the production
// transport and the memory broker runs everything inside one process.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
)

const (
	// EventType identifies extraction jobs.
	EventType = "io.docpipeline.document.extract"
	// EventSource names the producer in emitted events.
	EventSource = "docpipeline/dispatcher"
)

// Job is one delivery of an extraction task. Attempt starts at 1; a retry is
// a new Job with the same TaskID, Attempt+1 and a NotBefore in the future.
type Job struct {
	TaskID        string    `json:"task_id"`
	Fingerprint   string    `json:"fingerprint"`
	FileName      string    `json:"file_name"`
	Content       []byte    `json:"content"`
	Attempt       int       `json:"attempt"`
	NotBefore     time.Time `json:"not_before,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Handler processes one job. A returned error asks the transport to
// redeliver; policy failures the worker has already dealt with return nil.
type Handler func(ctx context.Context, job Job) error

// Broker is a job transport.
type Broker interface {
	// Publish enqueues a first delivery.
	Publish(ctx context.Context, job Job) error
	// PublishRetry enqueues a redelivery held back until job.NotBefore.
	PublishRetry(ctx context.Context, job Job) error
	// Subscribe delivers jobs to h until ctx is cancelled.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// Encode wraps job in a CloudEvent and returns its JSON form.
func Encode(job Job) ([]byte, error) {
	e := event.New()
	e.SetID(fmt.Sprintf("%s-%d", job.TaskID, job.Attempt))
	e.SetSource(EventSource)
	e.SetType(EventType)
	e.SetSubject(job.Fingerprint)
	e.SetTime(time.Now().UTC())
	if err := e.SetData(event.ApplicationJSON, job); err != nil {
		return nil, fmt.Errorf("encoding job %s: %w", job.TaskID, err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event for job %s: %w", job.TaskID, err)
	}
	return json.Marshal(e)
}

// Decode parses a CloudEvent produced by Encode.
func Decode(data []byte) (Job, error) {
	var e event.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Job{}, fmt.Errorf("decoding event: %w", err)
	}
	if e.Type() != EventType {
		return Job{}, fmt.Errorf("unexpected event type %q", e.Type())
	}
	var job Job
	if err := e.DataAs(&job); err != nil {
		return Job{}, fmt.Errorf("decoding job from event %s: %w", e.ID(), err)
	}
	if job.TaskID == "" || job.Fingerprint == "" {
		return Job{}, fmt.Errorf("event %s carries an incomplete job", e.ID())
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	return job, nil
}
