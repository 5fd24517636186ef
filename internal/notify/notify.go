// Package notify decouples email delivery from the request path: the OCR
// worker enqueues a persistent job after processing, an independent
// consumer drains the queue and hands each job to a Mailer.
package notify

import (
	"context"
	"encoding/json"
)

// Queue is the well-known, durable notification queue.
const Queue = "email_notification"

// Job describes one deferred delivery. It is created by the producer,
// consumed once under normal operation and redelivered on consumer
// failure.
type Job struct {
	Destination string `json:"destination"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

func (j Job) encode() ([]byte, error) { return json.Marshal(j) }

func decodeJob(body []byte) (Job, error) {
	var j Job
	err := json.Unmarshal(body, &j)
	return j, err
}

// Mailer is the delivery capability: structured message in, best-effort
// send out.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}
