package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"office-queue-backend/internal/model"
)

// EventType enumerates the notifications the orchestrator can emit.
// Delivery and copy are this package's concern; the orchestrator only
// supplies the structured payload.
type EventType string

const (
	EventReservationConfirmed EventType = "reservation_confirmed"
	EventYourTurn             EventType = "your_turn"
	EventNoShow               EventType = "no_show"
	EventQueueCleared         EventType = "queue_cleared"
	EventSystemError          EventType = "system_error"
	EventTimeoutWarning       EventType = "timeout_warning"
	EventSystemReset          EventType = "system_reset"
)

// Job is one notification request. An empty UserCode broadcasts to every
// subscription.
type Job struct {
	Type           EventType `json:"type"`
	UserCode       string    `json:"user_code,omitempty"`
	Position       int       `json:"position,omitempty"`
	WaitMinutes    int       `json:"wait_minutes,omitempty"`
	TimeoutMinutes int       `json:"timeout_minutes,omitempty"`
}

type payload struct {
	Job
	Message string `json:"message"`
}

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation using the webpush library.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers for sending notifications. Dispatch
// never blocks the caller: when the queue backs up, jobs are dropped and
// logged rather than stalling the orchestrator's tick.
type WorkerPool struct {
	size    int
	jobs    chan Job
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*8),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("notification worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			wp.process(ctx, job)
		case <-ctx.Done():
			log.Printf("notification worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a job for asynchronous delivery.
func (wp *WorkerPool) Dispatch(job Job) {
	select {
	case wp.jobs <- job:
	default:
		log.Printf("notification queue full, dropping %s for %q", job.Type, job.UserCode)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

func message(job Job) string {
	switch job.Type {
	case EventReservationConfirmed:
		return fmt.Sprintf("Reservation confirmed. Queue position %d, estimated wait %d min.", job.Position, job.WaitMinutes)
	case EventYourTurn:
		return fmt.Sprintf("It's your turn! You have %d min to enter the office.", job.TimeoutMinutes)
	case EventNoShow:
		return "Your reservation expired: you did not enter in time."
	case EventQueueCleared:
		return "The queue was cleared by an administrator."
	case EventSystemError:
		return "The occupancy system is in an error state. Contact support."
	case EventTimeoutWarning:
		return "Maximum occupancy time exceeded. Please free the office."
	case EventSystemReset:
		return "The system was reset. All reservations were cancelled."
	default:
		return string(job.Type)
	}
}

func (wp *WorkerPool) process(ctx context.Context, job Job) {
	query := wp.db.WithContext(ctx).Model(&model.PushSubscription{})
	if job.UserCode != "" {
		query = query.Where("user_code = ?", job.UserCode)
	}

	var subscriptions []model.PushSubscription
	if err := query.Find(&subscriptions).Error; err != nil {
		log.Printf("error fetching subscriptions for %s job: %v", job.Type, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	body, err := json.Marshal(payload{Job: job, Message: message(job)})
	if err != nil {
		log.Printf("error encoding %s payload: %v", job.Type, err)
		return
	}

	log.Printf("sending %d %s notifications", len(subscriptions), job.Type)
	for _, sub := range subscriptions {
		wp.send(ctx, sub, body)
	}
}

func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, body []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(body, wpSub, wp.webpush)
	if err != nil {
		log.Printf("error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Expired subscriptions are removed so the next fan-out skips them.
	if resp.StatusCode == http.StatusGone {
		log.Printf("subscription %s is expired, deleting", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
