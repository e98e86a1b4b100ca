package services

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/xc-results/internal/models"
)

const (
	// AllJobs subscribes a client to every job.
	AllJobs = "*"

	jobEventType = "scrape_job_update"

	subscriberBuffer = 64
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	writeWait        = 10 * time.Second
)

// JobEvent is pushed to subscribers whenever a scrape job changes state.
type JobEvent struct {
	Type      string            `json:"type"`
	Job       *models.ScrapeJob `json:"job"`
	Timestamp time.Time         `json:"timestamp"`
}

// JobSubscription changes which jobs a subscriber hears about.
type JobSubscription struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	JobIDs []string `json:"job_ids"`
}

// JobEventHub fans scrape job updates out to connected admin clients.
type JobEventHub struct {
	clients    map[*JobSubscriber]bool
	register   chan *JobSubscriber
	unregister chan *JobSubscriber
	done       chan struct{}
	mu         sync.RWMutex
	logger     *logrus.Logger
}

// JobSubscriber is one websocket connection. New subscribers follow all jobs.
type JobSubscriber struct {
	hub  *JobEventHub
	conn *websocket.Conn
	send chan []byte

	topicsMu sync.RWMutex
	topics   map[string]bool
}

func NewJobEventHub(logger *logrus.Logger) *JobEventHub {
	return &JobEventHub{
		clients:    make(map[*JobSubscriber]bool),
		register:   make(chan *JobSubscriber),
		unregister: make(chan *JobSubscriber),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run registers and drops subscribers until ctx is cancelled.
func (h *JobEventHub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.WithField("subscribers", h.ClientCount()).Debug("Job event subscriber registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register adds a subscriber. It reports false once the hub has stopped.
func (h *JobEventHub) Register(client *JobSubscriber) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *JobEventHub) drop(client *JobSubscriber) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *JobEventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends the job's current state to every subscriber following it.
// Slow subscribers miss updates instead of blocking the queue.
func (h *JobEventHub) Publish(job *models.ScrapeJob) {
	if h == nil || job == nil {
		return
	}
	msg, err := json.Marshal(JobEvent{Type: jobEventType, Job: job, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to encode job event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.Follows(job.ID) {
			continue
		}
		select {
		case client.send <- msg:
		default:
		}
	}
}

func NewJobSubscriber(hub *JobEventHub, conn *websocket.Conn) *JobSubscriber {
	return &JobSubscriber{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, subscriberBuffer),
		topics: map[string]bool{AllJobs: true},
	}
}

func (s *JobSubscriber) Follows(jobID string) bool {
	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	return s.topics[jobID] || s.topics[AllJobs]
}

// Apply updates the subscription. Subscribing to specific jobs stops the
// default follow-everything behaviour.
func (s *JobSubscriber) Apply(sub JobSubscription) {
	s.topicsMu.Lock()
	defer s.topicsMu.Unlock()
	switch sub.Action {
	case "subscribe":
		if len(sub.JobIDs) > 0 && !slices.Contains(sub.JobIDs, AllJobs) {
			delete(s.topics, AllJobs)
		}
		for _, id := range sub.JobIDs {
			s.topics[id] = true
		}
	case "unsubscribe":
		for _, id := range sub.JobIDs {
			delete(s.topics, id)
		}
	}
}

// ReadPump applies subscription messages until the connection closes.
func (s *JobSubscriber) ReadPump() {
	defer func() {
		s.hub.drop(s)
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var sub JobSubscription
		if err := s.conn.ReadJSON(&sub); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.WithError(err).Warn("Job event connection closed unexpectedly")
			}
			return
		}
		s.Apply(sub)
	}
}

// WritePump forwards queued events and keeps the connection alive with pings.
func (s *JobSubscriber) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
