// Package pubsubtest provides an in-process fake of the pub/sub service.
//
// The fake keeps, per subscription, the list of events not yet committed.
// Every read returns the oldest pending events, so uncommitted events are
// redelivered until they are committed. Each route can be forced to fail
// with a given HTTP status, and every request is counted.
package pubsubtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pubclient/internal/pub"
)

// Route names a service endpoint.
type Route string

const (
	RouteRead    Route = "read"
	RouteCommit  Route = "commit"
	RoutePublish Route = "publish"
)

type topicKey struct {
	organization string
	topic        string
}

// Server is a fake pub/sub service listening on a local port.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	subs      map[pub.Coordinate][]pub.Event
	topics    map[topicKey][]string
	failures  map[Route]int
	calls     map[Route]int
	readDelay time.Duration
	sticky    bool
	commits   [][]uuid.UUID
	published [][]json.RawMessage
}

// NewServer starts a fake service. Call Close when done.
func NewServer() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		subs:     make(map[pub.Coordinate][]pub.Event),
		topics:   make(map[topicKey][]string),
		failures: make(map[Route]int),
		calls:    make(map[Route]int),
	}

	r := gin.New()
	r.GET("/:org/topics/:topic/subscriptions/:sub/events", s.read)
	r.POST("/:org/topics/:topic/subscriptions/:sub/event-commits", s.commit)
	r.POST("/:org/topics/:topic/events", s.publish)

	s.Server = httptest.NewServer(r)

	return s
}

// AddSubscription registers a subscription so that it can be read and
// receives events published to its topic afterwards.
func (s *Server) AddSubscription(coord pub.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[coord]; ok {
		return
	}
	s.subs[coord] = []pub.Event{}
	k := topicKey{coord.Organization, coord.Topic}
	s.topics[k] = append(s.topics[k], coord.Subscription)
}

// Seed adds pending events with the given payloads to a subscription,
// registering it if needed, and returns them.
func (s *Server) Seed(coord pub.Coordinate, data ...any) []pub.Event {
	s.AddSubscription(coord)

	events := make([]pub.Event, 0, len(data))
	for _, d := range data {
		raw, err := json.Marshal(d)
		if err != nil {
			panic(err)
		}
		events = append(events, newEvent(raw))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[coord] = append(s.subs[coord], events...)

	return events
}

// Fail makes every request to route answer with status. A status of 0
// clears the failure.
func (s *Server) Fail(route Route, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == 0 {
		delete(s.failures, route)
		return
	}
	s.failures[route] = status
}

// SetReadDelay delays every read response by d.
func (s *Server) SetReadDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readDelay = d
}

// SetSticky makes commits succeed without removing events, so every read
// returns the same pending events.
func (s *Server) SetSticky(sticky bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sticky = sticky
}

// Calls returns how many requests route has received.
func (s *Server) Calls(route Route) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Pending returns the events of a subscription that are not committed.
func (s *Server) Pending(coord pub.Coordinate) []pub.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pub.Event(nil), s.subs[coord]...)
}

// Commits returns the id lists of every commit request received.
func (s *Server) Commits() [][]uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]uuid.UUID(nil), s.commits...)
}

// Published returns the payloads of every publish request received.
func (s *Server) Published() [][]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]json.RawMessage(nil), s.published...)
}

// enter counts the request and reports an injected failure status.
func (s *Server) enter(route Route) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[route]++
	return s.failures[route]
}

func (s *Server) read(c *gin.Context) {
	if status := s.enter(RouteRead); status != 0 {
		c.String(status, "ERROR")
		return
	}

	batchSize, err := strconv.Atoi(c.Query("batchSize"))
	if err != nil || batchSize <= 0 {
		c.String(http.StatusBadRequest, "invalid batchSize")
		return
	}

	s.mu.Lock()
	delay := s.readDelay
	pending, ok := s.subs[coordinate(c)]
	if len(pending) > batchSize {
		pending = pending[:batchSize]
	}
	batch := append([]pub.Event(nil), pending...)
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	switch {
	case !ok:
		c.String(http.StatusNotFound, "subscription not found")
	case len(batch) == 0:
		c.Status(http.StatusNoContent)
	default:
		c.JSON(http.StatusOK, batch)
	}
}

func (s *Server) commit(c *gin.Context) {
	if status := s.enter(RouteCommit); status != 0 {
		c.String(status, "error")
		return
	}

	var ids []uuid.UUID
	if err := c.ShouldBindJSON(&ids); err != nil {
		c.String(http.StatusBadRequest, "malformed id list: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coord := coordinate(c)
	pending, ok := s.subs[coord]
	if !ok {
		c.String(http.StatusNotFound, "subscription not found")
		return
	}
	s.commits = append(s.commits, ids)

	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	kept := pending[:0:0]
	acknowledged := 0
	for _, e := range pending {
		if _, hit := want[e.ID]; hit {
			acknowledged++
			if s.sticky {
				kept = append(kept, e)
			}
			continue
		}
		kept = append(kept, e)
	}
	s.subs[coord] = kept

	c.String(http.StatusOK, strconv.Itoa(acknowledged))
}

func (s *Server) publish(c *gin.Context) {
	if status := s.enter(RoutePublish); status != 0 {
		c.String(status, "error")
		return
	}

	var reqs []struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.String(http.StatusBadRequest, "malformed events: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := topicKey{c.Param("org"), c.Param("topic")}
	subs, ok := s.topics[k]
	if !ok {
		c.String(http.StatusNotFound, "topic not found")
		return
	}
	if len(reqs) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	payloads := make([]json.RawMessage, 0, len(reqs))
	for _, r := range reqs {
		payloads = append(payloads, r.Data)
	}
	s.published = append(s.published, payloads)

	for _, sub := range subs {
		coord := pub.Coordinate{Organization: k.organization, Topic: k.topic, Subscription: sub}
		for _, p := range payloads {
			s.subs[coord] = append(s.subs[coord], newEvent(p))
		}
	}

	c.String(http.StatusOK, strconv.Itoa(len(reqs)))
}

func coordinate(c *gin.Context) pub.Coordinate {
	return pub.Coordinate{
		Organization: c.Param("org"),
		Topic:        c.Param("topic"),
		Subscription: c.Param("sub"),
	}
}

func newEvent(data json.RawMessage) pub.Event {
	return pub.Event{
		ID:        uuid.New(),
		Data:      data,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}
