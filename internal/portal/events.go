package portal

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sai-cam/agentd/internal/healthsock"
)

// eventStream implements /api/events (spec.md §4.7): a single
// text/event-stream connection carrying four independently-paced tiers —
// health every second, status every 20s, a slow tier every 500s, and log
// lines as they arrive. Each tier only writes when its payload's hash has
// changed since the last tick, so an idle node emits far less than one
// frame per tier per interval. Grounded on the wider pack's use of
// github.com/hashicorp/golang-lru/v2 for exactly this kind of small
// bounded lookaside cache.
type eventStream struct {
	deps   Deps
	hashes *lru.Cache[string, [32]byte]
}

func newEventStream(deps Deps) *eventStream {
	c, err := lru.New[string, [32]byte](8)
	if err != nil {
		panic(err) // only fails for a non-positive size, which 8 never is
	}
	return &eventStream{deps: deps, hashes: c}
}

type tier struct {
	name     string
	interval time.Duration
	payload  func(s *eventStream) (any, bool)
}

var eventTiers = []tier{
	{name: "health", interval: time.Second, payload: (*eventStream).healthPayload},
	{name: "status", interval: 20 * time.Second, payload: (*eventStream).statusPayload},
	{name: "slow", interval: 500 * time.Second, payload: (*eventStream).slowPayload},
	{name: "log", interval: time.Second, payload: (*eventStream).logPayload},
}

func (s *eventStream) healthPayload() (any, bool) {
	resp, err := healthsock.Dial(s.deps.HealthSocketPath, healthsock.Command{Action: "health"}, 3*time.Second)
	if err != nil || resp.Health == nil {
		return nil, false
	}
	return resp.Health, true
}

func (s *eventStream) statusPayload() (any, bool) {
	resp, err := healthsock.Dial(s.deps.HealthSocketPath, healthsock.Command{Action: "health"}, 3*time.Second)
	if err != nil || resp.Health == nil {
		return nil, false
	}
	return map[string]any{
		"node_id": s.deps.NodeID,
		"version": s.deps.Version,
		"uptime":  time.Since(s.deps.StartedAt).Seconds(),
		"cameras": resp.Health.Cameras,
		"failed":  resp.Health.Failed,
	}, true
}

// slowPayload backs the "slow" tier's storage scan (spec.md §4.7): a
// snapshot of on-disk usage, not the config (/api/config already serves
// that).
func (s *eventStream) slowPayload() (any, bool) {
	if s.deps.StorageStats == nil {
		return nil, false
	}
	return s.deps.StorageStats(), true
}

func (s *eventStream) logPayload() (any, bool) {
	if s.deps.RecentLogs == nil {
		return nil, false
	}
	lines := s.deps.RecentLogs(20)
	if len(lines) == 0 {
		return nil, false
	}
	return map[string]any{"lines": lines}, true
}

// ServeHTTP streams server-sent events until the client disconnects.
func (s *eventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	tickers := make([]*time.Ticker, len(eventTiers))
	for i, t := range eventTiers {
		tickers[i] = time.NewTicker(t.interval)
		s.emit(w, flusher, t)
	}
	defer func() {
		for _, tk := range tickers {
			tk.Stop()
		}
	}()

	cases := make([]<-chan time.Time, len(tickers))
	for i, tk := range tickers {
		cases[i] = tk.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-cases[0]:
			s.emit(w, flusher, eventTiers[0])
		case <-cases[1]:
			s.emit(w, flusher, eventTiers[1])
		case <-cases[2]:
			s.emit(w, flusher, eventTiers[2])
		case <-cases[3]:
			s.emit(w, flusher, eventTiers[3])
		}
	}
}

func (s *eventStream) emit(w http.ResponseWriter, flusher http.Flusher, t tier) {
	payload, ok := t.payload(s)
	if !ok {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	sum := sha256.Sum256(data)
	if prev, found := s.hashes.Get(t.name); found && prev == sum {
		return
	}
	s.hashes.Add(t.name, sum)

	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", t.name, data)
	flusher.Flush()
}
