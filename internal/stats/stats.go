package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// StatsProvider is the counter surface components record against.
// Incr and Decr are fire-and-forget so delivery hot paths never block
// on metric bookkeeping.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater funnels counter updates through a buffered channel into
// an expvar map served on /debug/vars.
type StatsUpdater struct {
	vars    *expvar.Map
	started time.Time
	updates chan counterUpdate
}

type counterUpdate struct {
	name  string
	delta int64
}

func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:    expvar.NewMap("chatserver-stats"),
		started: time.Now(),
		updates: make(chan counterUpdate, 512),
	}
	su.vars.Set("UptimeMs", expvar.Func(func() any {
		return time.Since(su.started).Milliseconds()
	}))

	mux.HandleFunc("GET /debug/vars", su.serveVars)
	return su
}

func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	out := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var v any
		json.Unmarshal([]byte(kv.Value.String()), &v)
		out[kv.Key] = v
	})

	json.NewEncoder(w).Encode(out)
}

// RegisterMetric publishes a counter. Components register the metrics
// they own at construction time; re-registering keeps the existing
// counter and its value.
func (su *StatsUpdater) RegisterMetric(name string) {
	if _, ok := su.vars.Get(name).(*expvar.Int); ok {
		return
	}
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Incr(name string) {
	su.updates <- counterUpdate{name: name, delta: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.updates <- counterUpdate{name: name, delta: -1}
}

func (su *StatsUpdater) Run() {
	go su.loop()
}

func (su *StatsUpdater) loop() {
	for u := range su.updates {
		counter, ok := su.vars.Get(u.name).(*expvar.Int)
		if !ok {
			// only reachable through a component skipping registration
			panic("update for unregistered metric: " + u.name)
		}
		counter.Add(u.delta)
	}
}

func (su *StatsUpdater) Stop() {
	close(su.updates)
}
