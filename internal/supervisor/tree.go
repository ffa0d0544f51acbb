// Package supervisor runs the long-lived parts of the server under a
// suture/v4 supervision tree:
//
//	newsletter (root)
//	├── delivery-layer   delivery workers
//	└── api-layer        HTTP server
//
// A crashing or panicking service is restarted with back-off; repeated
// failures in one layer do not take down the other.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// TreeConfig tunes restart behavior for every supervisor in the tree.
type TreeConfig struct {
	// FailureThreshold is the failure count that triggers back-off.
	FailureThreshold float64
	// FailureDecay is the half-life, in seconds, of the failure count.
	FailureDecay float64
	// FailureBackoff is how long a layer waits once the threshold is hit.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds how long a service may take to stop.
	ShutdownTimeout time.Duration
}

func (c TreeConfig) withDefaults() TreeConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Tree is the process supervision tree.
type Tree struct {
	root     *suture.Supervisor
	delivery *suture.Supervisor
	api      *suture.Supervisor
}

// NewTree builds the tree. Supervisor events are logged through logger.
func NewTree(logger zerolog.Logger, cfg TreeConfig) *Tree {
	cfg = cfg.withDefaults()

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = EventHook(logger)

	t := &Tree{
		root:     suture.New("newsletter", rootSpec),
		delivery: suture.New("delivery-layer", spec),
		api:      suture.New("api-layer", spec),
	}
	t.root.Add(t.delivery)
	t.root.Add(t.api)
	return t
}

// AddDeliveryService adds a delivery worker.
func (t *Tree) AddDeliveryService(svc suture.Service) suture.ServiceToken {
	return t.delivery.Add(svc)
}

// AddAPIService adds a request-serving service.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the channel yields Serve's result.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// EventHook logs suture events: panics and stop timeouts at error level,
// terminations and back-off at warn, resumes at info.
func EventHook(logger zerolog.Logger) suture.EventHook {
	return func(ev suture.Event) {
		var e *zerolog.Event
		switch ev.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			e = logger.Error()
		case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
			e = logger.Warn()
		default:
			e = logger.Info()
		}
		e.Fields(ev.Map()).Str("component", "supervisor").Msg(ev.String())
	}
}
