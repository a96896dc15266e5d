// internal/proxy/types.go
package proxy

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"
)

// ErrNoHealthyProxies is returned when every configured proxy is resting after failures
var ErrNoHealthyProxies = errors.New("no healthy proxies available")

// RotationStrategy defines how proxies are rotated
type RotationStrategy string

const (
	RotationRoundRobin RotationStrategy = "round_robin"
	RotationRandom     RotationStrategy = "random"
	RotationWeighted   RotationStrategy = "weighted"
)

// Instance is one upstream proxy and its failure accounting
type Instance struct {
	Name   string
	URL    *url.URL
	Weight int

	mu          sync.Mutex
	failures    int
	available   bool
	lastFailure time.Time
	uses        int64
	successes   int64
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Total   int             `json:"total"`
	Healthy int             `json:"healthy"`
	Proxies []InstanceStats `json:"proxies"`
}

// InstanceStats describes one proxy; the URL carries no credentials
type InstanceStats struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Healthy   bool   `json:"healthy"`
	Uses      int64  `json:"uses"`
	Successes int64  `json:"successes"`
	Failures  int    `json:"failures"`
}

type contextKey struct{}

// WithInstance attaches the proxy chosen for a request
func WithInstance(ctx context.Context, inst *Instance) context.Context {
	if inst == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, inst)
}

// FromContext returns the proxy attached with WithInstance, or nil
func FromContext(ctx context.Context) *Instance {
	inst, _ := ctx.Value(contextKey{}).(*Instance)
	return inst
}
