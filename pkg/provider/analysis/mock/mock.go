// Package mock provides a test double for the analysis package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkwire/pkg/provider/analysis"
)

// Provider is a mock implementation of analysis.Provider that returns a
// canned result and records every request.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every Analyze call.
	Result string

	// Err, if non-nil, is returned instead of Result.
	Err error

	// Requests records every call to Analyze in order.
	Requests []analysis.Request
}

// Analyze records the request and returns Result, Err.
func (p *Provider) Analyze(_ context.Context, req analysis.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return "", p.Err
	}
	return p.Result, nil
}

// Calls returns a snapshot of the recorded requests.
func (p *Provider) Calls() []analysis.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]analysis.Request(nil), p.Requests...)
}

var _ analysis.Provider = (*Provider)(nil)
