// Package graph exposes the connection graph to the routing core.
//
// The graph itself lives in the durable store and is mutated only by the
// connection-management API; this gateway is the read-only view the core uses
// to authorize calls and compute presence-broadcast audiences. The relation
// is symmetric everywhere: an edge in either orientation authorizes the pair.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/talkwire/pkg/store"
)

// ErrUnavailable is returned when the connection store cannot be reached.
// Callers performing authorization checks must treat it as a denial: the
// gateway fails closed, never open.
var ErrUnavailable = errors.New("graph: connection store unavailable")

// Gateway is the read-only connection graph view.
type Gateway struct {
	edges store.ConnectionStore
}

// New creates a Gateway over the given edge store.
func New(edges store.ConnectionStore) *Gateway {
	return &Gateway{edges: edges}
}

// AreConnected reports whether a and b share a connection edge. A user is
// never considered connected to themselves.
func (g *Gateway) AreConnected(ctx context.Context, a, b int64) (bool, error) {
	if a == b {
		return false, nil
	}
	connected, err := g.edges.AreConnected(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return connected, nil
}

// ConnectionsOf returns the deduplicated set of users sharing an edge with
// userID, in no particular order.
func (g *Gateway) ConnectionsOf(ctx context.Context, userID int64) ([]int64, error) {
	peers, err := g.edges.ConnectionsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return peers, nil
}
