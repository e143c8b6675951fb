package graph_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/talkwire/internal/graph"
	"github.com/MrWong99/talkwire/pkg/store"
	storemock "github.com/MrWong99/talkwire/pkg/store/mock"
)

func TestAreConnectedSymmetric(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	st.AddEdge(1, 2)
	g := graph.New(st)
	ctx := context.Background()

	for _, pair := range [][2]int64{{1, 2}, {2, 1}} {
		ok, err := g.AreConnected(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("AreConnected(%d,%d) error: %v", pair[0], pair[1], err)
		}
		if !ok {
			t.Errorf("AreConnected(%d,%d) = false, want true", pair[0], pair[1])
		}
	}

	ok, err := g.AreConnected(ctx, 1, 3)
	if err != nil {
		t.Fatalf("AreConnected(1,3) error: %v", err)
	}
	if ok {
		t.Error("AreConnected(1,3) = true for users without an edge")
	}
}

func TestAreConnectedSelf(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	st.AddEdge(1, 1) // a corrupt self-edge must not grant anything
	g := graph.New(st)

	ok, err := g.AreConnected(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("AreConnected(1,1) error: %v", err)
	}
	if ok {
		t.Error("AreConnected(1,1) = true, want false")
	}
}

func TestConnectionsOfDeduplicates(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	st.AddEdge(1, 2)
	st.AddEdge(3, 1)
	g := graph.New(st)

	peers, err := g.ConnectionsOf(context.Background(), 1)
	if err != nil {
		t.Fatalf("ConnectionsOf(1) error: %v", err)
	}
	slices.Sort(peers)
	if want := []int64{2, 3}; !slices.Equal(peers, want) {
		t.Errorf("ConnectionsOf(1) = %v, want %v", peers, want)
	}
}

func TestFailsClosedWhenStoreUnavailable(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{FailWith: store.ErrUnavailable}
	g := graph.New(st)
	ctx := context.Background()

	if _, err := g.AreConnected(ctx, 1, 2); !errors.Is(err, graph.ErrUnavailable) {
		t.Errorf("AreConnected() error = %v, want ErrUnavailable", err)
	}
	if _, err := g.ConnectionsOf(ctx, 1); !errors.Is(err, graph.ErrUnavailable) {
		t.Errorf("ConnectionsOf() error = %v, want ErrUnavailable", err)
	}
}
