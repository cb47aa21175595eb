package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/permephem/null-sub005/internal/domain"
)

func TestNode_SubmitAndAwait(t *testing.T) {
	l, _ := newTestLedger(t)
	node, err := NewNode(l, submitterAddr, NodeOptions{})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer node.Close()

	ctx := context.Background()
	ref, err := node.SubmitAnchor(ctx, anchorReq("w1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	record, err := node.AwaitAnchor(ctx, ref)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if record.Height != 1 {
		t.Fatalf("unexpected height %d", record.Height)
	}
	// Results stay available after completion.
	again, err := node.AwaitAnchor(ctx, ref)
	if err != nil || again.Height != record.Height {
		t.Fatalf("second await: %+v %v", again, err)
	}
	if _, err := node.AwaitAnchor(ctx, "0xdead"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown tx, got %v", err)
	}
}

func TestNode_CancelledSubmitterStillCommits(t *testing.T) {
	l, _ := newTestLedger(t)
	node, err := NewNode(l, submitterAddr, NodeOptions{})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ref, err := node.SubmitAnchor(ctx, anchorReq("w1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel()
	if _, err := node.AwaitAnchor(ctx, ref); !errors.Is(err, context.Canceled) {
		// The transaction may already be done; either way it must commit.
		if err != nil {
			t.Fatalf("unexpected await error: %v", err)
		}
	}
	node.Close()

	anchored, err := node.IsAnchored(context.Background(), digestOf("w1"))
	if err != nil || !anchored {
		t.Fatalf("expected commit after cancellation, got %v %v", anchored, err)
	}
}

func TestNode_FailuresSurfaceOnAwait(t *testing.T) {
	l, _ := newTestLedger(t)
	node, err := NewNode(l, domain.Address{0x01}, NodeOptions{})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer node.Close()

	ctx := context.Background()
	ref, err := node.SubmitAnchor(ctx, anchorReq("w1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := node.AwaitAnchor(ctx, ref); domain.CodeOf(err) != domain.CodeNotSubmitter {
		t.Fatalf("expected NOT_SUBMITTER, got %v", err)
	}
}

func TestNode_ClosedRefusesSubmissions(t *testing.T) {
	l, _ := newTestLedger(t)
	node, err := NewNode(l, submitterAddr, NodeOptions{MaxInFlight: 1})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.Close()
	if _, err := node.SubmitAnchor(context.Background(), anchorReq("w1")); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
