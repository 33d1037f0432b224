package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/workerclient"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcceptConflict(t *testing.T) {
	msg := domain.Message{ID: "1-0", Queue: domain.QueueCandidates}

	if err := acceptConflict(discard(), "extractor", msg, nil); err != nil {
		t.Fatalf("nil err: %v", err)
	}

	conflict := &workerclient.APIError{StatusCode: http.StatusConflict, Code: "duplicate_content"}
	if err := acceptConflict(discard(), "extractor", msg, conflict); err != nil {
		t.Fatalf("409 must ack, got %v", err)
	}

	stale := &workerclient.APIError{StatusCode: http.StatusBadRequest, Code: "invalid_status"}
	if err := acceptConflict(discard(), "extractor", msg, stale); err != nil {
		t.Fatalf("stale report must ack, got %v", err)
	}

	badInput := &workerclient.APIError{StatusCode: http.StatusBadRequest, Code: "invalid_request"}
	if err := acceptConflict(discard(), "extractor", msg, badInput); err == nil {
		t.Fatalf("malformed report must propagate for dead-lettering")
	}

	server := &workerclient.APIError{StatusCode: http.StatusInternalServerError, Code: "internal"}
	if err := acceptConflict(discard(), "extractor", msg, server); err == nil {
		t.Fatalf("500 must propagate for redelivery")
	}

	plain := errors.New("connection refused")
	if err := acceptConflict(discard(), "extractor", msg, plain); !errors.Is(err, plain) {
		t.Fatalf("transport error must propagate, got %v", err)
	}
}

func TestDevChain_DeterministicAddress(t *testing.T) {
	chain := NewDevChain()
	ctx := context.Background()

	addr1, sig1, err := chain.CreateMarket(ctx, "m-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	addr2, sig2, err := chain.CreateMarket(ctx, "m-1")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if addr1 != addr2 || sig1 != sig2 {
		t.Fatalf("republish diverged: %s/%s vs %s/%s", addr1, sig1, addr2, sig2)
	}

	other, _, _ := chain.CreateMarket(ctx, "m-2")
	if other == addr1 {
		t.Fatalf("distinct markets share address %s", addr1)
	}
	if len(addr1) != 42 || addr1[:2] != "0x" {
		t.Fatalf("address=%q want 0x-prefixed 20 bytes", addr1)
	}
}

func TestDevChain_UpdateResolutionValidatesResult(t *testing.T) {
	chain := NewDevChain()
	if err := chain.UpdateResolution(context.Background(), "m-1", domain.ResultNo); err != nil {
		t.Fatalf("valid result: %v", err)
	}
	if err := chain.UpdateResolution(context.Background(), "m-1", "MAYBE"); err == nil {
		t.Fatalf("invalid result accepted")
	}
}
