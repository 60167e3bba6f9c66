package mcpmgr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func newTestConnection(srv *fakeServer, cfg ServerConfig, opts ConnectionOptions) *ServerConnection {
	opts.Logger = discardLogger()
	return NewServerConnection(cfg, srv, opts)
}

func TestConnectionRetryExhaustion(t *testing.T) {
	t.Parallel()

	boom := errors.New("spawn failed")
	srv := newFakeServer()
	srv.openErrs = []error{boom, boom, boom, boom}
	cfg := stdioConfig("flaky")
	cfg.RetryAttempts = 3

	conn := newTestConnection(srv, cfg, ConnectionOptions{})
	err := conn.Connect(context.Background())
	if err == nil {
		t.Fatalf("Connect should fail after exhausting the budget")
	}
	if got := srv.openCount(); got != 3 {
		t.Fatalf("transport opened %d times, expected exactly 3", got)
	}
	if conn.State() != StateFailed {
		t.Fatalf("state = %s, expected failed", conn.State())
	}
	var mgrErr *Error
	if !errors.As(err, &mgrErr) || mgrErr.Attempts != 3 || mgrErr.Kind != KindConnection {
		t.Fatalf("unexpected error shape: %#v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("last cause not preserved: %v", err)
	}
	if snap := conn.Snapshot(); snap.LastError == "" || len(snap.Tools) != 0 {
		t.Fatalf("failed snapshot should carry last error and no tools: %#v", snap)
	}
}

func TestConnectionSucceedsOnThirdAttempt(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(fakeTool("read_file"))
	srv.openErrs = []error{errors.New("not ready"), errors.New("not ready")}
	cfg := stdioConfig("fs")
	cfg.RetryAttempts = 3

	conn := newTestConnection(srv, cfg, ConnectionOptions{})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if srv.openCount() != 3 {
		t.Fatalf("expected 3 opens, got %d", srv.openCount())
	}
	snap := conn.Snapshot()
	if snap.State != StateConnected || snap.Attempts != 3 || len(snap.Tools) != 1 {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
}

func TestConnectionTimeoutConsumesAttempt(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.blockOpen = true
	cfg := stdioConfig("slow")
	cfg.RetryAttempts = 2
	cfg.ConnectTimeout = 20 * time.Millisecond

	conn := newTestConnection(srv, cfg, ConnectionOptions{})
	start := time.Now()
	err := conn.Connect(context.Background())
	if err == nil {
		t.Fatalf("expected timeout failure")
	}
	if srv.openCount() != 2 {
		t.Fatalf("each timed-out attempt should consume one slot, got %d opens", srv.openCount())
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("connect blocked for %s", elapsed)
	}
}

func TestConnectionDegradesWhenResourcesFail(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(fakeTool("search"))
	srv.resourcesErr = errors.New("method not found")
	conn := newTestConnection(srv, stdioConfig("search"), ConnectionOptions{})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("resource failure must not fail the connect: %v", err)
	}
	snap := conn.Snapshot()
	if snap.State != StateConnected || len(snap.Tools) != 1 || len(snap.Resources) != 0 {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
}

func TestConnectionToolListingFailureClosesSession(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.listToolsErr = errors.New("tools/list exploded")
	cfg := stdioConfig("broken")
	cfg.RetryAttempts = 1
	conn := newTestConnection(srv, cfg, ConnectionOptions{})

	err := conn.Connect(context.Background())
	if KindOf(err) != KindCapabilityDiscovery {
		t.Fatalf("expected capability discovery error, got %v", err)
	}
	if s := srv.lastSession(); s == nil || s.closeCount() != 1 {
		t.Fatalf("session opened for a failed attempt must be closed")
	}
}

func TestConnectionDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(fakeTool("echo"))
	conn := newTestConnection(srv, stdioConfig("echo"), ConnectionOptions{})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if conn.State() != StateIdle {
		t.Fatalf("state = %s, expected idle", conn.State())
	}
	if got := srv.lastSession().closeCount(); got != 1 {
		t.Fatalf("session closed %d times, expected 1", got)
	}
	if conn.HasTool("echo") {
		t.Fatalf("disconnected connection must not report tools")
	}
}

func TestConnectionSessionLossMarksFailed(t *testing.T) {
	t.Parallel()

	lost := make(chan error, 1)
	srv := newFakeServer(fakeTool("echo"))
	conn := newTestConnection(srv, stdioConfig("echo"), ConnectionOptions{
		OnLost: func(err error) { lost <- err },
	})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	srv.lastSession().hooks.Closed(errors.New("EOF"))

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatalf("OnLost not invoked")
	}
	if conn.State() != StateFailed {
		t.Fatalf("state = %s, expected failed", conn.State())
	}
	if _, err := conn.CallTool(context.Background(), "echo", nil); KindOf(err) != KindInvoke {
		t.Fatalf("CallTool on a lost session should fail with invoke, got %v", err)
	}
}

func TestConnectionRefreshReplacesTools(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(fakeTool("a"), fakeTool("b"))
	conn := newTestConnection(srv, stdioConfig("s"), ConnectionOptions{})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	srv.setTools(&mcp.Tool{Name: "c"})
	if err := conn.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if conn.HasTool("a") || !conn.HasTool("c") {
		t.Fatalf("refresh did not replace tool list: %v", conn.Tools())
	}
}

func TestConnectionSessionClosedDuringDiscoveryRetries(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(fakeTool("echo"))
	srv.crashOnPrompts = 1
	cfg := stdioConfig("crashy")
	cfg.RetryAttempts = 2

	conn := newTestConnection(srv, cfg, ConnectionOptions{})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if srv.openCount() != 2 {
		t.Fatalf("expected the dead session to consume an attempt, got %d opens", srv.openCount())
	}
	if n := srv.sessions[0].closeCount(); n == 0 {
		t.Fatalf("session closed during discovery was not released")
	}
	if snap := conn.Snapshot(); snap.State != StateConnected || snap.Attempts != 2 {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
}

func TestConnectionSessionClosedDuringDiscoveryFails(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(fakeTool("echo"))
	srv.crashOnPrompts = 1
	cfg := stdioConfig("crashy")
	cfg.RetryAttempts = 1

	conn := newTestConnection(srv, cfg, ConnectionOptions{})
	err := conn.Connect(context.Background())
	if KindOf(err) != KindConnection {
		t.Fatalf("expected a connection error, got %v", err)
	}
	if conn.State() != StateFailed {
		t.Fatalf("state = %s, expected failed", conn.State())
	}
	if _, err := conn.CallTool(context.Background(), "echo", nil); err == nil {
		t.Fatalf("CallTool must not reach a session that died during discovery")
	}
}
