package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amigadave/kdbus/internal/config"
	"github.com/amigadave/kdbus/internal/logger"
	"github.com/amigadave/kdbus/pkg/kdbus"
)

var testBusSeq atomic.Uint64

// testBroker builds a fresh root namespace and bus, exposes the bus's
// default endpoint over a broker listening on a temp-dir socket, and
// registers cleanup. Auth is disabled so dialing tests don't need real
// peer credentials.
func testBroker(t *testing.T) (*Broker, string) {
	t.Helper()

	ns := kdbus.NewRootNamespace()
	busName := fmt.Sprintf("0-broker-test-%d", testBusSeq.Add(1))
	bus, err := kdbus.MakeBus(ns, kdbus.BusMakeParams{
		Name:      busName,
		BloomSize: 8,
		Flags:     kdbus.BusFlagPolicyOpen,
	}, 0)
	if err != nil {
		t.Fatalf("MakeBus() error = %v", err)
	}
	ep := bus.Endpoints()[0]

	socketPath := filepath.Join(t.TempDir(), "ipc.sock")
	cfg := config.IPCConfig{
		SocketPath:     socketPath,
		BufferSize:     4096,
		MaxConnections: 10,
		Timeout:        2 * time.Second,
		EnableAuth:     false,
	}

	log, err := logger.NewDefault()
	if err != nil {
		t.Fatalf("logger.NewDefault() error = %v", err)
	}

	broker, err := New(cfg, bus, ep, log)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := broker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { broker.Close() })

	return broker, socketPath
}

// dialHello connects to the broker's socket and completes the hello
// handshake, returning the connection, its encoder/decoder, and the
// assigned connection id.
func dialHello(t *testing.T, socketPath, connName string) (net.Conn, *json.Encoder, *json.Decoder, uint64) {
	t.Helper()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	if err := enc.Encode(Frame{Kind: "hello", ConnName: connName, PoolSize: 4096}); err != nil {
		t.Fatalf("encode hello: %v", err)
	}

	var ack Frame
	if err := dec.Decode(&ack); err != nil {
		t.Fatalf("decode hello_ack: %v", err)
	}
	if ack.Kind != "hello_ack" {
		t.Fatalf("expected hello_ack, got %q (error=%q)", ack.Kind, ack.Error)
	}
	return conn, enc, dec, ack.ConnID
}

func TestNewBroker(t *testing.T) {
	broker, _ := testBroker(t)
	if broker.socket == nil {
		t.Error("expected non-nil socket")
	}
	if broker.conns == nil {
		t.Error("expected non-nil conns map")
	}
}

func TestBrokerHelloAssignsConnectionID(t *testing.T) {
	_, socketPath := testBroker(t)

	conn, _, _, id1 := dialHello(t, socketPath, "alice")
	defer conn.Close()
	if id1 == 0 {
		t.Error("expected nonzero connection id")
	}

	conn2, _, _, id2 := dialHello(t, socketPath, "bob")
	defer conn2.Close()
	if id2 <= id1 {
		t.Errorf("expected increasing connection ids, got %d then %d", id1, id2)
	}
}

func TestBrokerRejectsNonHelloFirstFrame(t *testing.T) {
	_, socketPath := testBroker(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	if err := enc.Encode(Frame{Kind: "send", DestID: 1}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var resp Frame
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != "error" {
		t.Errorf("expected error frame, got %q", resp.Kind)
	}
}

func TestBrokerSendByIDDeliversToDestination(t *testing.T) {
	_, socketPath := testBroker(t)

	connA, encA, decA, idA := dialHello(t, socketPath, "sender")
	defer connA.Close()
	connB, _, decB, idB := dialHello(t, socketPath, "receiver")
	defer connB.Close()

	if err := encA.Encode(Frame{Kind: "send", DestID: idB, Payload: []byte("hello there")}); err != nil {
		t.Fatalf("encode send: %v", err)
	}

	var ack Frame
	if err := decA.Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Kind != "ack" {
		t.Fatalf("expected ack, got %q (error=%q)", ack.Kind, ack.Error)
	}

	var msg Frame
	if err := decB.Decode(&msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Kind != "message" {
		t.Fatalf("expected message frame, got %q", msg.Kind)
	}
	if msg.SrcID != idA {
		t.Errorf("SrcID = %d, want %d", msg.SrcID, idA)
	}
	if string(msg.Payload) != "hello there" {
		t.Errorf("Payload = %q, want %q", msg.Payload, "hello there")
	}
}

func TestBrokerSendByNameDeliversToOwner(t *testing.T) {
	_, socketPath := testBroker(t)

	connA, encA, decA, _ := dialHello(t, socketPath, "sender")
	defer connA.Close()
	connB, encB, decB, _ := dialHello(t, socketPath, "receiver")
	defer connB.Close()

	if err := encB.Encode(Frame{Kind: "acquire_name", Name: "org.kdbus.example"}); err != nil {
		t.Fatalf("encode acquire_name: %v", err)
	}
	var ack Frame
	if err := decB.Decode(&ack); err != nil || ack.Kind != "ack" {
		t.Fatalf("acquire_name ack = %+v, err = %v", ack, err)
	}

	if err := encA.Encode(Frame{Kind: "send", DestName: "org.kdbus.example", Payload: []byte("payload")}); err != nil {
		t.Fatalf("encode send: %v", err)
	}
	if err := decA.Decode(&ack); err != nil || ack.Kind != "ack" {
		t.Fatalf("send ack = %+v, err = %v", ack, err)
	}

	var msg Frame
	if err := decB.Decode(&msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if string(msg.Payload) != "payload" {
		t.Errorf("Payload = %q, want %q", msg.Payload, "payload")
	}
}

func TestBrokerSendUnknownDestinationReturnsError(t *testing.T) {
	_, socketPath := testBroker(t)

	conn, enc, dec, _ := dialHello(t, socketPath, "lonely")
	defer conn.Close()

	if err := enc.Encode(Frame{Kind: "send", DestID: 99999}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var resp Frame
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != "error" {
		t.Errorf("expected error frame, got %q", resp.Kind)
	}
}

func TestBrokerReleaseNameFreesOwnership(t *testing.T) {
	_, socketPath := testBroker(t)

	conn, enc, dec, _ := dialHello(t, socketPath, "owner")
	defer conn.Close()

	if err := enc.Encode(Frame{Kind: "acquire_name", Name: "org.kdbus.released"}); err != nil {
		t.Fatalf("encode acquire: %v", err)
	}
	var ack Frame
	if err := dec.Decode(&ack); err != nil || ack.Kind != "ack" {
		t.Fatalf("acquire ack = %+v, err = %v", ack, err)
	}

	if err := enc.Encode(Frame{Kind: "release_name", Name: "org.kdbus.released"}); err != nil {
		t.Fatalf("encode release: %v", err)
	}
	if err := dec.Decode(&ack); err != nil || ack.Kind != "ack" {
		t.Fatalf("release ack = %+v, err = %v", ack, err)
	}
}

func TestBrokerStatsReflectActivity(t *testing.T) {
	broker, socketPath := testBroker(t)

	connA, encA, decA, _ := dialHello(t, socketPath, "a")
	defer connA.Close()
	connB, _, _, idB := dialHello(t, socketPath, "b")
	defer connB.Close()

	if err := encA.Encode(Frame{Kind: "send", DestID: idB, Payload: []byte("x")}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var ack Frame
	if err := decA.Decode(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}

	stats := broker.Stats()
	if stats.MessagesSent != 1 {
		t.Errorf("MessagesSent = %d, want 1", stats.MessagesSent)
	}
	if stats.ConnectionsAccepted != 2 {
		t.Errorf("ConnectionsAccepted = %d, want 2", stats.ConnectionsAccepted)
	}
}

func TestBrokerCloseIsIdempotentAndStopsNewConnections(t *testing.T) {
	broker, socketPath := testBroker(t)

	if err := broker.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := broker.Close(); err == nil {
		t.Error("expected error on double close")
	}

	if _, err := net.Dial("unix", socketPath); err == nil {
		t.Error("expected dial to fail after close")
	}
}
