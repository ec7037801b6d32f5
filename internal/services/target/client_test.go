package target

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/livepilot/livepilot-go/pkg/liveproto"
)

// startTCPTarget runs a one-shot loopback Target that answers every request
// line with the given raw response lines, in order.
func startTCPTarget(t *testing.T, responses ...string) (port int, received chan liveproto.Request) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	received = make(chan liveproto.Request, 16)

	go func() {
		for i := 0; ; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			resp := `{"status":"success"}`
			if i < len(responses) {
				resp = responses[i]
			}
			go func(c net.Conn, raw string) {
				defer func() { _ = c.Close() }()
				line, err := bufio.NewReader(c).ReadBytes('\n')
				if err != nil {
					return
				}
				var req liveproto.Request
				if derr := json.Unmarshal(line, &req); derr == nil {
					received <- req
				}
				_, _ = c.Write([]byte(raw + "\n"))
			}(conn, resp)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, received
}

func testConfig(tcpPort, udpPort int) Config {
	return Config{
		Host:           "127.0.0.1",
		TCPPort:        tcpPort,
		UDPPort:        udpPort,
		Timeout:        500 * time.Millisecond,
		MaxRetries:     1,
		InitialBackoff: 10 * time.Millisecond,
	}
}

func TestCall_Success(t *testing.T) {
	port, received := startTCPTarget(t, `{"status":"success","result":{"ok":true}}`)
	client := NewClient(testConfig(port, 1))
	defer client.Close()

	result, err := client.Call(context.Background(), "get_device_parameters", map[string]interface{}{"track_index": 0})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["ok"] != true {
		t.Errorf("result = %v, want ok:true", result)
	}

	select {
	case req := <-received:
		if req.Type != "get_device_parameters" {
			t.Errorf("request type = %q, want get_device_parameters", req.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Target never received the request")
	}
}

func TestCall_ApplicationErrorNotRetried(t *testing.T) {
	port, received := startTCPTarget(t, `{"status":"error","message":"no such device"}`)
	client := NewClient(testConfig(port, 1))
	defer client.Close()

	_, err := client.Call(context.Background(), "get_device_parameters", nil)

	var te *TargetError
	if !errors.As(err, &te) {
		t.Fatalf("Call() error = %v, want *TargetError", err)
	}
	if te.Message != "no such device" {
		t.Errorf("TargetError.Message = %q", te.Message)
	}

	// One request only: application rejections must not be retried.
	<-received
	select {
	case req := <-received:
		t.Errorf("unexpected retry after application error: %v", req)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCall_MalformedResponseRetriedThenFails(t *testing.T) {
	port, _ := startTCPTarget(t, `garbage`, `also garbage`)
	client := NewClient(testConfig(port, 1))
	defer client.Close()

	_, err := client.Call(context.Background(), "get_device_parameters", nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Call() error = %v, want ErrConnectionFailed", err)
	}
}

func TestCall_MalformedThenSuccessRecovers(t *testing.T) {
	port, _ := startTCPTarget(t, `garbage`, `{"status":"success","result":{"second":true}}`)
	client := NewClient(testConfig(port, 1))
	defer client.Close()

	result, err := client.Call(context.Background(), "get_device_parameters", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["second"] != true {
		t.Errorf("result = %v, want second:true", result)
	}
}

func TestCall_ConnectionRefused(t *testing.T) {
	// Grab a port with nothing listening on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	client := NewClient(testConfig(port, 1))
	defer client.Close()

	_, err = client.Call(context.Background(), "get_device_parameters", nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Call() error = %v, want ErrConnectionFailed", err)
	}
}

func TestSend_DeliversDatagram(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer func() { _ = pc.Close() }()
	port := pc.LocalAddr().(*net.UDPAddr).Port

	client := NewClient(testConfig(1, port))
	defer client.Close()

	client.Send("set_device_parameter", map[string]interface{}{"value": 0.5})

	_ = pc.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("datagram never arrived: %v", err)
	}

	var req liveproto.Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		t.Fatalf("datagram is not a request envelope: %v", err)
	}
	if req.Type != "set_device_parameter" {
		t.Errorf("datagram type = %q", req.Type)
	}
}

func TestIsCritical(t *testing.T) {
	critical := []string{"get_device_parameters", "query_tracks", "delete_clip", "undo", "redo", "record", "stop_all_clips"}
	for _, op := range critical {
		if !IsCritical(op) {
			t.Errorf("IsCritical(%q) = false, want true", op)
		}
	}

	routine := []string{"set_device_parameter", "set_volume", "trigger_clip", "stop_clip", "set_send"}
	for _, op := range routine {
		if IsCritical(op) {
			t.Errorf("IsCritical(%q) = true, want false", op)
		}
	}
}

func TestDispatch_ForcesCriticalOntoReliableChannel(t *testing.T) {
	port, received := startTCPTarget(t, `{"status":"success"}`)
	client := NewClient(testConfig(port, 1))
	defer client.Close()

	// Caller asks for fire-and-forget; the read operation must still be
	// routed over TCP.
	_, err := client.Dispatch(context.Background(), "get_device_parameters", nil, false)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	select {
	case req := <-received:
		if req.Type != "get_device_parameters" {
			t.Errorf("reliable channel got %q", req.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("critical operation never reached the reliable channel")
	}
}

func TestDispatch_RoutineOpUsesUnreliableChannel(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer func() { _ = pc.Close() }()
	udpPort := pc.LocalAddr().(*net.UDPAddr).Port

	// TCP side would refuse; a routine op must never touch it.
	client := NewClient(testConfig(1, udpPort))
	defer client.Close()

	result, err := client.Dispatch(context.Background(), "set_volume", map[string]interface{}{"track_index": 0, "value": 0.8}, false)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result != nil {
		t.Errorf("fire-and-forget dispatch returned a result: %v", result)
	}

	_ = pc.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	if _, _, err := pc.ReadFrom(buf); err != nil {
		t.Fatalf("datagram never arrived: %v", err)
	}
}

func TestReloadHost(t *testing.T) {
	client := NewClient(DefaultConfig())
	defer client.Close()

	client.ReloadHost("10.0.0.5")
	if client.Host() != "10.0.0.5" {
		t.Errorf("Host() = %q after reload", client.Host())
	}

	client.ReloadHost("")
	if client.Host() != "10.0.0.5" {
		t.Error("empty host should be ignored")
	}
}
