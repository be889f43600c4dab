package sender

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/atxtak/cotbridge/internal/config"
	"github.com/atxtak/cotbridge/internal/utils"
)

func takConfig(addr string) config.TAKConfig {
	return config.TAKConfig{
		URL:          "tcp://" + addr,
		QueueSize:    4,
		WriteTimeout: time.Second,
		DialTimeout:  time.Second,
	}
}

func TestTAKSenderDeliversOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	lines := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	s, err := NewTAKSender(takConfig(ln.Addr().String()), nil)
	if err != nil {
		t.Fatalf("NewTAKSender: %v", err)
	}
	defer s.Close()

	payload := []byte(`<event version="2.0" uid="austin.fire.F-1"></event>`)
	if err := s.Deliver(context.Background(), payload); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	select {
	case got := <-lines:
		if got != string(payload) {
			t.Fatalf("received %q, want %q", got, payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("payload never reached the listener")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !s.Healthy() {
		if time.Now().After(deadline) {
			t.Fatal("sender never reported healthy after successful write")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTAKSenderQueueFull(t *testing.T) {
	// Point at a closed listener so nothing drains the queue.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := takConfig(addr)
	cfg.QueueSize = 2
	s, err := NewTAKSender(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	var full error
	for i := 0; i < 10 && full == nil; i++ {
		full = s.Deliver(ctx, []byte("x"))
	}
	if full == nil {
		t.Fatal("expected queue-full error with no consumer")
	}
	if kind := utils.KindOf(full); kind != utils.KindDelivery {
		t.Fatalf("kind = %s, want delivery", kind)
	}
	if s.Healthy() {
		t.Error("sender healthy with no connection")
	}
}

func TestTAKSenderRejectsBadURL(t *testing.T) {
	cases := []string{
		"http://example.test:8089",
		"tcp://",
		"not a url at\nall",
	}
	for _, url := range cases {
		if _, err := NewTAKSender(config.TAKConfig{URL: url}, nil); err == nil {
			t.Errorf("URL %q accepted", url)
		}
	}
}

func TestNopSenderCaptures(t *testing.T) {
	s := &NopSender{}
	if err := s.Deliver(context.Background(), []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(context.Background(), []byte("b")); err != nil {
		t.Fatal(err)
	}
	if len(s.Delivered) != 2 || string(s.Delivered[0]) != "a" || string(s.Delivered[1]) != "b" {
		t.Fatalf("captured %q", s.Delivered)
	}
	if !s.Healthy() {
		t.Error("nop sender must report healthy")
	}
}
