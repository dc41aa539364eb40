package testutil

import (
	"net"
	"testing"
)

func TestListen(t *testing.T) {
	ln := Listen(t)
	port := Port(ln)
	if port == 0 {
		t.Fatal("expected an ephemeral port")
	}

	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}
