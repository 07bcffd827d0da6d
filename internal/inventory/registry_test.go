package inventory

import (
	"context"
	"strings"
	"testing"
)

type fakeSource struct{ hosts []Host }

func (f fakeSource) Name() string { return "fake" }

func (f fakeSource) Hosts(ctx context.Context) ([]Host, error) { return f.hosts, nil }

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(fakeSource{hosts: []Host{{Addr: "10.0.0.1", User: "root"}}})
	src, err := reg.Get("fake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	hosts, _ := src.Hosts(context.Background())
	if len(hosts) != 1 {
		t.Fatalf("expected 1 host, got %d", len(hosts))
	}
	if _, err := reg.Get("missing"); err == nil || !strings.Contains(err.Error(), `unknown inventory "missing" (want fake)`) {
		t.Fatalf("unexpected error for unknown source: %v", err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "fake" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestHostAddress(t *testing.T) {
	h := Host{Addr: "10.0.0.1", User: "root"}
	if h.Address() != "10.0.0.1:22" {
		t.Fatalf("default port not applied: %s", h.Address())
	}
	h.Port = 2222
	if h.String() != "root@10.0.0.1:2222" {
		t.Fatalf("unexpected string %s", h.String())
	}
}
