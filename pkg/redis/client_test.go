package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewClientFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClientFromURL(context.Background(), "redis://"+mr.Addr()+"/1")
	if err != nil {
		t.Fatalf("NewClientFromURL: %v", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.DB(1).Get("k"); got != "v" {
		t.Fatalf("expected value in db 1, got %q", got)
	}
}

func TestNewClientFromURLErrors(t *testing.T) {
	if _, err := NewClientFromURL(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewClientFromURL(context.Background(), "http://nope"); err == nil {
		t.Fatal("expected error for non-redis scheme")
	}
}

func TestNewUniversalClientSingle(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewUniversalClient(context.Background(), Config{Mode: ModeSingle, Addrs: []string{mr.Addr()}})
	if err != nil {
		t.Fatalf("NewUniversalClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	if _, err := NewUniversalClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without addresses")
	}
}
