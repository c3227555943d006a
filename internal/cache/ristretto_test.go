package cache

import (
	"context"
	"testing"
	"time"

	"github.com/imaxisXD/ndle-worker/internal/link"
)

func TestRistretto(t *testing.T) {
	ctx := context.Background()

	newCache := func(t *testing.T, cfg RistrettoConfig) *Ristretto {
		t.Helper()
		c, err := NewRistretto(cfg)
		if err != nil {
			t.Fatalf("NewRistretto() error = %v", err)
		}
		t.Cleanup(c.Close)
		return c
	}

	t.Run("miss returns nil without error", func(t *testing.T) {
		c := newCache(t, RistrettoConfig{})

		entry, err := c.Match(ctx, "https://sho.example/none")
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if entry != nil {
			t.Errorf("Match() = %+v, want nil", entry)
		}
	})

	t.Run("put then match round-trips the entry", func(t *testing.T) {
		c := newCache(t, RistrettoConfig{})

		want := &Entry{
			Location: "https://dst.example/landing?utm_source=x",
			Status:   302,
			Record:   &link.Record{Slug: "landing", Destination: "https://dst.example/landing", IsActive: true},
		}
		if err := c.Put(ctx, "https://sho.example/landing", want); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		c.Wait()

		got, err := c.Match(ctx, "https://sho.example/landing")
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if got == nil {
			t.Fatal("Match() = nil after Put")
		}
		if got.Location != want.Location || got.Status != want.Status {
			t.Errorf("Match() = %+v, want %+v", got, want)
		}
		if got.Record == nil || got.Record.Slug != "landing" {
			t.Errorf("Match() record = %+v, want snapshot", got.Record)
		}
	})

	t.Run("nil entry is rejected", func(t *testing.T) {
		c := newCache(t, RistrettoConfig{})

		if err := c.Put(ctx, "k", nil); err == nil {
			t.Error("Put(nil) should fail")
		}
	})

	t.Run("entries expire after the configured TTL", func(t *testing.T) {
		c := newCache(t, RistrettoConfig{TTL: 50 * time.Millisecond})

		if err := c.Put(ctx, "short-lived", &Entry{Location: "https://dst.example", Status: 302}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		c.Wait()

		if entry, _ := c.Match(ctx, "short-lived"); entry == nil {
			t.Fatal("Match() = nil immediately after Put")
		}

		time.Sleep(120 * time.Millisecond)

		if entry, _ := c.Match(ctx, "short-lived"); entry != nil {
			t.Errorf("Match() = %+v after TTL, want nil", entry)
		}
	})
}
