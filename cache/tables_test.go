package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/gobitfly/tabletstore/types"
)

func TestTableCache(t *testing.T) {
	c, err := NewTableCache(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		c.Add(&types.TableMeta{Name: fmt.Sprintf("t%d", i), ID: fmt.Sprintf("tbl_%d", i)})
	}
	if got, want := c.Len(), 2; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	if _, ok := c.Get("t0"); ok {
		t.Error("t0 should have been evicted")
	}
	meta, ok := c.Get("t2")
	if !ok {
		t.Fatal("t2 missing")
	}
	if got, want := meta.ID, "tbl_2"; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	c.Remove("t2")
	if _, ok := c.Get("t2"); ok {
		t.Error("t2 should have been removed")
	}
	c.Purge()
	if got, want := c.Len(), 0; got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestTableCacheExpiry(t *testing.T) {
	c, err := NewTableCache(8, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Add(&types.TableMeta{Name: "users"})
	now = now.Add(30 * time.Second)
	if _, ok := c.Get("users"); !ok {
		t.Error("entry expired too early")
	}
	now = now.Add(time.Minute)
	if _, ok := c.Get("users"); ok {
		t.Error("entry should have expired")
	}
	if got, want := c.Len(), 0; got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestNewTableCacheInvalidSize(t *testing.T) {
	if _, err := NewTableCache(0, 0); err == nil {
		t.Error("expected error for size 0")
	}
}
