package inpaint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTokenSource_Unique(t *testing.T) {
	dir := t.TempDir()
	a, b := NewTokenSource(dir), NewTokenSource(dir)
	if a.Worker() == b.Worker() {
		t.Fatal("two workers share a token")
	}

	seen := make(map[string]bool)
	for _, src := range []*TokenSource{a, b} {
		for i := 0; i < 3; i++ {
			art := src.Next()
			for _, p := range []string{art.Image, art.Mask, art.Result} {
				if seen[p] {
					t.Fatalf("duplicate artifact path %s", p)
				}
				seen[p] = true
				if filepath.Dir(p) != dir || !strings.HasPrefix(filepath.Base(p), ArtifactPrefix) {
					t.Errorf("artifact %s outside %s or unprefixed", p, dir)
				}
			}
		}
	}
	art := a.Next()
	if !strings.HasSuffix(art.Image, "flux_img_"+art.Token+".png") ||
		!strings.HasSuffix(art.Mask, "flux_mask_"+art.Token+".png") ||
		!strings.HasSuffix(art.Result, "flux_out_"+art.Token+".png") {
		t.Errorf("unexpected names: %+v", art)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "flux_img_x.png")
	os.WriteFile(p, []byte("x"), 0644)

	Remove(nil, true, p)
	if _, err := os.Stat(p); err != nil {
		t.Fatal("file removed although keep was set")
	}
	Remove(newTestLogger(t), false, p, filepath.Join(dir, "missing.png"))
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Error("file not removed")
	}
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "flux_out_old-1.png")
	fresh := filepath.Join(dir, "flux_out_new-1.png")
	other := filepath.Join(dir, "keep.png")
	for _, p := range []string{old, fresh, other} {
		os.WriteFile(p, []byte("x"), 0644)
	}
	past := time.Now().Add(-2 * time.Hour)
	os.Chtimes(old, past, past)

	res, err := Sweep(context.Background(), newTestLogger(t), dir, time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Removed != 1 || res.Kept != 1 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale artifact survived")
	}
	for _, p := range []string{fresh, other} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s removed", filepath.Base(p))
		}
	}

	res, err = Sweep(context.Background(), newTestLogger(t), dir, 0)
	if err != nil || res.Removed != 1 {
		t.Errorf("Sweep(0) = %+v, %v", res, err)
	}
}

func TestSweep_Cancelled(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "flux_img_a-1.png"), []byte("x"), 0644)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Sweep(ctx, newTestLogger(t), dir, 0); err == nil {
		t.Error("expected context error")
	}
}
