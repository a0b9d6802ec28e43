package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestLocalStore_SaveAndOpen(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	data := []byte("RIFF....WAVE")
	if err := store.Save(ctx, "sess-1/q-1/audio.wav", data, "audio/wav"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !store.Exists(ctx, "sess-1/q-1/audio.wav") {
		t.Error("Exists = false after Save")
	}

	rc, err := store.Open(ctx, "sess-1/q-1/audio.wav")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Errorf("read back %q, want %q", got, data)
	}
}

func TestLocalStore_LocalPath(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if p := store.LocalPath("missing.wav"); p != "" {
		t.Errorf("LocalPath(missing) = %q, want empty", p)
	}

	if err := store.Save(context.Background(), "a/b.wav", []byte("x"), "audio/wav"); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "a", "b.wav")
	if p := store.LocalPath("a/b.wav"); p != want {
		t.Errorf("LocalPath = %q, want %q", p, want)
	}
}

func TestLocalStore_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(context.Background(), "x.webm", []byte("v"), "video/webm"); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "x.webm" {
			t.Errorf("unexpected leftover file %q", e.Name())
		}
	}
}

func TestAsyncUploader_UploadsAndCounts(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	u := NewAsyncUploader(store, 8, zerolog.Nop())
	u.Start(2)

	u.Enqueue("a.wav", []byte("1"), "audio/wav")
	u.Enqueue("b.wav", []byte("2"), "audio/wav")
	u.Stop()

	uploaded, failed := u.Counts()
	if uploaded != 2 || failed != 0 {
		t.Errorf("counts = %d/%d, want 2/0", uploaded, failed)
	}
	if !store.Exists(context.Background(), "a.wav") || !store.Exists(context.Background(), "b.wav") {
		t.Error("uploaded artifacts not present in target store")
	}
}

func TestAsyncUploader_EnqueueAfterStopIsNoop(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	u := NewAsyncUploader(store, 1, zerolog.Nop())
	u.Start(1)
	u.Stop()

	// Must not panic on the closed channel.
	u.Enqueue("late.wav", []byte("x"), "audio/wav")
	if store.Exists(context.Background(), "late.wav") {
		t.Error("artifact uploaded after Stop")
	}
}

func TestAsyncUploader_StopDuringEnqueue(t *testing.T) {
	// A capture finalizing during shutdown can call Enqueue while the main
	// goroutine calls Stop. Neither may panic or race.
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 500; i++ {
		u := NewAsyncUploader(store, 2, zerolog.Nop())
		u.Start(1)

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 8; j++ {
					u.Enqueue("race.wav", []byte("x"), "audio/wav")
				}
			}()
		}
		u.Stop()
		wg.Wait()
		u.Stop() // second Stop must also be safe
	}
}
