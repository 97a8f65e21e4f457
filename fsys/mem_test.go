package fsys

import (
	"errors"
	"testing"
)

func TestMemReadWrite(t *testing.T) {
	t.Parallel()
	m := NewMem()

	if _, err := m.ReadFile("/a/b.json"); !NotExist(err) {
		t.Fatalf("error = %v, want not-exist", err)
	}

	if err := m.WriteFile("/a/b.json", []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := m.ReadFile("/a/b.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "data" {
		t.Fatalf("ReadFile = %q, want data", got)
	}

	// Returned slice is a copy; mutating it must not affect the store.
	got[0] = 'X'
	again, _ := m.ReadFile("/a/b.json")
	if string(again) != "data" {
		t.Fatal("ReadFile returned a live reference to internal state")
	}
}

func TestMemWriteErr(t *testing.T) {
	t.Parallel()
	m := NewMem()
	m.WriteErr = errors.New("disk full")

	if err := m.WriteFile("/a", []byte("x"), 0o644); err == nil {
		t.Fatal("expected injected write error")
	}
	if _, err := m.ReadFile("/a"); !NotExist(err) {
		t.Fatal("failed write must not leave a file behind")
	}
}

func TestMemStat(t *testing.T) {
	t.Parallel()
	m := NewMem()

	if err := m.MkdirAll("/root/.loom", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	info, err := m.Stat("/root/.loom")
	if err != nil {
		t.Fatalf("Stat dir: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("created directory does not stat as a directory")
	}

	if err := m.WriteFile("/root/.loom/state.json", []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err = m.Stat("/root/.loom/state.json")
	if err != nil {
		t.Fatalf("Stat file: %v", err)
	}
	if info.IsDir() || info.Size() != 2 {
		t.Fatalf("file stat = dir:%v size:%d, want file of 2 bytes", info.IsDir(), info.Size())
	}

	// A file implies its parent directories.
	if info, err = m.Stat("/root"); err != nil || !info.IsDir() {
		t.Fatalf("implied parent = (%v, %v), want directory", info, err)
	}

	if _, err := m.Stat("/missing"); !NotExist(err) {
		t.Fatalf("error = %v, want not-exist", err)
	}
}

func TestMemRemove(t *testing.T) {
	t.Parallel()
	m := NewMem()

	if err := m.WriteFile("/f", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.Remove("/f"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !NotExist(m.Remove("/f")) {
		t.Fatal("removing an absent file must report not-exist")
	}
}
