package cas

import (
	"bytes"
	"errors"
	"os"
	"testing"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	content := []byte(`(function(){var implementors = Object.fromEntries([["a",[]]]);})()`)
	hash, err := Write(content)
	if err != nil {
		t.Fatal(err)
	}
	if hash != Hash(content) {
		t.Fatalf("hash = %q, want %q", hash, Hash(content))
	}

	got, err := Read(hash)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("round-trip failed: got %q, want %q", got, content)
	}
}

func TestWrite_Dedup(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	content := []byte("duplicate content")
	hash1, err := Write(content)
	if err != nil {
		t.Fatal(err)
	}
	hash2, err := Write(content)
	if err != nil {
		t.Fatal(err)
	}
	if hash1 != hash2 {
		t.Errorf("same content produced different hashes: %s vs %s", hash1, hash2)
	}
}

func TestWrite_DifferentContent(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	hash1, err := Write([]byte("content A"))
	if err != nil {
		t.Fatal(err)
	}
	hash2, err := Write([]byte("content B"))
	if err != nil {
		t.Fatal(err)
	}
	if hash1 == hash2 {
		t.Error("different content should produce different hashes")
	}
}

func TestWrite_Empty(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	hash, err := Write(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Read(hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty content, got %q", got)
	}
}

func TestRead_MissingHash(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	_, err := Read("0000000000000000000000000000000000000000000000000000000000000000")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestRead_InvalidHash(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	if _, err := Read("ab"); err == nil {
		t.Fatal("expected error for short hash")
	}
}

func TestClear(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	hash, err := Write([]byte("gone soon"))
	if err != nil {
		t.Fatal(err)
	}
	if err := Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(hash); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected blob removed, got %v", err)
	}
}
