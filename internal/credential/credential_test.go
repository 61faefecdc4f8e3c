package credential

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStatic(t *testing.T) {
	if tok, ok := Static(" abc \n").Current(); !ok || tok != "abc" {
		t.Fatalf("Current() = %q, %v", tok, ok)
	}
	if _, ok := Static("").Current(); ok {
		t.Fatal("empty static token reported as available")
	}
}

func TestFileIsReReadOnEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	f := NewFile(path)

	if _, ok := f.Current(); ok {
		t.Fatal("missing file reported a credential")
	}
	if f.Err() == nil {
		t.Fatal("expected read error for missing file")
	}

	if err := os.WriteFile(path, []byte("tok-1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, ok := f.Current(); !ok || tok != "tok-1" {
		t.Fatalf("Current() = %q, %v", tok, ok)
	}

	if err := os.WriteFile(path, []byte("tok-2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := f.Current(); tok != "tok-2" {
		t.Fatalf("refreshed token = %q, want tok-2", tok)
	}
	if f.Err() != nil {
		t.Fatalf("Err() = %v", f.Err())
	}
}

func TestChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	c := Chain{nil, NewFile(path), Static("fallback")}

	if tok, _ := c.Current(); tok != "fallback" {
		t.Fatalf("Current() = %q, want fallback", tok)
	}
	if err := os.WriteFile(path, []byte("from-file"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := c.Current(); tok != "from-file" {
		t.Fatalf("Current() = %q, want from-file", tok)
	}
	if _, ok := (Chain{}).Current(); ok {
		t.Fatal("empty chain reported a credential")
	}
}
