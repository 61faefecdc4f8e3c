package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/websoft9/webterm/internal/credential"
	"github.com/websoft9/webterm/internal/termview"
)

func TestExplainOpenError(t *testing.T) {
	dir := t.TempDir()
	missing := credential.NewFile(filepath.Join(dir, "missing"))
	missing.Current()

	emptyPath := filepath.Join(dir, "empty")
	if err := os.WriteFile(emptyPath, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	empty := credential.NewFile(emptyPath)
	empty.Current()

	for name, tc := range map[string]struct {
		file *credential.File
		want string
	}{
		"no token file":      {nil, "WEBTERM_TOKEN"},
		"missing token file": {missing, "no such file"},
		"empty token file":   {empty, "is empty"},
	} {
		t.Run(name, func(t *testing.T) {
			err := explainOpenError(termview.ErrUnauthenticated, tc.file)
			if !errors.Is(err, termview.ErrUnauthenticated) {
				t.Fatalf("err = %v, want ErrUnauthenticated", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %q, want it to mention %q", err, tc.want)
			}
		})
	}

	other := errors.New("resolve target 42: profile not found")
	if got := explainOpenError(other, missing); got != other {
		t.Fatalf("unrelated error rewritten: %v", got)
	}
}
