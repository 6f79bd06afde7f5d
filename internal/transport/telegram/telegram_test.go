package telegram

import (
	"path/filepath"
	"strings"
	"testing"

	"dmrelay/internal/settings"
	"dmrelay/pkg/logx"
)

func openStore(t *testing.T) *settings.Store {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"), logx.Nop())
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	return store
}

func TestCheckRequestAuthorizesBeforeParsing(t *testing.T) {
	t.Parallel()
	store := openStore(t)

	// Unauthorized callers get the rejection regardless of their input;
	// no usage text leaks to them.
	_, reject := checkRequest(store, 7, "not-a-user-id")
	if !strings.Contains(reject, "not authorized") {
		t.Fatalf("reject = %q, want authorization rejection", reject)
	}
	if strings.Contains(reject, "usage:") {
		t.Fatalf("usage text leaked to unauthorized caller: %q", reject)
	}

	store.AddUser("7")

	_, reject = checkRequest(store, 7, "garbage")
	if !strings.Contains(reject, "usage:") {
		t.Fatalf("reject = %q, want usage message", reject)
	}

	_, reject = checkRequest(store, 7, "123456 hi --count=99")
	if !strings.Contains(reject, "between 1 and") {
		t.Fatalf("reject = %q, want bounds rejection", reject)
	}

	req, reject := checkRequest(store, 7, "123456 hi --count=3")
	if reject != "" {
		t.Fatalf("unexpected rejection: %q", reject)
	}
	if req.AuthorID != 7 || req.TargetID != 123456 || req.Count != 3 || req.Text != "hi" {
		t.Fatalf("request = %+v", req)
	}
}
