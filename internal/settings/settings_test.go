package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dmrelay/pkg/logx"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func readFileState(t *testing.T, path string) fileState {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read settings file: %v", err)
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		t.Fatalf("unmarshal settings file: %v", err)
	}
	return st
}

func TestOpenMissingFileWritesDefaults(t *testing.T) {
	t.Parallel()
	_, path := openTemp(t)

	st := readFileState(t, path)
	if len(st.UserIDs) != 0 {
		t.Fatalf("expected empty user list, got %v", st.UserIDs)
	}
	if st.SendDelay != DefaultDelay.Seconds() {
		t.Fatalf("send_delay = %v, want %v", st.SendDelay, DefaultDelay.Seconds())
	}
}

func TestOpenMalformedFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Count() != 0 || s.Delay() != DefaultDelay {
		t.Fatalf("expected defaults, got count=%d delay=%v", s.Count(), s.Delay())
	}
}

func TestAddRemoveUserPersists(t *testing.T) {
	t.Parallel()
	s, path := openTemp(t)

	if !s.AddUser("123456") {
		t.Fatal("AddUser should report added")
	}
	if s.AddUser("123456") {
		t.Fatal("second AddUser should be a no-op")
	}
	if !s.Authorized(123456) {
		t.Fatal("123456 should be authorized")
	}

	st := readFileState(t, path)
	if len(st.UserIDs) != 1 || st.UserIDs[0] != "123456" {
		t.Fatalf("persisted users = %v", st.UserIDs)
	}

	// A fresh load sees the same set.
	s2, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !s2.Authorized(123456) {
		t.Fatal("reloaded store should keep the user")
	}

	if s.RemoveUser("999") {
		t.Fatal("removing unknown user should report not present")
	}
	if !s.RemoveUser("123456") {
		t.Fatal("RemoveUser should report removed")
	}
	if s.Authorized(123456) {
		t.Fatal("user should be gone")
	}
}

func TestSetDelayEnforcesMinimum(t *testing.T) {
	t.Parallel()
	s, path := openTemp(t)

	if err := s.SetDelay(100 * time.Millisecond); err != ErrBelowMinimum {
		t.Fatalf("err = %v, want ErrBelowMinimum", err)
	}
	if s.Delay() != DefaultDelay {
		t.Fatalf("delay changed on rejected set: %v", s.Delay())
	}

	if err := s.SetDelay(MinDelay); err != nil {
		t.Fatalf("SetDelay at minimum: %v", err)
	}
	if s.Delay() != MinDelay {
		t.Fatalf("delay = %v, want %v", s.Delay(), MinDelay)
	}

	st := readFileState(t, path)
	if st.SendDelay != MinDelay.Seconds() {
		t.Fatalf("persisted send_delay = %v", st.SendDelay)
	}
}

func TestReloadReplacesState(t *testing.T) {
	t.Parallel()
	s, path := openTemp(t)
	s.AddUser("1")

	data := `{"user_ids": ["42", "43"], "send_delay": 2.5}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if s.Authorized(1) {
		t.Fatal("old user should be gone after reload")
	}
	if !s.Authorized(42) || !s.Authorized(43) {
		t.Fatal("reloaded users missing")
	}
	if s.Delay() != 2500*time.Millisecond {
		t.Fatalf("delay = %v", s.Delay())
	}
}

func TestUsersSorted(t *testing.T) {
	t.Parallel()
	s, _ := openTemp(t)
	s.AddUser("30")
	s.AddUser("10")
	s.AddUser("20")
	got := s.Users()
	want := []string{"10", "20", "30"}
	if len(got) != len(want) {
		t.Fatalf("Users() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Users() = %v, want %v", got, want)
		}
	}
}
