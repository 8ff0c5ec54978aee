package store

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(afero.NewMemMapFs(), "/data/calendars")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return st
}

func TestWriteReadRoundTrip(t *testing.T) {
	st := newTestStore(t)

	doc := "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	if err := st.Write("primary", doc); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := st.Read("primary")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != doc {
		t.Errorf("Read() = %q, want %q", got, doc)
	}
}

func TestWriteReplacesPrevious(t *testing.T) {
	st := newTestStore(t)

	if err := st.Write("primary", "old"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := st.Write("primary", "new"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := st.Read("primary")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != "new" {
		t.Errorf("Read() = %q after overwrite", got)
	}
}

func TestHas(t *testing.T) {
	st := newTestStore(t)

	if st.Has("primary") {
		t.Errorf("Has() = true before any write")
	}
	if err := st.Write("primary", "doc"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !st.Has("primary") {
		t.Errorf("Has() = false after write")
	}
	if st.Has("secondary") {
		t.Errorf("Has() = true for identity never written")
	}
}

func TestPathLayout(t *testing.T) {
	st := newTestStore(t)

	got := st.Path("primary")
	if !strings.HasSuffix(got, "primary.ics") {
		t.Errorf("Path() = %q, want <dir>/primary.ics", got)
	}
}

func TestReadMissingIdentity(t *testing.T) {
	st := newTestStore(t)

	if _, err := st.Read("ghost"); err == nil {
		t.Errorf("Read() of missing identity must fail")
	}
}
