package taskmon

import (
	"testing"
	"time"
)

func page(id string) Page {
	return Page{ID: id, Title: id, Type: PageTypeLog, Timestamp: time.Now()}
}

func TestUpsertAppendsAndReplacesInPlace(t *testing.T) {
	s := NewPageStore()

	if idx := s.Upsert("t1", page("a")); idx != 0 {
		t.Fatalf("idx = %d, want 0", idx)
	}
	if idx := s.Upsert("t1", page("b")); idx != 1 {
		t.Fatalf("idx = %d, want 1", idx)
	}

	replaced := page("a")
	replaced.Title = "updated"
	if idx := s.Upsert("t1", replaced); idx != 0 {
		t.Fatalf("replace idx = %d, want 0", idx)
	}

	pages := s.Pages("t1")
	if len(pages) != 2 {
		t.Fatalf("len = %d, want 2", len(pages))
	}
	if pages[0].Title != "updated" {
		t.Fatalf("title = %q, want updated", pages[0].Title)
	}
}

func TestUpsertCopyOnWrite(t *testing.T) {
	s := NewPageStore()
	s.Upsert("t1", page("a"))
	before := s.Pages("t1")

	s.Upsert("t1", page("b"))
	if len(before) != 1 {
		t.Fatalf("earlier snapshot mutated: len = %d, want 1", len(before))
	}
}

func TestReconcilePinsTodoFirst(t *testing.T) {
	s := NewPageStore()
	s.Upsert("t1", page("tool-shell-0"))
	s.Upsert("t1", page(PageIDTodoPlan))
	s.Upsert("t1", page("tool-shell-1"))

	s.Reconcile("t1")
	pages := s.Pages("t1")
	if pages[0].ID != PageIDTodoPlan {
		t.Fatalf("first page = %q, want %q", pages[0].ID, PageIDTodoPlan)
	}
	if pages[1].ID != "tool-shell-0" || pages[2].ID != "tool-shell-1" {
		t.Fatalf("relative order broken: %q, %q", pages[1].ID, pages[2].ID)
	}

	// 幂等
	s.Reconcile("t1")
	again := s.Pages("t1")
	for i := range pages {
		if again[i].ID != pages[i].ID {
			t.Fatalf("reconcile not idempotent at %d: %q != %q", i, again[i].ID, pages[i].ID)
		}
	}
}

func TestReconcileWithoutTodoIsNoop(t *testing.T) {
	s := NewPageStore()
	s.Upsert("t1", page("x"))
	s.Upsert("t1", page("y"))
	s.Reconcile("t1")

	pages := s.Pages("t1")
	if pages[0].ID != "x" || pages[1].ID != "y" {
		t.Fatalf("order changed: %q, %q", pages[0].ID, pages[1].ID)
	}
}

func TestSetCursorClamps(t *testing.T) {
	s := NewPageStore()
	s.Upsert("t1", page("a"))
	s.Upsert("t1", page("b"))

	tests := []struct {
		in   int
		want int
	}{
		{-5, 0},
		{0, 0},
		{1, 1},
		{99, 1},
	}
	for _, tt := range tests {
		got := s.SetCursor("t1", Cursor{Index: tt.in})
		if got.Index != tt.want {
			t.Fatalf("SetCursor(%d).Index = %d, want %d", tt.in, got.Index, tt.want)
		}
	}
}

func TestSetCursorEmptyTask(t *testing.T) {
	s := NewPageStore()
	got := s.SetCursor("t1", Cursor{Index: 3, Live: true})
	if got.Index != 0 {
		t.Fatalf("Index = %d, want 0", got.Index)
	}
}

func TestCursorDefaultsToLive(t *testing.T) {
	s := NewPageStore()
	c := s.Cursor("unseen")
	if !c.Live || c.Index != 0 {
		t.Fatalf("cursor = %+v, want live at 0", c)
	}
}

func TestResetCursorKeepsPages(t *testing.T) {
	s := NewPageStore()
	s.Upsert("t1", page("a"))
	s.SetCursor("t1", Cursor{Index: 0, Live: false})

	s.ResetCursor("t1")
	c := s.Cursor("t1")
	if !c.Live || c.Index != 0 {
		t.Fatalf("cursor = %+v, want live at 0", c)
	}
	if s.Count("t1") != 1 {
		t.Fatalf("pages dropped on reset: count = %d", s.Count("t1"))
	}
}

func TestDropTask(t *testing.T) {
	s := NewPageStore()
	s.Upsert("t1", page("a"))
	s.DropTask("t1")
	if s.Count("t1") != 0 {
		t.Fatalf("count = %d, want 0", s.Count("t1"))
	}
}
