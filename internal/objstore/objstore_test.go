package objstore

import (
	"testing"
)

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	var plan Plan
	ref, err := st.Append(&plan, 3, []byte("hello world"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Commit(plan); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := st.Read(ref)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("Read = %q, want %q", got, "hello world")
	}
}

func TestRecoverAfterReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var plan Plan
	ref, err := st.Append(&plan, 0, []byte("durable"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Commit(plan); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	st.Close()

	st2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, err := st2.Read(ref)
	if err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if string(got) != "durable" {
		t.Errorf("Read = %q, want %q", got, "durable")
	}
}

func TestWritePlanFaultInjection(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	st.SetWritePlanTest(true, 1) // always fail

	var plan Plan
	if _, err := st.Append(&plan, 0, []byte("partial")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Commit(plan); err == nil {
		t.Fatal("expected injected failure")
	}

	st.SetWritePlanTest(false, 0)

	// The journal survives the injected failure; reopening must replay it
	// to completion rather than leaving the store half-written.
	st.Close()
	st2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen after injected failure: %v", err)
	}
	defer st2.Close()

	var plan2 Plan
	ref, err := st2.Append(&plan2, 1, []byte("after recovery"))
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if err := st2.Commit(plan2); err != nil {
		t.Fatalf("Commit after recovery: %v", err)
	}
	got, err := st2.Read(ref)
	if err != nil || string(got) != "after recovery" {
		t.Fatalf("Read after recovery = %q, %v", got, err)
	}
}
