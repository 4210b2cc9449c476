package store

import (
	"context"
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, "alice", "hash", "student")
	if err != nil {
		t.Fatal(err)
	}
	u, err := s.UserByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.UserID != id || u.Role != "student" || u.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := s.UserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.CreateUser(ctx, "alice", "other", "student"); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestChatRecordsAndRating(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := ChatRecord{
		QAID:      "qa-1",
		ChatID:    "chat-1",
		Question:  "What is entropy?",
		Answer:    "A measure of disorder.",
		TokenSize: 42,
		SentBy:    "alice",
		FileIDs:   []string{"f1", "f2"},
	}
	if err := s.InsertChatRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateRating(ctx, "qa-1", true); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRating(ctx, "qa-unknown", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChatHistoryOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, qa := range []ChatRecord{
		{QAID: "qa-1", ChatID: "c", Question: "q1", Answer: "a1", SentBy: "u"},
		{QAID: "qa-2", ChatID: "c", Question: "q2", Answer: "a2", SentBy: "u"},
	} {
		qa.TokenSize = i
		if err := s.InsertChatRecord(ctx, qa); err != nil {
			t.Fatal(err)
		}
	}

	history, err := s.ChatHistory(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"q1", "a1", "q2", "a2"}
	if len(history) != len(want) {
		t.Fatalf("history length %d, want %d", len(history), len(want))
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("history[%d] = %q, want %q", i, history[i], want[i])
		}
	}
}

func TestExams(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	examID, err := s.CreateExam(ctx, "Midterm", 90, []Question{
		{Content: "1+1?", Options: []string{"1", "2"}, Answer: "2"},
		{Content: "2+2?", Options: []string{"3", "4"}, Answer: "4"},
	})
	if err != nil {
		t.Fatal(err)
	}

	exams, err := s.ListExams(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(exams) != 1 || exams[0].QuestionCount != 2 || exams[0].Name != "Midterm" {
		t.Fatalf("unexpected exams: %+v", exams)
	}

	questions, err := s.ExamQuestions(ctx, examID)
	if err != nil {
		t.Fatal(err)
	}
	if len(questions) != 2 || questions[0].Content != "1+1?" || questions[1].Answer != "4" {
		t.Fatalf("unexpected questions: %+v", questions)
	}

	if _, err := s.InsertSubmission(ctx, examID, "user-1", []string{"2", "4"}); err != nil {
		t.Fatal(err)
	}
}
