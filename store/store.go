// Package store is the relational persistence layer: users, chat records and
// mock exams over a pure-Go SQLite database (modernc.org/sqlite, no CGO).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Open opens (or creates) the database at path with WAL mode, foreign key
// enforcement and a busy timeout. Use ":memory:" in tests.
func Open(path string) (*sql.DB, error) {
	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %q: %w", path, err)
	}
	return db, nil
}

// Store wraps the shared database with typed accessors.
type Store struct {
	db *sql.DB
}

// New binds the store to an open database and creates its schema.
func New(db *sql.DB) (*Store, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('student','teacher','admin')) DEFAULT 'student',
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);

		CREATE TABLE IF NOT EXISTS chat_records (
			qa_id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			token_size INTEGER NOT NULL DEFAULT 0,
			sent_by TEXT NOT NULL,
			file_ids TEXT NOT NULL DEFAULT '[]',
			rating INTEGER,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_chat_records_chat ON chat_records(chat_id, created_at);

		CREATE TABLE IF NOT EXISTS exams (
			exam_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL DEFAULT 60,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);

		CREATE TABLE IF NOT EXISTS exam_questions (
			question_id TEXT PRIMARY KEY,
			exam_id TEXT NOT NULL REFERENCES exams(exam_id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			options TEXT NOT NULL DEFAULT '[]',
			answer TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_exam_questions_exam ON exam_questions(exam_id, position);

		CREATE TABLE IF NOT EXISTS exam_submissions (
			submission_id TEXT PRIMARY KEY,
			exam_id TEXT NOT NULL REFERENCES exams(exam_id),
			user_id TEXT NOT NULL,
			answers TEXT NOT NULL DEFAULT '[]',
			submitted_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_exam_submissions_exam ON exam_submissions(exam_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// User is one account row.
type User struct {
	UserID       string
	Username     string
	PasswordHash string
	Role         string
}

// CreateUser inserts a new account and returns its generated id.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, role string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, password_hash, role) VALUES (?, ?, ?, ?)
	`, id, username, passwordHash, role)
	if err != nil {
		return "", fmt.Errorf("store: create user: %w", err)
	}
	return id, nil
}

// UserByUsername fetches an account by username.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, password_hash, role FROM users WHERE username = ?
	`, username).Scan(&u.UserID, &u.Username, &u.PasswordHash, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: user by username: %w", err)
	}
	return &u, nil
}

// ChatRecord is one answered question in a chatroom.
type ChatRecord struct {
	QAID      string
	ChatID    string
	Question  string
	Answer    string
	TokenSize int
	SentBy    string
	FileIDs   []string
}

// InsertChatRecord persists one (question, answer) pair with its token count
// and the source file references of the retrieved chunks.
func (s *Store) InsertChatRecord(ctx context.Context, rec ChatRecord) error {
	fileIDs, err := json.Marshal(rec.FileIDs)
	if err != nil {
		return fmt.Errorf("store: marshal file ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_records (qa_id, chat_id, question, answer, token_size, sent_by, file_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.QAID, rec.ChatID, rec.Question, rec.Answer, rec.TokenSize, rec.SentBy, string(fileIDs))
	if err != nil {
		return fmt.Errorf("store: insert chat record: %w", err)
	}
	return nil
}

// UpdateRating records the user's thumbs up/down on an answer. Returns
// ErrNotFound if the question does not exist.
func (s *Store) UpdateRating(ctx context.Context, qaID string, rating bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_records SET rating = ? WHERE qa_id = ?
	`, rating, qaID)
	if err != nil {
		return fmt.Errorf("store: update rating: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ChatHistory returns the (question, answer) turns of a chatroom in order,
// flattened to the alternating user/assistant sequence the formatter expects.
func (s *Store) ChatHistory(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question, answer FROM chat_records WHERE chat_id = ? ORDER BY created_at
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: chat history: %w", err)
	}
	defer rows.Close()

	var history []string
	for rows.Next() {
		var question, answer string
		if err := rows.Scan(&question, &answer); err != nil {
			return nil, err
		}
		history = append(history, question, answer)
	}
	return history, rows.Err()
}

// Exam is one mock exam with its question count.
type Exam struct {
	ExamID          string `json:"exam_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	QuestionCount   int    `json:"question_count"`
}

// Question is one exam question. Answer is withheld from student-facing
// responses by the handler layer.
type Question struct {
	QuestionID string   `json:"question_id"`
	Content    string   `json:"content"`
	Options    []string `json:"options"`
	Answer     string   `json:"-"`
}

// CreateExam inserts an exam and its questions in one transaction.
func (s *Store) CreateExam(ctx context.Context, name string, durationMinutes int, questions []Question) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	examID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO exams (exam_id, name, duration_minutes) VALUES (?, ?, ?)
	`, examID, name, durationMinutes); err != nil {
		return "", fmt.Errorf("store: create exam: %w", err)
	}
	for i, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return "", fmt.Errorf("store: marshal options: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exam_questions (question_id, exam_id, content, options, answer, position)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), examID, q.Content, string(options), q.Answer, i); err != nil {
			return "", fmt.Errorf("store: insert question: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return examID, nil
}

// ListExams returns all exams with their question counts.
func (s *Store) ListExams(ctx context.Context) ([]Exam, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.exam_id, e.name, e.duration_minutes, COUNT(q.question_id)
		FROM exams e LEFT JOIN exam_questions q ON q.exam_id = e.exam_id
		GROUP BY e.exam_id ORDER BY e.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list exams: %w", err)
	}
	defer rows.Close()

	var exams []Exam
	for rows.Next() {
		var e Exam
		if err := rows.Scan(&e.ExamID, &e.Name, &e.DurationMinutes, &e.QuestionCount); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ExamQuestions returns the questions of an exam in position order.
func (s *Store) ExamQuestions(ctx context.Context, examID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, content, options, answer
		FROM exam_questions WHERE exam_id = ? ORDER BY position
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("store: exam questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var (
			q       Question
			options string
		)
		if err := rows.Scan(&q.QuestionID, &q.Content, &options, &q.Answer); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return nil, fmt.Errorf("store: unmarshal options: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// InsertSubmission stores a student's raw answers for an exam. No scoring
// happens here; submissions are kept verbatim for later review.
func (s *Store) InsertSubmission(ctx context.Context, examID, userID string, answers []string) (string, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("store: marshal answers: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exam_submissions (submission_id, exam_id, user_id, answers, submitted_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, examID, userID, string(raw), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("store: insert submission: %w", err)
	}
	return id, nil
}
