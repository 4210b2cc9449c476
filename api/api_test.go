package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/akinoalice/examrag/auth"
	"github.com/akinoalice/examrag/embedder"
	"github.com/akinoalice/examrag/llm"
	"github.com/akinoalice/examrag/rag"
	"github.com/akinoalice/examrag/store"
	"github.com/akinoalice/examrag/vectorstore"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSearcher returns canned results regardless of the query vector and
// captures upserted documents.
type fakeSearcher struct {
	results  []vectorstore.Result
	upserted map[string][]vectorstore.Document
}

func (f *fakeSearcher) Search(context.Context, []float32, string, int) ([]vectorstore.Result, error) {
	return f.results, nil
}

func (f *fakeSearcher) Upsert(_ context.Context, collection string, docs []vectorstore.Document) error {
	if f.upserted == nil {
		f.upserted = map[string][]vectorstore.Document{}
	}
	f.upserted[collection] = append(f.upserted[collection], docs...)
	return nil
}

func newTestService(t *testing.T, orch *rag.Orchestrator, results []vectorstore.Result) (*Service, *store.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.New(db)
	if err != nil {
		t.Fatal(err)
	}

	emb, err := embedder.New(embedder.ModeNone, embedder.Config{Dim: 8, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if orch == nil {
		orch, err = rag.NewOrchestratorWith(llm.ModeNone, llm.Config{Logger: testLogger()}, testLogger())
		if err != nil {
			t.Fatal(err)
		}
	}
	fs := &fakeSearcher{results: results}
	svc := New(testLogger(), st, emb, fs, fs, orch, testSecret)
	return svc, st
}

func newTestServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	svc.RegisterHTTP(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func tokenFor(t *testing.T, userID, username, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, &auth.Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestLoginFlow(t *testing.T) {
	svc, st := newTestService(t, nil, nil)
	srv := newTestServer(t, svc)

	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateUser(context.Background(), "alice", hash, "student"); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/login", "", map[string]string{
		"username": "alice", "password": "s3cret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	var login struct {
		Success  bool   `json:"success"`
		JWTToken string `json:"jwt_token"`
		Role     string `json:"role"`
	}
	decodeBody(t, resp, &login)
	if !login.Success || login.JWTToken == "" || login.Role != "student" {
		t.Fatalf("unexpected login response: %+v", login)
	}

	// The issued token opens the protected routes.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/chatroom/uuid", login.JWTToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chatroom uuid: expected 200, got %d", resp.StatusCode)
	}
	var room struct {
		UUID string `json:"uuid"`
	}
	decodeBody(t, resp, &room)
	if room.UUID == "" {
		t.Fatal("empty chatroom uuid")
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/chatroom/uuid", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", resp.StatusCode)
	}
}

func TestQuestioningPipeline(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"generated_text": "the answer",
			"prompt_tokens":  12,
		})
	}))
	defer backend.Close()

	orch, err := rag.NewOrchestratorWith(llm.ModeAFS, llm.Config{
		AFSURL:    backend.URL,
		AFSAPIKey: "k",
		AFSModel:  "m",
		Logger:    testLogger(),
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	// Two chunks from the same file must collapse to one file reference.
	svc, st := newTestService(t, orch, []vectorstore.Result{
		{Content: "chunk one", Source: "calculus.pdf", FileUUID: "f-1"},
		{Content: "chunk two", Source: "calculus.pdf", FileUUID: "f-1"},
	})
	srv := newTestServer(t, svc)
	token := tokenFor(t, "u-1", "alice", "student")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/chatroom/chat-1", token, map[string]any{
		"question":      []string{"What is a derivative?"},
		"language":      "ENGLISH",
		"question_type": "CHATTING",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out questioningResponse
	decodeBody(t, resp, &out)
	if out.Answer != "the answer" {
		t.Fatalf("answer = %q", out.Answer)
	}
	if out.QuestionUUID == "" {
		t.Fatal("empty question uuid")
	}
	if len(out.Files) != 1 || out.Files[0].FileName != "calculus.pdf" {
		t.Fatalf("unexpected files: %+v", out.Files)
	}

	history, err := st.ChatHistory(context.Background(), "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0] != "What is a derivative?" || history[1] != "the answer" {
		t.Fatalf("unexpected history: %v", history)
	}
}

func TestQuestioningEmptyAnswer(t *testing.T) {
	svc, st := newTestService(t, nil, nil) // noop backend answers ("", 0)
	srv := newTestServer(t, svc)
	token := tokenFor(t, "u-1", "alice", "student")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/chatroom/chat-1", token, map[string]any{
		"question":      []string{"anyone there?"},
		"question_type": "CHATTING",
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 on empty answer, got %d", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != "could not generate an answer" {
		t.Fatalf("unexpected error message: %q", body.Error)
	}

	// The failed turn is still recorded.
	history, err := st.ChatHistory(context.Background(), "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0] != "anyone there?" {
		t.Fatalf("unexpected history: %v", history)
	}
}

func TestQuestioningValidation(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	srv := newTestServer(t, svc)
	token := tokenFor(t, "u-1", "alice", "student")

	for name, body := range map[string]map[string]any{
		"empty question":   {"question": []string{}, "question_type": "CHATTING"},
		"unknown language": {"question": []string{"q"}, "language": "KLINGON", "question_type": "CHATTING"},
		"unknown type":     {"question": []string{"q"}, "question_type": "DEBATE"},
	} {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/chatroom/chat-1", token, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestRatingEndpoint(t *testing.T) {
	svc, st := newTestService(t, nil, nil)
	srv := newTestServer(t, svc)
	token := tokenFor(t, "u-1", "alice", "student")

	if err := st.InsertChatRecord(context.Background(), store.ChatRecord{
		QAID: "qa-1", ChatID: "c", Question: "q", Answer: "a", SentBy: "alice",
	}); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, http.MethodPatch, srv.URL+"/api/v1/chatroom/rating", token, map[string]any{
		"question_uuid": "qa-1", "rating": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/v1/chatroom/rating", token, map[string]any{
		"question_uuid": "qa-missing", "rating": false,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestExamEndpoints(t *testing.T) {
	svc, st := newTestService(t, nil, nil)
	srv := newTestServer(t, svc)
	token := tokenFor(t, "u-1", "alice", "student")

	examID, err := st.CreateExam(context.Background(), "Midterm", 90, []store.Question{
		{Content: "1+1?", Options: []string{"1", "2"}, Answer: "2"},
		{Content: "2+2?", Options: []string{"3", "4"}, Answer: "4"},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/mock/exams", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list exams: expected 200, got %d", resp.StatusCode)
	}
	var list struct {
		Exams []store.Exam `json:"exams"`
	}
	decodeBody(t, resp, &list)
	if len(list.Exams) != 1 || list.Exams[0].QuestionCount != 2 {
		t.Fatalf("unexpected exams: %+v", list.Exams)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/mock/exams/"+examID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exam questions: expected 200, got %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	// Correct answers must never reach the student payload.
	if strings.Contains(string(raw), `"answer"`) {
		t.Fatalf("answers leaked to student response: %s", raw)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/mock/exams/no-such-exam", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing exam: expected 404, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/mock/submit", token, map[string]any{
		"exam_id": examID, "answers": []string{"2", "4"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d", resp.StatusCode)
	}
	var submit struct {
		SubmissionID string `json:"submission_id"`
	}
	decodeBody(t, resp, &submit)
	if submit.SubmissionID == "" {
		t.Fatal("empty submission id")
	}
}

func TestQuestioningDefaultsQuestionType(t *testing.T) {
	svc, _ := newTestService(t, nil, nil) // noop backend answers ("", 0)
	srv := newTestServer(t, svc)
	token := tokenFor(t, "u-1", "alice", "student")

	// Omitting question_type must fall back to chatting, so the request
	// reaches the backend and fails on the empty answer, not on validation.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/chatroom/chat-1", token, map[string]any{
		"question": []string{"hello"},
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != "could not generate an answer" {
		t.Fatalf("unexpected error message: %q", body.Error)
	}
}

func TestChatHistoryEndpoint(t *testing.T) {
	svc, st := newTestService(t, nil, nil)
	srv := newTestServer(t, svc)
	token := tokenFor(t, "u-1", "alice", "student")

	for _, qa := range []store.ChatRecord{
		{QAID: "qa-1", ChatID: "c", Question: "q1", Answer: "a1", SentBy: "alice"},
		{QAID: "qa-2", ChatID: "c", Question: "q2", Answer: "a2", SentBy: "alice"},
	} {
		if err := st.InsertChatRecord(context.Background(), qa); err != nil {
			t.Fatal(err)
		}
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/chatroom/c/history", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		ChatID  string   `json:"chat_id"`
		History []string `json:"history"`
	}
	decodeBody(t, resp, &out)
	want := []string{"q1", "a1", "q2", "a2"}
	if len(out.History) != len(want) {
		t.Fatalf("history length %d, want %d", len(out.History), len(want))
	}
	for i := range want {
		if out.History[i] != want[i] {
			t.Fatalf("history[%d] = %q, want %q", i, out.History[i], want[i])
		}
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/chatroom/empty/history", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty chatroom: expected 200, got %d", resp.StatusCode)
	}
}

func TestDocumentUpload(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	srv := newTestServer(t, svc)

	student := tokenFor(t, "u-1", "alice", "student")
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/docs", student, map[string]any{
		"file_name": "calculus.pdf", "chunks": []string{"a"},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("student upload: expected 403, got %d", resp.StatusCode)
	}

	teacher := tokenFor(t, "u-2", "bob", "teacher")
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/docs", teacher, map[string]any{
		"file_name": "calculus.pdf",
		"chunks":    []string{"limits", "derivatives"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d", resp.StatusCode)
	}
	var out struct {
		FileUUID string `json:"file_uuid"`
		Chunks   int    `json:"chunks"`
	}
	decodeBody(t, resp, &out)
	if out.FileUUID == "" || out.Chunks != 2 {
		t.Fatalf("unexpected upload response: %+v", out)
	}

	// The chunks land in the vector store, embedded to the fixed dimension
	// and sharing the generated file uuid.
	fs := svc.upserter.(*fakeSearcher)
	docs := fs.upserted["default"]
	if len(docs) != 2 {
		t.Fatalf("upserted %d docs, want 2", len(docs))
	}
	for _, d := range docs {
		if len(d.Vector) != 8 {
			t.Errorf("vector len = %d, want 8", len(d.Vector))
		}
		if d.FileUUID != out.FileUUID || d.Source != "calculus.pdf" {
			t.Errorf("unexpected doc metadata: %+v", d)
		}
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/docs", teacher, map[string]any{
		"file_name": "empty.pdf", "chunks": []string{},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty chunks: expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateExamEndpoint(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	srv := newTestServer(t, svc)

	student := tokenFor(t, "u-1", "alice", "student")
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/mock/exams", student, map[string]any{
		"name": "Midterm",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("student create: expected 403, got %d", resp.StatusCode)
	}

	teacher := tokenFor(t, "u-2", "bob", "teacher")
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/mock/exams", teacher, map[string]any{
		"name":             "Midterm",
		"duration_minutes": 90,
		"questions": []map[string]any{
			{"content": "1+1?", "options": []string{"1", "2"}, "answer": "2"},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		ExamID string `json:"exam_id"`
	}
	decodeBody(t, resp, &created)
	if created.ExamID == "" {
		t.Fatal("empty exam id")
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/mock/exams", teacher, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var list struct {
		Exams []store.Exam `json:"exams"`
	}
	decodeBody(t, resp, &list)
	if len(list.Exams) != 1 || list.Exams[0].ExamID != created.ExamID || list.Exams[0].QuestionCount != 1 {
		t.Fatalf("unexpected exams: %+v", list.Exams)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/mock/exams", teacher, map[string]any{
		"name": "No questions",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("no questions: expected 400, got %d", resp.StatusCode)
	}
}

func TestDeployModeOverride(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	srv := newTestServer(t, svc)

	student := tokenFor(t, "u-1", "alice", "student")
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/admin/deploy-mode", student, map[string]string{
		"deploy_mode": "none",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("student override: expected 403, got %d", resp.StatusCode)
	}

	admin := tokenFor(t, "u-2", "root", "admin")
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/admin/deploy-mode", admin, map[string]string{
		"deploy_mode": "bedrock",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown mode: expected 400, got %d", resp.StatusCode)
	}
	var out struct {
		Success    bool   `json:"success"`
		DeployMode string `json:"deploy_mode"`
	}
	decodeBody(t, resp, &out)
	if out.Success || out.DeployMode != "none" {
		t.Fatalf("prior mode must stay active: %+v", out)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/admin/deploy-mode", admin, map[string]string{
		"deploy_mode": "none",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid mode: expected 200, got %d", resp.StatusCode)
	}
}
