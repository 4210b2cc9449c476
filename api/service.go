// Package api exposes the exam platform over HTTP: authentication, the RAG
// chatroom, mock exams and the admin deploy-mode override. Handlers stay
// thin; all domain logic lives in the rag, embedder, vectorstore and store
// packages.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/akinoalice/examrag/auth"
	"github.com/akinoalice/examrag/embedder"
	"github.com/akinoalice/examrag/llm"
	"github.com/akinoalice/examrag/rag"
	"github.com/akinoalice/examrag/store"
	"github.com/akinoalice/examrag/vectorstore"
)

const (
	defaultTopK      = 3
	defaultMaxTokens = 8192
	tokenTTL         = 24 * time.Hour
)

// Service wires the pipeline components behind the HTTP surface.
type Service struct {
	logger    *slog.Logger
	store     *store.Store
	embedder  *embedder.Embedder
	searcher  vectorstore.Searcher
	upserter  vectorstore.Upserter
	orch      *rag.Orchestrator
	jwtSecret []byte
}

// New builds the HTTP service. All dependencies are required.
func New(logger *slog.Logger, st *store.Store, emb *embedder.Embedder, searcher vectorstore.Searcher, upserter vectorstore.Upserter, orch *rag.Orchestrator, jwtSecret []byte) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:    logger,
		store:     st,
		embedder:  emb,
		searcher:  searcher,
		upserter:  upserter,
		orch:      orch,
		jwtSecret: jwtSecret,
	}
}

// RegisterHTTP registers all endpoints on the chi router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Post("/api/v1/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.jwtSecret))

		r.Get("/api/v1/chatroom/uuid", s.handleChatroomUUID)
		r.Get("/api/v1/chatroom/{chat_id}/history", s.handleChatHistory)
		r.Post("/api/v1/chatroom/{chat_id}", s.handleQuestioning)
		r.Patch("/api/v1/chatroom/rating", s.handleRating)

		r.Get("/api/v1/mock/exams", s.handleListExams)
		r.Get("/api/v1/mock/exams/{exam_id}", s.handleExamQuestions)
		r.Post("/api/v1/mock/submit", s.handleSubmit)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("teacher", "admin"))
			r.Post("/api/v1/docs", s.handleUploadDocs)
			r.Post("/api/v1/mock/exams", s.handleCreateExam)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))
			r.Post("/api/v1/admin/deploy-mode", s.handleDeployMode)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// --- authentication ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success  bool   `json:"success"`
	JWTToken string `json:"jwt_token,omitempty"`
	Role     string `json:"role,omitempty"`
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	user, err := s.store.UserByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !auth.CheckPassword(user.PasswordHash, req.Password)) {
		s.logger.Warn("login rejected", "username", req.Username)
		writeJSON(w, http.StatusUnauthorized, loginResponse{Success: false})
		return
	}
	if err != nil {
		s.logger.Error("login lookup failed", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	token, err := auth.GenerateToken(s.jwtSecret, &auth.Claims{
		UserID:   user.UserID,
		Username: user.Username,
		Role:     user.Role,
	}, tokenTTL)
	if err != nil {
		s.logger.Error("token generation failed", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("user logged in", "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusOK, loginResponse{Success: true, JWTToken: token, Role: user.Role})
}

// --- chatroom ---

func (s *Service) handleChatroomUUID(w http.ResponseWriter, r *http.Request) {
	chatroomUUID := uuid.NewString()
	s.logger.Info("chatroom created", "chat_id", chatroomUUID)
	writeJSON(w, http.StatusOK, map[string]string{"uuid": chatroomUUID})
}

type questioningRequest struct {
	Question     []string `json:"question"`
	Language     string   `json:"language"`
	QuestionType string   `json:"question_type"`
	Collection   string   `json:"collection"`
	Images       []string `json:"images"`
}

type fileRef struct {
	FileName string `json:"file_name"`
	FileUUID string `json:"file_uuid"`
}

type questioningResponse struct {
	QuestionUUID string    `json:"question_uuid"`
	Answer       string    `json:"answer"`
	Files        []fileRef `json:"files"`
}

// handleQuestioning runs the full pipeline for one student question:
// embed the latest turn, retrieve the nearest chunks, generate the answer
// from the conversation, persist the exchange and respond. The chat record
// is stored even when generation soft-fails so the failed turn is auditable.
func (s *Service) handleQuestioning(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chat_id")

	var req questioningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Question) == 0 {
		writeError(w, http.StatusBadRequest, "question must not be empty")
		return
	}
	if req.Collection == "" {
		req.Collection = "default"
	}
	if req.Language == "" {
		req.Language = string(rag.Chinese)
	}
	if req.QuestionType == "" {
		req.QuestionType = string(rag.Chatting)
	}
	lang, qt := rag.Language(req.Language), rag.QuestionType(req.QuestionType)
	if !validLanguage(lang) {
		writeError(w, http.StatusBadRequest, "unknown language")
		return
	}
	if !validQuestionType(qt) {
		writeError(w, http.StatusBadRequest, "unknown question type")
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	questionUUID := uuid.NewString()
	latest := req.Question[len(req.Question)-1]

	vector, err := s.embedder.Encode(r.Context(), latest)
	if err != nil {
		s.logger.Error("question embedding failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	results, err := s.searcher.Search(r.Context(), vector, req.Collection, defaultTopK)
	if err != nil {
		s.logger.Error("similarity search failed", "chat_id", chatID, "collection", req.Collection, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	contents := make([]string, 0, len(results))
	fileUUIDs := make([]string, 0, len(results))
	seen := map[string]bool{}
	var files []fileRef
	for _, res := range results {
		contents = append(contents, res.Content)
		fileUUIDs = append(fileUUIDs, res.FileUUID)
		if !seen[res.Source] {
			seen[res.Source] = true
			files = append(files, fileRef{FileName: res.Source, FileUUID: res.FileUUID})
		}
	}

	answer, tokens, err := s.orch.GenerateResponse(
		r.Context(), req.Question, contents, qt, lang, defaultMaxTokens, req.Images)
	if err != nil {
		s.logger.Error("response generation failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	record := store.ChatRecord{
		QAID:      questionUUID,
		ChatID:    chatID,
		Question:  latest,
		Answer:    answer,
		TokenSize: tokens,
		SentBy:    claims.Username,
		FileIDs:   fileUUIDs,
	}
	if err := s.store.InsertChatRecord(r.Context(), record); err != nil {
		s.logger.Error("chat record insert failed", "chat_id", chatID, "qa_id", questionUUID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if answer == "" {
		s.logger.Warn("empty answer from backend", "chat_id", chatID, "qa_id", questionUUID)
		writeError(w, http.StatusInternalServerError, "could not generate an answer")
		return
	}

	s.logger.Info("question answered",
		"chat_id", chatID,
		"qa_id", questionUUID,
		"token_size", tokens,
		"files", len(files))
	writeJSON(w, http.StatusOK, questioningResponse{
		QuestionUUID: questionUUID,
		Answer:       answer,
		Files:        files,
	})
}

func validLanguage(lang rag.Language) bool {
	return lang == rag.English || lang == rag.Chinese
}

func validQuestionType(qt rag.QuestionType) bool {
	return qt == rag.Chatting || qt == rag.Testing || qt == rag.Theorem
}

func (s *Service) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chat_id")
	history, err := s.store.ChatHistory(r.Context(), chatID)
	if err != nil {
		s.logger.Error("chat history lookup failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if history == nil {
		history = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "history": history})
}

type ratingRequest struct {
	QuestionUUID string `json:"question_uuid"`
	Rating       bool   `json:"rating"`
}

func (s *Service) handleRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.store.UpdateRating(r.Context(), req.QuestionUUID, req.Rating)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}
	if err != nil {
		s.logger.Error("rating update failed", "qa_id", req.QuestionUUID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- mock exams ---

func (s *Service) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := s.store.ListExams(r.Context())
	if err != nil {
		s.logger.Error("exam listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if exams == nil {
		exams = []store.Exam{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exams": exams})
}

func (s *Service) handleExamQuestions(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "exam_id")
	questions, err := s.store.ExamQuestions(r.Context(), examID)
	if err != nil {
		s.logger.Error("exam questions lookup failed", "exam_id", examID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(questions) == 0 {
		writeError(w, http.StatusNotFound, "exam not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exam_id": examID, "questions": questions})
}

type submitRequest struct {
	ExamID  string   `json:"exam_id"`
	Answers []string `json:"answers"`
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExamID == "" {
		writeError(w, http.StatusBadRequest, "exam_id required")
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	submissionID, err := s.store.InsertSubmission(r.Context(), req.ExamID, claims.UserID, req.Answers)
	if err != nil {
		s.logger.Error("submission insert failed", "exam_id", req.ExamID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("exam submitted", "exam_id", req.ExamID, "submission_id", submissionID, "user", claims.Username)
	writeJSON(w, http.StatusCreated, map[string]string{"submission_id": submissionID})
}

// --- document ingestion ---

type uploadDocsRequest struct {
	Collection string   `json:"collection"`
	FileName   string   `json:"file_name"`
	Chunks     []string `json:"chunks"`
}

// handleUploadDocs indexes pre-chunked course material: every chunk is
// embedded through the active backend and stored in the vector store under
// one generated file uuid. Without this, nothing ever reaches the searcher.
func (s *Service) handleUploadDocs(w http.ResponseWriter, r *http.Request) {
	var req uploadDocsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileName == "" {
		writeError(w, http.StatusBadRequest, "file_name required")
		return
	}
	if len(req.Chunks) == 0 {
		writeError(w, http.StatusBadRequest, "chunks must not be empty")
		return
	}
	if req.Collection == "" {
		req.Collection = "default"
	}

	fileUUID := uuid.NewString()
	docs := make([]vectorstore.Document, 0, len(req.Chunks))
	for _, chunk := range req.Chunks {
		vector, err := s.embedder.Encode(r.Context(), chunk)
		if err != nil {
			s.logger.Error("chunk embedding failed", "file_name", req.FileName, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		docs = append(docs, vectorstore.Document{
			Content:  chunk,
			Source:   req.FileName,
			FileUUID: fileUUID,
			Vector:   vector,
		})
	}

	if err := s.upserter.Upsert(r.Context(), req.Collection, docs); err != nil {
		s.logger.Error("document upsert failed", "file_name", req.FileName, "collection", req.Collection, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("document indexed",
		"file_name", req.FileName,
		"file_uuid", fileUUID,
		"collection", req.Collection,
		"chunks", len(docs))
	writeJSON(w, http.StatusCreated, map[string]any{
		"file_uuid": fileUUID,
		"chunks":    len(docs),
	})
}

// --- exam administration ---

type createExamRequest struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Questions       []struct {
		Content string   `json:"content"`
		Options []string `json:"options"`
		Answer  string   `json:"answer"`
	} `json:"questions"`
}

func (s *Service) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req createExamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if len(req.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "questions must not be empty")
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}

	questions := make([]store.Question, len(req.Questions))
	for i, q := range req.Questions {
		questions[i] = store.Question{
			Content: q.Content,
			Options: q.Options,
			Answer:  q.Answer,
		}
	}

	claims := auth.ClaimsFromContext(r.Context())
	examID, err := s.store.CreateExam(r.Context(), req.Name, req.DurationMinutes, questions)
	if err != nil {
		s.logger.Error("exam creation failed", "name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("exam created", "exam_id", examID, "name", req.Name, "questions", len(questions), "by", claims.Username)
	writeJSON(w, http.StatusCreated, map[string]string{"exam_id": examID})
}

// --- admin ---

type deployModeRequest struct {
	DeployMode string `json:"deploy_mode"`
}

// handleDeployMode swaps the active LLM backend at runtime. The override is
// all-or-nothing: an unknown mode or missing credentials leave the prior
// backend serving and return 400.
func (s *Service) handleDeployMode(w http.ResponseWriter, r *http.Request) {
	var req deployModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if ok := s.orch.OverrideDeployMode(llm.DeployMode(req.DeployMode)); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":     false,
			"deploy_mode": string(s.orch.Mode()),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"deploy_mode": string(s.orch.Mode()),
	})
}
