package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/examprep/examprep/pkg/errors"
	"github.com/examprep/examprep/pkg/grading"
	"github.com/examprep/examprep/pkg/markdown"
	"github.com/examprep/examprep/pkg/render"
	"github.com/examprep/examprep/pkg/store"
	"github.com/examprep/examprep/pkg/taxonomy"
)

// Chat

type chatRequest struct {
	Content string `json:"content" validate:"required"`
}

type chatHistoryResponse struct {
	Messages []store.ChatMessage `json:"messages"`
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs, err := s.deps.Chat.History(r.Context(), currentUser(r).ID, min(max(limit, 1), 200))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatHistoryResponse{Messages: nonNil(msgs)})
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	reply, err := s.deps.Chat.Send(r.Context(), currentUser(r).ID, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Chat.Clear(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// Question bank

type questionListResponse struct {
	Questions []store.Question `json:"questions"`
	Total     int              `json:"total"`
}

type questionResponse struct {
	*store.Question
	ExplanationHTML string `json:"explanationHtml,omitempty"`
	DiagramDataURL  string `json:"diagramDataUrl,omitempty"`
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.QuestionFilter{
		Subject:    q.Get("subject"),
		Topic:      q.Get("topic"),
		Difficulty: q.Get("difficulty"),
		Search:     q.Get("search"),
	}
	var err error
	if f.Year, err = queryInt(r, "year", 0); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit", store.DefaultLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		s.writeError(w, r, err)
		return
	}

	qs, total, err := s.deps.Store.ListQuestions(r.Context(), f.Normalize())
	if err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInternal, err, "list questions"))
		return
	}
	writeJSON(w, http.StatusOK, questionListResponse{Questions: nonNil(qs), Total: total})
}

// handleQuestion renders the explanation and the diagram side by side. A
// diagram that fails to render is left out of the response.
func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := s.question(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := questionResponse{Question: q}
	var g errgroup.Group
	if q.Explanation != "" {
		g.Go(func() error {
			html, err := markdown.ToHTML(q.Explanation)
			if err != nil {
				return errors.Wrap(errors.ErrCodeInternal, err, "render explanation")
			}
			resp.ExplanationHTML = html
			return nil
		})
	}
	if q.DiagramTikZ != "" || q.DiagramDOT != "" {
		g.Go(func() error {
			res, err := s.renderDiagram(context.WithoutCancel(r.Context()), q)
			if err != nil {
				s.logger.Warn("question diagram failed", "question", q.ID, "err", errors.Detail(err))
				return nil
			}
			resp.DiagramDataURL = res.DataURL
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) renderDiagram(ctx context.Context, q *store.Question) (*render.Result, error) {
	if q.DiagramTikZ != "" {
		return s.deps.Renderer.Render(ctx, q.DiagramTikZ)
	}
	return s.deps.Renderer.RenderDOT(ctx, q.DiagramDOT)
}

func (s *Server) question(ctx context.Context, id string) (*store.Question, error) {
	if err := errors.ValidateID(id); err != nil {
		return nil, err
	}
	q, err := s.deps.Store.Question(ctx, id)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.New(errors.ErrCodeNotFound, "question not found")
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "load question")
	}
	return q, nil
}

// Attempts and grading

type attemptRequest struct {
	QuestionID string `json:"questionId" validate:"required"`
	Answer     string `json:"answer" validate:"required"`
}

type gradeRequest struct {
	QuestionID string `json:"questionId" validate:"required"`
	Answer     string `json:"answer"`
	Image      string `json:"image"`
}

type gradeResponse struct {
	Score     int    `json:"score"`
	MaxScore  int    `json:"maxScore"`
	Feedback  string `json:"feedback"`
	AttemptID string `json:"attemptId"`
}

type attemptListResponse struct {
	Attempts []store.Attempt `json:"attempts"`
}

func (s *Server) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	var req attemptRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.question(r.Context(), req.QuestionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a := &store.Attempt{
		UserID:     currentUser(r).ID,
		QuestionID: q.ID,
		Answer:     req.Answer,
		MaxScore:   q.Marks,
	}
	if err := s.deps.Store.CreateAttempt(r.Context(), a); err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInternal, err, "save attempt"))
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", store.DefaultLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit = min(max(limit, 1), store.MaxLimit)
	as, err := s.deps.Store.ListAttempts(r.Context(), currentUser(r).ID, limit)
	if err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInternal, err, "list attempts"))
		return
	}
	writeJSON(w, http.StatusOK, attemptListResponse{Attempts: nonNil(as)})
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	grade, err := s.deps.Grader.Grade(r.Context(), grading.Submission{
		QuestionID:   req.QuestionID,
		Answer:       req.Answer,
		ImageDataURL: req.Image,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	a := &store.Attempt{
		UserID:     currentUser(r).ID,
		QuestionID: req.QuestionID,
		Answer:     req.Answer,
		HasImage:   req.Image != "",
		Graded:     true,
		Score:      grade.Score,
		MaxScore:   grade.MaxScore,
		Feedback:   grade.Feedback,
	}
	if err := s.deps.Store.CreateAttempt(r.Context(), a); err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInternal, err, "save attempt"))
		return
	}
	writeJSON(w, http.StatusOK, gradeResponse{
		Score:     grade.Score,
		MaxScore:  grade.MaxScore,
		Feedback:  grade.Feedback,
		AttemptID: a.ID,
	})
}

// Taxonomy

type taxonomyResponse struct {
	Subjects []taxonomy.Subject `json:"subjects"`
}

func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	tree, err := s.taxonomy(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taxonomyResponse{Subjects: nonNil(tree)})
}

func (s *Server) handleTaxonomySubject(w http.ResponseWriter, r *http.Request) {
	tree, err := s.taxonomy(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	subject, ok := taxonomy.Find(tree, chi.URLParam(r, "subject"))
	if !ok {
		s.writeError(w, r, errors.New(errors.ErrCodeNotFound, "subject not found"))
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

func (s *Server) taxonomy(ctx context.Context) ([]taxonomy.Subject, error) {
	entries, err := s.deps.Store.ListTaxonomy(ctx, "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "load taxonomy")
	}
	return taxonomy.Build(entries), nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(errors.ErrCodeBadRequest, "%s must be an integer", name)
	}
	return n, nil
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
