// Package grading marks free-text and photographed answers against a
// question's mark scheme using the LLM.
package grading

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/examprep/examprep/pkg/errors"
	"github.com/examprep/examprep/pkg/llm"
	"github.com/examprep/examprep/pkg/store"
)

// MaxAnswerRunes bounds a typed answer.
const MaxAnswerRunes = 20000

const systemPrompt = `You are a strict but fair exam marker.
Mark the student's answer against the mark scheme. Award whole marks only.
Reply with a single JSON object and nothing else:
{"score": <integer>, "feedback": "<two to four sentences: what earned marks, what was missing, one tip>"}`

// Submission is an answer to grade. At least one of Answer and ImageDataURL
// must be set.
type Submission struct {
	QuestionID   string
	Answer       string
	ImageDataURL string // data:image/... or https URL of a photographed answer
}

// Grade is the marker's verdict.
type Grade struct {
	Score    int
	MaxScore int
	Feedback string
}

// Grader grades submissions.
type Grader struct {
	questions store.Questions
	client    llm.Client
	logger    *log.Logger
}

// NewGrader creates a grader. A nil client uses llm.Disabled and a nil logger
// discards output.
func NewGrader(questions store.Questions, client llm.Client, logger *log.Logger) *Grader {
	if client == nil {
		client = llm.Disabled
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Grader{questions: questions, client: client, logger: logger}
}

// Grade loads the question and asks the LLM to mark the submission. The
// score is clamped to the question's marks.
func (g *Grader) Grade(ctx context.Context, sub Submission) (*Grade, error) {
	if err := errors.ValidateID(sub.QuestionID); err != nil {
		return nil, err
	}
	sub.Answer = strings.TrimSpace(sub.Answer)
	if sub.Answer == "" && sub.ImageDataURL == "" {
		return nil, errors.New(errors.ErrCodeBadRequest, "answer or image is required")
	}
	if len([]rune(sub.Answer)) > MaxAnswerRunes {
		return nil, errors.New(errors.ErrCodeBadRequest, "answer exceeds %d characters", MaxAnswerRunes)
	}
	if sub.ImageDataURL != "" && !validImage(sub.ImageDataURL) {
		return nil, errors.New(errors.ErrCodeBadRequest, "image must be a data:image URL or an https URL")
	}

	q, err := g.questions.Question(ctx, sub.QuestionID)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.New(errors.ErrCodeNotFound, "question not found")
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "load question")
	}

	reply, err := g.client.Complete(ctx, llm.Request{
		System:   systemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt(q, sub.Answer, sub.ImageDataURL != ""), ImageURL: sub.ImageDataURL}},
	})
	if err != nil {
		if errors.GetCode(err) == "" {
			err = errors.Wrap(errors.ErrCodeUpstream, err, "grading unavailable")
		}
		return nil, err
	}

	grade, err := parseReply(reply, q.Marks)
	if err != nil {
		g.logger.Warn("unparseable grading reply", "question", q.ID, "reply", truncate(reply, 200))
		return nil, errors.Wrap(errors.ErrCodeUpstream, err, "grading reply")
	}
	g.logger.Debug("graded answer", "question", q.ID, "score", grade.Score, "max", grade.MaxScore, "image", sub.ImageDataURL != "")
	return grade, nil
}

func prompt(q *store.Question, answer string, hasImage bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question (%d marks):\n%s\n\n", q.Marks, q.Prompt)
	if q.MarkScheme != "" {
		fmt.Fprintf(&b, "Mark scheme:\n%s\n\n", q.MarkScheme)
	} else {
		b.WriteString("No mark scheme is available; mark on correctness and method.\n\n")
	}
	if answer != "" {
		fmt.Fprintf(&b, "Student answer:\n%s\n", answer)
	}
	if hasImage {
		b.WriteString("The student's handwritten working is attached as an image.\n")
	}
	fmt.Fprintf(&b, "\nThe score must be between 0 and %d.", q.Marks)
	return b.String()
}

// parseReply decodes the first JSON object in reply, ignoring any prose or
// code fences around it.
func parseReply(reply string, maxScore int) (*Grade, error) {
	i := strings.IndexByte(reply, '{')
	if i < 0 {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var v struct {
		Score    *float64 `json:"score"`
		Feedback string   `json:"feedback"`
	}
	if err := json.NewDecoder(strings.NewReader(reply[i:])).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if v.Score == nil || math.IsNaN(*v.Score) {
		return nil, fmt.Errorf("reply has no score")
	}

	score := int(math.Round(*v.Score))
	score = max(0, min(score, maxScore))
	return &Grade{Score: score, MaxScore: maxScore, Feedback: strings.TrimSpace(v.Feedback)}, nil
}

func validImage(u string) bool {
	return strings.HasPrefix(u, "data:image/") || strings.HasPrefix(u, "https://")
}

// truncate keeps at most n bytes of s without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
