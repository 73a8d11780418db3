package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/examprep/examprep/pkg/auth"
	"github.com/examprep/examprep/pkg/chat"
	"github.com/examprep/examprep/pkg/config"
	"github.com/examprep/examprep/pkg/grading"
	"github.com/examprep/examprep/pkg/llm"
	"github.com/examprep/examprep/pkg/mail"
	"github.com/examprep/examprep/pkg/render"
	"github.com/examprep/examprep/pkg/session"
	"github.com/examprep/examprep/pkg/store"
	"github.com/examprep/examprep/pkg/workspace"
)

const (
	okCompiler = `#!/bin/sh
for a in "$@"; do
  case "$a" in -output-directory=*) out="${a#-output-directory=}";; esac
done
printf '%%PDF-1.4 fake' > "$out/diagram.pdf"
`
	brokenCompiler = `#!/bin/sh
echo "! Undefined control sequence."
exit 1
`
	okConverter = `#!/bin/sh
for a in "$@"; do last="$a"; done
printf '\211PNG\r\n\032\nfake' > "$last.png"
`
	okDot = `#!/bin/sh
cat > /dev/null
printf '\211PNG\r\n\032\nfake'
`
	slowDot = `#!/bin/sh
sleep 10
`
	testSecret = "0123456789abcdef0123456789abcdef"
	testPass   = "correct horse battery"
)

type fixture struct {
	srv     *httptest.Server
	handler http.Handler
	store   *store.MemoryStore
	root    string
}

func writeTool(t *testing.T, name, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func quietLogger() *log.Logger {
	l := log.New(os.Stderr)
	l.SetLevel(log.FatalLevel)
	return l
}

// newFixture serves the full API backed by the memory store, fake TeX and
// graphviz tools and an LLM that answers with reply.
func newFixture(t *testing.T, compiler, reply string) *fixture {
	t.Helper()
	return newFixtureWith(t, compiler, reply, nil)
}

// newFixtureWith is newFixture with renderer options adjusted by tweak.
func newFixtureWith(t *testing.T, compiler, reply string, tweak func(*render.Options)) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	logger := quietLogger()
	root := t.TempDir()
	opts := render.Options{
		CompilerPath:     writeTool(t, "pdflatex", compiler),
		ConverterPath:    writeTool(t, "pdftoppm", okConverter),
		GraphvizPath:     writeTool(t, "dot", okDot),
		CompileTimeout:   5 * time.Second,
		RasterizeTimeout: 5 * time.Second,
	}
	if tweak != nil {
		tweak(&opts)
	}
	renderer := render.NewRenderer(opts, workspace.NewManager(root, logger), nil, logger)

	st := store.NewMemoryStore()
	svc := auth.NewService(st, session.NewMemoryTokenStore(), mail.NewLogSender(logger),
		auth.NewIssuer(testSecret, time.Hour),
		auth.Config{AppName: "examprep", AppURL: "http://app.test", BcryptCost: bcrypt.MinCost}, logger)

	client := llm.Func(func(context.Context, llm.Request) (string, error) {
		return reply, nil
	})

	cfg := config.Default().Server
	cfg.AppAPI = true
	s := New(cfg, Deps{
		Renderer: renderer,
		Auth:     svc,
		Store:    st,
		Chat:     chat.NewAssistant(st, client, chat.Options{}, logger),
		Grader:   grading.NewGrader(st, client, logger),
		Logger:   logger,
	})
	f := &fixture{handler: s.Handler(), store: st, root: root}
	f.srv = httptest.NewServer(f.handler)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return resp, out
}

func (f *fixture) assertNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("workspace left behind: %s", e.Name())
	}
}

// login creates a verified user directly in the store and logs in.
func (f *fixture) login(t *testing.T, email string) string {
	t.Helper()
	hash, err := auth.HashPassword(testPass, bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.CreateUser(context.Background(), &store.User{Email: email, Name: "Test", PasswordHash: hash, Verified: true}); err != nil {
		t.Fatal(err)
	}
	resp, body := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": testPass})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %v", resp.StatusCode, body)
	}
	return body["token"].(string)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, okCompiler, "")
	resp, body := f.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["ok"] != true || len(body) != 1 {
		t.Errorf("GET /health = %d %v", resp.StatusCode, body)
	}
}

func TestRenderSuccessShape(t *testing.T) {
	f := newFixture(t, okCompiler, "")
	resp, body := f.do(t, http.MethodPost, "/render", "", map[string]string{"tikzCode": `\draw (0,0) -- (1,1);`})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
	if len(body) != 3 || body["success"] != true || body["type"] != "png" {
		t.Errorf("body = %v", body)
	}
	url, _ := body["dataUrl"].(string)
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("dataUrl = %q", url)
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil || !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Errorf("dataUrl payload = %q, %v", png, err)
	}
	f.assertNoWorkspaces(t)
}

func TestRenderBadRequests(t *testing.T) {
	f := newFixture(t, okCompiler, "")
	tests := []struct {
		name string
		body string
		want int
		msg  string
	}{
		{"empty object", `{}`, http.StatusBadRequest, "tikzCode is required"},
		{"empty string", `{"tikzCode":""}`, http.StatusBadRequest, "tikzCode is required"},
		{"blank", `{"tikzCode":"  \n\t"}`, http.StatusBadRequest, "tikzCode is required"},
		{"empty body", ``, http.StatusBadRequest, "tikzCode is required"},
		{"malformed", `{"tikzCode":`, http.StatusBadRequest, "invalid JSON body"},
		{"wrong type", `{"tikzCode":42}`, http.StatusBadRequest, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/render", "", tt.body)
			if resp.StatusCode != tt.want || body["error"] != tt.msg {
				t.Errorf("got %d %v, want %d %q", resp.StatusCode, body, tt.want, tt.msg)
			}
		})
	}
	f.assertNoWorkspaces(t)
}

func TestRenderFailure(t *testing.T) {
	f := newFixture(t, brokenCompiler, "")
	resp, body := f.do(t, http.MethodPost, "/render", "", map[string]string{"tikzCode": `\drwa`})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	msg, _ := body["error"].(string)
	if !strings.HasPrefix(msg, "Render failed: compilation failed") {
		t.Errorf("error = %q", msg)
	}
	if !strings.Contains(msg, "Undefined control sequence") {
		t.Errorf("error should carry the compiler diagnostics: %q", msg)
	}
	f.assertNoWorkspaces(t)
}

func TestRenderDOTRoute(t *testing.T) {
	f := newFixture(t, okCompiler, "")

	resp, body := f.do(t, http.MethodPost, "/render/dot", "", map[string]string{"dot": "digraph { a -> b }"})
	if resp.StatusCode != http.StatusOK || body["success"] != true || body["type"] != "png" {
		t.Fatalf("POST /render/dot = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/render/dot", "", map[string]string{"dot": "   "})
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "dot is required" {
		t.Errorf("blank dot = %d %v", resp.StatusCode, body)
	}
}

func TestRenderDOTTimeout(t *testing.T) {
	f := newFixtureWith(t, okCompiler, "", func(o *render.Options) {
		o.GraphvizPath = writeTool(t, "dot", slowDot)
		o.CompileTimeout = 300 * time.Millisecond
	})

	start := time.Now()
	resp, body := f.do(t, http.MethodPost, "/render/dot", "", map[string]string{"dot": "digraph { a -> b }"})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("request took %v, graphviz was not bounded", elapsed)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if msg, _ := body["error"].(string); !strings.HasPrefix(msg, "Render failed: graphviz failed") || !strings.Contains(msg, "timed out") {
		t.Errorf("error = %q", msg)
	}
}

func TestQuestionDOTDiagramTimeout(t *testing.T) {
	f := newFixtureWith(t, okCompiler, "", func(o *render.Options) {
		o.GraphvizPath = writeTool(t, "dot", slowDot)
		o.CompileTimeout = 300 * time.Millisecond
	})
	q := store.Question{ID: "maths-1", Subject: "Maths", Topic: "Graphs", Marks: 3, Prompt: "Find a spanning tree.",
		DiagramDOT: "graph { a -- b; b -- c; c -- a }"}
	if err := f.store.PutQuestion(context.Background(), &q); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	resp, body := f.do(t, http.MethodGet, "/api/questions/maths-1", "", nil)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("request took %v, graphviz was not bounded", elapsed)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail = %d %v", resp.StatusCode, body)
	}
	if _, ok := body["diagramDataUrl"]; ok {
		t.Error("a timed out diagram should be omitted")
	}
}

func TestRenderBodyLimit(t *testing.T) {
	f := newFixture(t, okCompiler, "")
	big := `{"tikzCode":"` + strings.Repeat("a", 3<<20) + `"}`

	for _, chunked := range []bool{false, true} {
		req := httptest.NewRequest(http.MethodPost, "/render", strings.NewReader(big))
		if chunked {
			// Unknown length: the cap is enforced while decoding.
			req.ContentLength = -1
		}
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		var body errorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if rec.Code != http.StatusRequestEntityTooLarge || body.Error != msgTooLarge {
			t.Errorf("chunked=%v: got %d %q", chunked, rec.Code, body.Error)
		}
	}
	f.assertNoWorkspaces(t)
}

func TestNotFoundIsJSON(t *testing.T) {
	f := newFixture(t, okCompiler, "")
	resp, body := f.do(t, http.MethodGet, "/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "not found" {
		t.Errorf("got %d %v", resp.StatusCode, body)
	}
}

func TestAuthRoutes(t *testing.T) {
	f := newFixture(t, okCompiler, "")

	resp, body := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "New@Example.com", "password": testPass, "name": "New"})
	if resp.StatusCode != http.StatusCreated || body["email"] != "new@example.com" || body["verified"] != false {
		t.Fatalf("register = %d %v", resp.StatusCode, body)
	}
	if _, ok := body["passwordHash"]; ok {
		t.Error("password hash leaked")
	}

	resp, body = f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "not-an-email", "password": testPass})
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "email must be a valid email address" {
		t.Errorf("invalid email = %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "new@example.com", "password": testPass})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("unverified login = %d, want 403", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "new@example.com", "password": "wrong password"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password = %d, want 401", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "ghost@example.com"})
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Errorf("forgot-password for unknown email = %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": "bogus"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus verify token = %d, want 400", resp.StatusCode)
	}

	token := f.login(t, "me@example.com")
	resp, body = f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	if resp.StatusCode != http.StatusOK || body["email"] != "me@example.com" {
		t.Errorf("me = %d %v", resp.StatusCode, body)
	}

	for _, tok := range []string{"", "garbage"} {
		resp, _ = f.do(t, http.MethodGet, "/api/auth/me", tok, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("me with token %q = %d, want 401", tok, resp.StatusCode)
		}
	}
}

func TestChatRoutes(t *testing.T) {
	f := newFixture(t, okCompiler, "Photosynthesis turns light into chemical energy.")
	token := f.login(t, "chat@example.com")

	resp, body := f.do(t, http.MethodPost, "/api/chat/messages", token, map[string]string{"content": "What is photosynthesis?"})
	if resp.StatusCode != http.StatusOK || body["role"] != "assistant" {
		t.Fatalf("send = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/api/chat/messages", token, nil)
	msgs, _ := body["messages"].([]any)
	if resp.StatusCode != http.StatusOK || len(msgs) != 2 {
		t.Fatalf("history = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodDelete, "/api/chat/messages", token, nil)
	if resp.StatusCode != http.StatusOK || body["deleted"] != float64(2) {
		t.Errorf("clear = %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/chat/messages", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous history = %d, want 401", resp.StatusCode)
	}
}

func seedQuestions(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	qs := []store.Question{
		{ID: "phy-1", Subject: "Physics", Topic: "Forces", Year: 2023, Marks: 4, Prompt: "Draw the forces on a block.",
			DiagramTikZ: `\draw (0,0) rectangle (1,1);`, Explanation: "Weight acts **down**.", MarkScheme: "1 mark per force"},
		{ID: "bio-1", Subject: "Biology", Topic: "Cells", Year: 2022, Marks: 2, Prompt: "Name two organelles.", Tags: []string{"cells"}},
	}
	for i := range qs {
		if err := st.PutQuestion(ctx, &qs[i]); err != nil {
			t.Fatal(err)
		}
	}
	err := st.PutTaxonomy(ctx, []store.TaxonomyEntry{
		{Subject: "Physics", Topic: "Forces", Subtopic: "Newton's laws"},
		{Subject: "Biology", Topic: "Cells", Subtopic: "Organelles"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestQuestionRoutes(t *testing.T) {
	f := newFixture(t, okCompiler, "")
	seedQuestions(t, f.store)

	resp, body := f.do(t, http.MethodGet, "/api/questions?subject=physics", "", nil)
	qs, _ := body["questions"].([]any)
	if resp.StatusCode != http.StatusOK || body["total"] != float64(1) || len(qs) != 1 {
		t.Fatalf("list = %d %v", resp.StatusCode, body)
	}
	if _, leaked := qs[0].(map[string]any)["markScheme"]; leaked {
		t.Error("mark scheme must not be served")
	}

	resp, body = f.do(t, http.MethodGet, "/api/questions?year=abc", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad year = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/api/questions/phy-1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail = %d %v", resp.StatusCode, body)
	}
	if html, _ := body["explanationHtml"].(string); !strings.Contains(html, "<strong>down</strong>") {
		t.Errorf("explanationHtml = %q", html)
	}
	if url, _ := body["diagramDataUrl"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("diagramDataUrl = %q", url)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/questions/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing question = %d", resp.StatusCode)
	}
	f.assertNoWorkspaces(t)
}

func TestQuestionDiagramFailureIsOmitted(t *testing.T) {
	f := newFixture(t, brokenCompiler, "")
	seedQuestions(t, f.store)

	resp, body := f.do(t, http.MethodGet, "/api/questions/phy-1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail = %d %v", resp.StatusCode, body)
	}
	if _, ok := body["diagramDataUrl"]; ok {
		t.Error("a failed diagram should be omitted")
	}
	f.assertNoWorkspaces(t)
}

func TestAttemptsAndGrading(t *testing.T) {
	f := newFixture(t, okCompiler, `Here you go: {"score": 9, "feedback": "Good use of arrows."}`)
	seedQuestions(t, f.store)
	token := f.login(t, "student@example.com")

	resp, body := f.do(t, http.MethodPost, "/api/attempts", token, map[string]string{"questionId": "bio-1", "answer": "Nucleus, ribosome"})
	if resp.StatusCode != http.StatusCreated || body["maxScore"] != float64(2) || body["graded"] != false {
		t.Fatalf("create attempt = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/api/grade", token, map[string]string{"questionId": "phy-1", "answer": "Weight and normal force"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grade = %d %v", resp.StatusCode, body)
	}
	if body["score"] != float64(4) || body["maxScore"] != float64(4) || body["attemptId"] == "" {
		t.Errorf("grade should clamp to the question's marks: %v", body)
	}

	resp, body = f.do(t, http.MethodPost, "/api/grade", token, map[string]string{"questionId": "phy-1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("grade without answer = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/api/grade", token, map[string]string{"questionId": "nope", "answer": "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("grade missing question = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/api/attempts", token, nil)
	as, _ := body["attempts"].([]any)
	if resp.StatusCode != http.StatusOK || len(as) != 2 {
		t.Fatalf("list attempts = %d %v", resp.StatusCode, body)
	}
	if newest := as[0].(map[string]any); newest["graded"] != true {
		t.Errorf("newest attempt should be the graded one: %v", newest)
	}
}

func TestTaxonomyRoutes(t *testing.T) {
	f := newFixture(t, okCompiler, "")
	seedQuestions(t, f.store)

	resp, body := f.do(t, http.MethodGet, "/api/taxonomy", "", nil)
	subjects, _ := body["subjects"].([]any)
	if resp.StatusCode != http.StatusOK || len(subjects) != 2 {
		t.Fatalf("taxonomy = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/api/taxonomy/physics", "", nil)
	if resp.StatusCode != http.StatusOK || body["name"] != "Physics" {
		t.Errorf("subject = %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/taxonomy/chemistry", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown subject = %d", resp.StatusCode)
	}
}

func TestRenderOnlyServer(t *testing.T) {
	cfg := config.Default().Server
	cfg.AppAPI = false
	s := New(cfg, Deps{Logger: quietLogger()})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/taxonomy", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("app API should not be mounted, got %d", rec.Code)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfg := config.Default().Server
	cfg.AppAPI = false
	cfg.ShutdownTimeout = time.Second
	s := New(cfg, Deps{Logger: quietLogger()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
