package cli

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/examprep/examprep/pkg/config"
	"github.com/examprep/examprep/pkg/store"
)

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
)

// questionsOpts holds the command-line flags for the questions command.
type questionsOpts struct {
	subject string
	topic   string
	search  string
	plain   bool
}

// questionsCommand creates the questions command, an interactive browser
// over the configured question bank.
func (c *CLI) questionsCommand() *cobra.Command {
	var opts questionsOpts

	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Browse the question bank",
		Long: `Browse the question bank in the configured store.

Use --subject, --topic and --search to narrow the list. With the memory
store, set store.seed_file (EXAMPREP_SEED) so there is something to browse.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runQuestions(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.subject, "subject", "", "only questions in this subject")
	cmd.Flags().StringVar(&opts.topic, "topic", "", "only questions in this topic")
	cmd.Flags().StringVarP(&opts.search, "search", "s", "", "match prompt or tags")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print a table instead of the interactive browser")

	return cmd
}

func (c *CLI) runQuestions(ctx context.Context, opts questionsOpts) error {
	cfg, err := c.loadConfig(func(cfg *config.Config) { cfg.Server.AppAPI = false })
	if err != nil {
		return err
	}
	st, err := c.openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close(context.WithoutCancel(ctx))

	qs, total, err := st.ListQuestions(ctx, store.QuestionFilter{
		Subject: opts.subject,
		Topic:   opts.topic,
		Search:  opts.search,
		Limit:   store.MaxLimit,
	}.Normalize())
	if err != nil {
		return err
	}
	if len(qs) == 0 {
		printWarning("No questions match")
		if cfg.Store.Backend == "memory" && cfg.Store.SeedFile == "" {
			printNextStep("Load a question bank", "EXAMPREP_SEED=examples/seed.toml examprep questions")
		}
		return nil
	}
	if total > len(qs) {
		printInfo("Showing %d of %d questions", len(qs), total)
	}

	m := NewQuestionListModel(qs)
	if opts.plain {
		m.Height = len(qs)
		fmt.Println(m.listView())
		return nil
	}
	_, err = tea.NewProgram(m, tea.WithContext(ctx)).Run()
	return err
}

// =============================================================================
// QuestionListModel - Interactive question browser
// =============================================================================

// QuestionListModel is the bubbletea model for browsing questions. Enter
// toggles a detail view of the question under the cursor.
type QuestionListModel struct {
	Questions []store.Question
	Cursor    int
	Height    int
	Offset    int
	Detail    bool
}

// NewQuestionListModel creates a new question list model.
func NewQuestionListModel(qs []store.Question) QuestionListModel {
	return QuestionListModel{
		Questions: qs,
		Height:    15,
	}
}

func (m QuestionListModel) Init() tea.Cmd {
	return nil
}

func (m QuestionListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if !m.Detail {
				return m, tea.Quit
			}
			m.Detail = false
		case "enter":
			if len(m.Questions) > 0 {
				m.Detail = !m.Detail
			}
		case "up", "k":
			if m.Detail || m.Cursor == 0 {
				break
			}
			m.Cursor--
			if m.Cursor < m.Offset {
				m.Offset = m.Cursor
			}
		case "down", "j":
			if m.Detail || m.Cursor >= len(m.Questions)-1 {
				break
			}
			m.Cursor++
			if m.Cursor >= m.Offset+m.Height {
				m.Offset = m.Cursor - m.Height + 1
			}
		}
	case tea.WindowSizeMsg:
		m.Height = max(msg.Height-8, 5)
		if m.Cursor >= m.Offset+m.Height {
			m.Offset = m.Cursor - m.Height + 1
		}
	}
	return m, nil
}

func (m QuestionListModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Question Bank"))
	b.WriteString("\n")
	if m.Detail {
		b.WriteString(listDimStyle.Render("⏎/esc back  q quit"))
		b.WriteString("\n\n")
		b.WriteString(m.detailView())
		return b.String()
	}
	b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ details  q quit"))
	b.WriteString("\n\n")
	b.WriteString(m.listView())
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Questions))))
	return b.String()
}

func (m QuestionListModel) listView() string {
	end := min(m.Offset+m.Height, len(m.Questions))

	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		q := m.Questions[i]
		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		year := "—"
		if q.Year > 0 {
			year = fmt.Sprint(q.Year)
		}
		rows = append(rows, []string{cursor, q.ID, q.Subject, q.Topic, year, fmt.Sprint(q.Marks), truncate(firstLine(q.Prompt), 48)})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "ID", "Subject", "Topic", "Year", "Marks", "Prompt").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			base := lipgloss.NewStyle()
			if col == 4 || col == 5 {
				base = base.Foreground(colorGray)
			}
			if m.Offset+row == m.Cursor {
				return base.Foreground(colorGreen).Bold(true)
			}
			return base
		}).
		Render()
}

func (m QuestionListModel) detailView() string {
	q := m.Questions[m.Cursor]

	var b strings.Builder
	b.WriteString(listSelectedStyle.Render(q.ID))
	b.WriteString("  ")
	b.WriteString(listDimStyle.Render(strings.Join(nonEmpty(q.Subject, q.Topic, q.Subtopic), " › ")))
	b.WriteString("\n\n")

	meta := []string{fmt.Sprintf("%d marks", q.Marks)}
	if q.Difficulty != "" {
		meta = append(meta, q.Difficulty)
	}
	if q.Year > 0 {
		meta = append(meta, strings.TrimSpace(fmt.Sprintf("%d %s", q.Year, q.Paper)))
	}
	switch {
	case q.DiagramTikZ != "":
		meta = append(meta, "TikZ diagram")
	case q.DiagramDOT != "":
		meta = append(meta, "DOT diagram")
	}
	b.WriteString(StyleHighlight.Render(strings.Join(meta, " · ")))
	b.WriteString("\n\n")
	b.WriteString(listNormalStyle.Render(q.Prompt))
	b.WriteString("\n")

	if q.Explanation != "" {
		b.WriteString("\n")
		b.WriteString(StyleTitle.Render("Explanation"))
		b.WriteString("\n")
		b.WriteString(listNormalStyle.Render(q.Explanation))
		b.WriteString("\n")
	}
	if len(q.Tags) > 0 {
		b.WriteString("\n")
		b.WriteString(listDimStyle.Render("tags: " + strings.Join(q.Tags, ", ")))
		b.WriteString("\n")
	}
	return b.String()
}

// =============================================================================
// Helpers
// =============================================================================

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
