package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/diffpilot/diffpilot/internal/app"
	"github.com/diffpilot/diffpilot/internal/core"
)

type phase int

const (
	phaseLoading phase = iota
	phaseReady
	phaseAsking
)

type model struct {
	ctx    context.Context
	app    *app.App
	prURL  string
	pr     *core.PRInfo
	phase  phase
	styles styles

	input   textinput.Model
	spin    spinner.Model
	md      *glamour.TermRenderer
	lines   []string
	events  <-chan core.Event
	lastErr error
	width   int
}

func initialModel(ctx context.Context, appInstance *app.App, prURL string) model {
	input := textinput.New()
	input.Placeholder = "Ask about this pull request…"
	input.CharLimit = 500

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	md, _ := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))

	return model{
		ctx:    ctx,
		app:    appInstance,
		prURL:  prURL,
		phase:  phaseLoading,
		styles: newStyles(),
		input:  input,
		spin:   spin,
		md:     md,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.loadPR())
}

func (m model) loadPR() tea.Cmd {
	return func() tea.Msg {
		pr, err := m.app.Service.LoadPR(m.ctx, m.prURL)
		return prLoadedMsg{pr: pr, err: err}
	}
}

func (m model) ask(question string) (model, tea.Cmd) {
	events, err := m.app.Service.Ask(m.ctx, m.pr.ReviewID, question, nil, nil)
	if err != nil {
		m.lastErr = err
		return m, nil
	}
	m.phase = phaseAsking
	m.events = events
	m.lines = append(m.lines, m.styles.prompt.Render("> "+question))
	return m, tea.Batch(m.spin.Tick, waitForEvent(events))
}

func waitForEvent(events <-chan core.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		return streamEventMsg{event: event, ok: ok}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.phase == phaseReady && strings.TrimSpace(m.input.Value()) != "" {
				question := strings.TrimSpace(m.input.Value())
				m.input.Reset()
				return m.ask(question)
			}
		}

	case prLoadedMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, tea.Quit
		}
		m.pr = msg.pr
		m.phase = phaseReady
		m.input.Focus()
		return m, textinput.Blink

	case streamEventMsg:
		if !msg.ok {
			m.phase = phaseReady
			m.input.Focus()
			return m, textinput.Blink
		}
		m.consume(msg.event)
		return m, waitForEvent(m.events)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case errorMsg:
		m.lastErr = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// consume appends one stream event to the scrollback.
func (m *model) consume(event core.Event) {
	switch event.Type {
	case core.EventIteration:
		if it, ok := event.Data.(core.Iteration); ok {
			line := fmt.Sprintf("[%d/%d] %s", it.Index, it.Max, clip(it.Reasoning, 120))
			if it.Error != "" {
				line += " (error: " + it.Error + ")"
			}
			m.lines = append(m.lines, m.styles.iteration.Render(line))
		}
	case core.EventBlock:
		if b, ok := event.Data.(core.AnswerBlock); ok {
			text := b.Content
			if b.Type == core.BlockCode {
				text = fmt.Sprintf("```%s\n%s\n```", b.Language, b.Content)
			}
			if m.md != nil {
				if rendered, err := m.md.Render(text); err == nil {
					text = rendered
				}
			}
			m.lines = append(m.lines, m.styles.answer.Render(text))
		}
	case core.EventError:
		if e, ok := event.Data.(core.ErrorData); ok {
			m.lines = append(m.lines, m.styles.err.Render(fmt.Sprintf("error: %s (%s)", e.Message, e.Type)))
		}
	}
}

func (m model) View() string {
	var b strings.Builder

	switch m.phase {
	case phaseLoading:
		fmt.Fprintf(&b, "%s Loading %s\n", m.spin.View(), m.prURL)
	default:
		header := fmt.Sprintf("%s/%s#%d: %s", m.pr.Repo.Owner, m.pr.Repo.Name, m.pr.Number, m.pr.Title)
		b.WriteString(m.styles.header.Render(header))
		fmt.Fprintf(&b, "\n%s\n\n", m.styles.inactive.Render(
			fmt.Sprintf("+%d -%d in %d files", m.pr.Additions, m.pr.Deletions, len(m.pr.Files))))
	}

	// Keep the last screenful of scrollback.
	lines := m.lines
	if len(lines) > 200 {
		lines = lines[len(lines)-200:]
	}
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	switch m.phase {
	case phaseAsking:
		fmt.Fprintf(&b, "\n%s investigating…\n", m.spin.View())
	case phaseReady:
		fmt.Fprintf(&b, "\n%s\n%s\n", m.input.View(),
			m.styles.inactive.Render("enter to ask · esc to quit"))
	}

	if m.lastErr != nil {
		fmt.Fprintf(&b, "\n%s\n", m.styles.err.Render(m.lastErr.Error()))
	}
	return b.String()
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}
