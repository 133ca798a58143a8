package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"yuzu/discussion/internal/orchestrator"
	"yuzu/discussion/internal/persona"
	"yuzu/discussion/internal/transcript"
	"yuzu/discussion/internal/types"
)

// discussion is the slice of a session the TUI drives.
type discussion interface {
	Snapshot() (orchestrator.Snapshot, error)
	SubmitHumanTurn(text string) bool
	ActivateMicrophone() error
	RequestFinalEvaluation(ctx context.Context) (orchestrator.Evaluation, error)
}

type eventMsg struct{ event types.Event }

type evalDoneMsg struct {
	ev  orchestrator.Evaluation
	err error
}

var personaColors = map[string]lipgloss.Color{
	"red":     lipgloss.Color("#ef4444"),
	"blue":    lipgloss.Color("#3b82f6"),
	"emerald": lipgloss.Color("#10b981"),
	"amber":   lipgloss.Color("#f59e0b"),
}

type theme struct {
	header  lipgloss.Style
	tip     lipgloss.Style
	system  lipgloss.Style
	human   lipgloss.Style
	warn    lipgloss.Style
	status  lipgloss.Style
	help    lipgloss.Style
	panel   lipgloss.Style
	persona map[string]lipgloss.Style
}

func newTheme(roster persona.Roster) theme {
	muted := lipgloss.Color("#9ca3af")
	th := theme{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f3f4f6")).
			BorderStyle(lipgloss.RoundedBorder()).BorderBottom(true).Padding(0, 1),
		tip:     lipgloss.NewStyle().Foreground(muted).Italic(true),
		system:  lipgloss.NewStyle().Foreground(muted).Italic(true),
		human:   lipgloss.NewStyle().Foreground(lipgloss.Color("#a78bfa")).Bold(true),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#f43f5e")).Bold(true),
		status:  lipgloss.NewStyle().Foreground(lipgloss.Color("#38bdf8")),
		help:    lipgloss.NewStyle().Foreground(muted),
		panel:   lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).Padding(0, 1),
		persona: make(map[string]lipgloss.Style, len(roster)),
	}
	for _, p := range roster {
		c, ok := personaColors[p.Color]
		if !ok {
			c = lipgloss.Color("#e5e7eb")
		}
		th.persona[p.ID] = lipgloss.NewStyle().Foreground(c).Bold(true)
	}
	return th
}

type model struct {
	ctx    context.Context
	sess   discussion
	events <-chan types.Event
	roster persona.Roster

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    theme

	snap       orchestrator.Snapshot
	eval       *orchestrator.Evaluation
	evaluating bool
	statusLine string
	width      int
	height     int
}

func newModel(ctx context.Context, sess discussion, events <-chan types.Event) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Placeholder = "发言后回车；/mic 抢话，/eval 结束并评估，/quit 退出"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points

	m := model{
		ctx:      ctx,
		sess:     sess,
		events:   events,
		roster:   persona.Default,
		input:    input,
		timeline: viewport.New(0, 0),
		spinner:  sp,
		theme:    newTheme(persona.Default),
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitEvent(m.events))
}

func waitEvent(ch <-chan types.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{event: evt}
	}
}

func (m model) evaluateCmd() tea.Cmd {
	return func() tea.Msg {
		ev, err := m.sess.RequestFinalEvaluation(m.ctx)
		return evalDoneMsg{ev: ev, err: err}
	}
}

func (m *model) refresh() {
	snap, err := m.sess.Snapshot()
	if err != nil {
		m.statusLine = err.Error()
		return
	}
	m.snap = snap
	m.renderTimeline()
}

func (m *model) renderTimeline() {
	body := renderTurns(m.theme, m.snap.Turns, m.timeline.Width)
	if m.eval != nil {
		body += "\n" + renderReport(*m.eval)
	}
	m.timeline.SetContent(body)
	m.timeline.GotoBottom()
}

func (m *model) resize() {
	m.input.Width = max(m.width-4, 10)
	m.timeline.Width = max(m.width-2, 10)
	// header (3) + status (1) + input (1) + help (1)
	m.timeline.Height = max(m.height-8, 3)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.renderTimeline()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case eventMsg:
		if msg.event.Type == orchestrator.EventRoundLimit {
			m.statusLine = "讨论轮次已用尽，输入 /eval 查看评估"
		}
		m.refresh()
		cmds = append(cmds, waitEvent(m.events))
	case evalDoneMsg:
		m.evaluating = false
		if msg.err != nil {
			m.statusLine = "评估失败：" + msg.err.Error()
			break
		}
		m.eval = &msg.ev
		m.statusLine = fmt.Sprintf("评估完成，综合得分 %d", msg.ev.Report.OverallScore)
		m.refresh()
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		case "enter":
			return m.submit()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	switch text {
	case "":
		return m, nil
	case "/quit":
		return m, tea.Quit
	case "/mic":
		if err := m.sess.ActivateMicrophone(); err != nil {
			m.statusLine = err.Error()
		}
		return m, nil
	case "/eval":
		if m.evaluating || m.eval != nil {
			return m, nil
		}
		m.evaluating = true
		m.statusLine = "正在生成评估报告..."
		return m, m.evaluateCmd()
	}
	if !m.sess.SubmitHumanTurn(text) {
		m.statusLine = "讨论已结束，发言未被记录"
	}
	return m, nil
}

func (m model) View() string {
	header := m.theme.header.Width(max(m.width-2, 10)).Render(fmt.Sprintf("%s  ·  %s  ·  第 %d/%d 轮",
		truncate(m.snap.Config.Topic, 40), m.snap.PhaseLabel, m.snap.Round, m.snap.MaxRounds))
	tip := m.theme.tip.Render("提示：" + m.snap.Tip)
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		tip,
		m.timeline.View(),
		m.statusView(),
		m.input.View(),
		m.theme.help.Render("enter 发言 · pgup/pgdown 滚动 · esc 退出"),
	)
}

func (m model) statusView() string {
	var parts []string
	if a := m.snap.ActiveSpeaker; a != nil {
		style := m.theme.persona[a.PersonaID]
		parts = append(parts, m.spinner.View()+" "+style.Render(shortName(m.roster, a.PersonaID))+" 正在准备发言")
	}
	if in := m.snap.Interruption; in != nil {
		parts = append(parts, m.theme.warn.Render("你打断了 "+shortName(m.roster, in.PersonaID)))
	}
	if m.snap.Frozen {
		parts = append(parts, m.theme.warn.Render("讨论已冻结"))
	}
	if m.statusLine != "" {
		parts = append(parts, m.statusLine)
	}
	return m.theme.status.Render(strings.Join(parts, "  |  "))
}

func shortName(r persona.Roster, id string) string {
	if p, ok := r.Get(id); ok {
		return p.ShortName()
	}
	return id
}

func renderTurns(th theme, turns []transcript.Turn, width int) string {
	var b strings.Builder
	wrap := lipgloss.NewStyle()
	if width > 0 {
		wrap = wrap.Width(width)
	}
	for _, t := range turns {
		switch {
		case t.Kind == transcript.KindSystem:
			b.WriteString(wrap.Render(th.system.Render("· " + t.Text)))
		case t.IsHuman():
			b.WriteString(wrap.Render(th.human.Render(t.SpeakerName+"：") + t.Text))
		default:
			style, ok := th.persona[t.SpeakerID]
			if !ok {
				style = lipgloss.NewStyle().Bold(true)
			}
			b.WriteString(wrap.Render(style.Render(t.SpeakerName+"：") + t.Text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderReport(ev orchestrator.Evaluation) string {
	r := ev.Report
	var b strings.Builder
	fmt.Fprintf(&b, "━━ 评估报告 ━━\n综合得分：%d\n发言占比：%d%%\n", r.OverallScore, ev.VoiceShare)
	fmt.Fprintf(&b, "时机把握：%s\n结构贡献：%s\n抗压表现：%s\n", r.Timing, r.StructuralContribution, r.InterruptionHandling)
	for i, s := range r.Suggestions {
		fmt.Fprintf(&b, "建议 %d：%s\n", i+1, s)
	}
	return b.String()
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "…"
}
