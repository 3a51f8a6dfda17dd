package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"folderpull/internal/jobs"
	"folderpull/internal/model"
)

var (
	tuiTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tuiErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	tuiOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	tuiPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const tuiMaxFailures = 6

type jobEventMsg model.Event

type jobDoneMsg struct {
	state model.JobState
	err   error
}

type downloadModel struct {
	state    model.JobState
	overall  progress.Model
	item     progress.Model
	spin     spinner.Model
	failures []string
	width    int
	finished bool
	err      error
	cancel   context.CancelFunc
}

func newDownloadModel(cancel context.CancelFunc) downloadModel {
	return downloadModel{
		state:   model.NewJobState("", "", ""),
		overall: progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		item:    progress.New(progress.WithSolidFill("62"), progress.WithWidth(50)),
		spin:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		cancel:  cancel,
	}
}

func (m downloadModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m downloadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := msg.Width - 8
		if w > 80 {
			w = 80
		}
		if w < 10 {
			w = 10
		}
		m.overall.Width = w
		m.item.Width = w
		return m, nil
	case jobEventMsg:
		ev := model.Event(msg)
		m.state = ev.State
		if ev.Kind == model.EventItemFinished && ev.Result != nil && !ev.Result.OK() {
			m.failures = append(m.failures, fmt.Sprintf("%s: %v", ev.Result.Item.Label(), ev.Result.Err))
			if len(m.failures) > tuiMaxFailures {
				m.failures = m.failures[len(m.failures)-tuiMaxFailures:]
			}
		}
		return m, nil
	case jobDoneMsg:
		m.state = msg.state
		m.err = msg.err
		m.finished = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m downloadModel) View() string {
	s := m.state
	header := tuiTitleStyle.Render("folderpull") + " " + tuiMutedStyle.Render(firstNonEmpty(s.FolderName, s.FolderID))

	var b strings.Builder
	switch {
	case m.finished:
		b.WriteString(statusBadge(s.Status) + "\n")
	case s.Status == model.StatusRunning && s.TotalFiles() == 0:
		b.WriteString(m.spin.View() + " preparing...\n")
	default:
		b.WriteString(m.spin.View() + " " + truncateLabel(s.CurrentItemLabel, 70) + "\n")
	}
	if s.Destination != "" {
		b.WriteString(tuiMutedStyle.Render("into "+s.Destination) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("files  %d/%d", s.DoneCount, s.TotalFiles()))
	if s.FailedCount > 0 {
		b.WriteString("  " + tuiErrorStyle.Render(fmt.Sprintf("failed %d", s.FailedCount)))
	}
	if s.BytesWritten > 0 {
		b.WriteString("  " + tuiMutedStyle.Render(formatBytesIEC(s.BytesWritten)))
	}
	b.WriteString("\n")
	b.WriteString(m.overall.ViewAs(float64(s.OverallPercent())/100) + "\n")
	b.WriteString(m.item.ViewAs(float64(s.CurrentItemPercent)/100) + "\n")

	if len(m.failures) > 0 {
		b.WriteString("\n")
		for _, f := range m.failures {
			b.WriteString(tuiErrorStyle.Render("x ") + truncateLabel(f, 90) + "\n")
		}
	}
	if s.ErrorMessage != "" {
		b.WriteString("\n" + tuiErrorStyle.Render(s.ErrorMessage) + "\n")
	}
	if !m.finished {
		b.WriteString("\n" + tuiMutedStyle.Render("q / ctrl+c: stop after the current file"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, tuiPanelStyle.Render(strings.TrimRight(b.String(), "\n")))
}

func statusBadge(status model.JobStatus) string {
	switch status {
	case model.StatusDone:
		return tuiOKStyle.Render(model.CompletedLabel)
	case model.StatusError:
		return tuiErrorStyle.Render("Failed")
	case model.StatusCancelled:
		return tuiErrorStyle.Render("Cancelled")
	case model.StatusIdle:
		return tuiMutedStyle.Render("Declined")
	default:
		return string(status)
	}
}

// runWithTUI runs the job while a bubbletea program renders its events.
func runWithTUI(ctx context.Context, build func(jobs.Observer) *jobs.Orchestrator, req jobs.Request) (model.JobState, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newDownloadModel(cancel))
	orch := build(func(ev model.Event) { p.Send(jobEventMsg(ev)) })

	done := make(chan jobDoneMsg, 1)
	go func() {
		state, err := orch.Run(ctx, req)
		msg := jobDoneMsg{state: state, err: err}
		done <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		res := <-done
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return res.state, errors.Join(res.err, errors.New("--tui requires an interactive terminal (TTY)"))
		}
		return res.state, errors.Join(res.err, err)
	}
	res := <-done
	return res.state, res.err
}
