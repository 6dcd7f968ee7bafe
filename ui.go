package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/targon-build/targon/engine"
	"github.com/targon-build/targon/project"
	"github.com/targon-build/targon/target"
)

type inspectorModel struct {
	viewport    viewport.Model
	detailView  viewport.Model
	proj        *project.Project
	graph       *engine.Graph
	targets     []*target.Target
	selectedIdx int
	showDetail  bool
	done        bool
}

func newInspectorModel(proj *project.Project, graph *engine.Graph) *inspectorModel {
	return &inspectorModel{
		viewport:   viewport.New(160, 40),
		detailView: viewport.New(160, 20),
		proj:       proj,
		graph:      graph,
		targets:    proj.Targets(),
	}
}

func (m *inspectorModel) Init() tea.Cmd {
	return nil
}

func (m *inspectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.done = true
			return m, tea.Quit
		case "up", "k":
			if !m.showDetail {
				m.selectedIdx = (m.selectedIdx - 1 + len(m.targets)) % len(m.targets)
			} else {
				m.detailView, cmd = m.detailView.Update(msg)
				cmds = append(cmds, cmd)
			}
		case "down", "j":
			if !m.showDetail {
				m.selectedIdx = (m.selectedIdx + 1) % len(m.targets)
			} else {
				m.detailView, cmd = m.detailView.Update(msg)
				cmds = append(cmds, cmd)
			}
		case "enter", " ":
			m.showDetail = !m.showDetail
			if m.showDetail {
				m.detailView.SetContent(m.detailContent())
				m.detailView.GotoTop()
			}
		case "esc":
			m.showDetail = false
		}
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 1
		m.detailView.Width = msg.Width
		m.detailView.Height = msg.Height / 2
		return m, nil
	}

	m.viewport.SetContent(m.listContent())
	return m, tea.Batch(cmds...)
}

func (m *inspectorModel) View() string {
	if m.done {
		return "Exiting...\n"
	}
	var sb strings.Builder
	sb.WriteString(m.viewport.View())
	if m.showDetail {
		sb.WriteString("\n\nTarget:\n")
		sb.WriteString(m.detailView.View())
	}
	sb.WriteString("\n\033[1mPress q to quit, enter/space to toggle the target view, up/down or j/k to navigate\033[0m")
	return sb.String()
}

func (m *inspectorModel) listContent() string {
	var sb strings.Builder
	sb.WriteString("Targon Target Registry\n\n")

	kindStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	stateStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	generated := lipgloss.NewStyle().Foreground(lipgloss.Color("82"))

	for i, t := range m.targets {
		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}

		state := "-"
		style := stateStyle
		if t.Kind.GeneratesCommands() {
			state = t.State.String()
			if t.State == target.StateGenerated {
				style = generated
			}
		}

		sb.WriteString(fmt.Sprintf(
			"%s%-32s | %-18s | %-10s | steps: %d\n",
			prefix,
			t.UID,
			kindStyle.Render(t.Kind.String()),
			style.Render(state),
			len(m.graph.StepsFor(t.UID)),
		))
	}

	return sb.String()
}

func (m *inspectorModel) detailContent() string {
	if m.selectedIdx >= len(m.targets) {
		return ""
	}
	t := m.targets[m.selectedIdx]

	var sb strings.Builder
	fmt.Fprintf(&sb, "uid:      %s\n", t.UID)
	fmt.Fprintf(&sb, "kind:     %s\n", t.Kind)
	fmt.Fprintf(&sb, "language: %s\n", t.Language)
	fmt.Fprintf(&sb, "output:   %s\n", t.OutputDir)
	if t.InstallDir != "" {
		fmt.Fprintf(&sb, "install:  %s [%s]\n", t.InstallDir, t.InstallComponent)
	} else {
		sb.WriteString("install:  (disabled)\n")
	}

	if len(t.LinkDeps) > 0 {
		sb.WriteString("\nlink dependencies:\n")
		for _, dep := range t.LinkDeps {
			marker := "external"
			if dep.Resolved() {
				marker = "target"
			}
			fmt.Fprintf(&sb, "  %s (%s)\n", dep, marker)
		}
	}

	if steps := m.graph.StepsFor(t.UID); len(steps) > 0 {
		sb.WriteString("\nbuild steps:\n")
		for _, s := range steps {
			fmt.Fprintf(&sb, "  %s\n", s.Description)
			for _, out := range s.Outputs {
				fmt.Fprintf(&sb, "    -> %s\n", out)
			}
		}
	}

	if installs := m.graph.InstallsFor(t.UID); len(installs) > 0 {
		sb.WriteString("\ninstall entries:\n")
		for _, e := range installs {
			fmt.Fprintf(&sb, "  %s -> %s\n", e.Source, e.Destination)
		}
	}

	return sb.String()
}

func runInspector(proj *project.Project, graph *engine.Graph) error {
	p := tea.NewProgram(newInspectorModel(proj, graph))
	_, err := p.Run()
	return err
}
