package tui

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"fsagent/task"
)

// confirmModel is a one-key yes/no prompt. Anything but y is a no.
type confirmModel struct {
	prompt string
	answer bool
	done   bool
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.answer = true
		m.done = true
		return m, tea.Quit
	case "n", "N", "enter", "esc", "ctrl+c", "q":
		m.answer = false
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.done {
		if m.answer {
			return warnStyle.Render(m.prompt) + " yes\n"
		}
		return warnStyle.Render(m.prompt) + " no\n"
	}
	return warnStyle.Render(m.prompt) + " [y/N] "
}

// Confirmer returns a prompt that asks on out and reads a key from in.
func Confirmer(in io.Reader, out io.Writer) task.Confirm {
	return func(prompt string) bool {
		p := tea.NewProgram(confirmModel{prompt: prompt}, tea.WithInput(in), tea.WithOutput(out))
		final, err := p.Run()
		if err != nil {
			return false
		}
		m, ok := final.(confirmModel)
		return ok && m.answer
	}
}

// AlwaysYes approves every prompt; used with --yes.
func AlwaysYes(string) bool { return true }
