package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"go-daw/midi"
	"go-daw/sequencer"
	"go-daw/syncbus"
)

// subscriber id on the sync bus
const busID = "tui"

// Model is a status monitor: tempo, beat, sequences and devices.
type Model struct {
	ctx     context.Context
	Manager *sequencer.Manager
	Devices *midi.Registry
	Bus     *syncbus.Bus

	beats    *syncbus.Subscription
	status   sequencer.Status
	detail   *sequencer.Sequence
	devices  []string
	beat     string
	cursor   int
	err      error
	quitting bool
}

type UpdateMsg struct{}

type DeviceEventMsg midi.DeviceEvent

// BeatMsg carries a beat label from the bus.
type BeatMsg string

type beatsClosedMsg struct{}

type errMsg struct{ err error }

type sequenceMsg struct{ seq *sequencer.Sequence }

func NewModel(ctx context.Context, manager *sequencer.Manager, devices *midi.Registry, bus *syncbus.Bus, beats *syncbus.Subscription) Model {
	return Model{
		ctx:     ctx,
		Manager: manager,
		Devices: devices,
		Bus:     bus,
		beats:   beats,
		status:  manager.Status(),
		devices: devices.List(),
	}
}

func ListenForUpdates(manager *sequencer.Manager) tea.Cmd {
	return func() tea.Msg {
		<-manager.Updates()
		return UpdateMsg{}
	}
}

func ListenForDevices(devices *midi.Registry) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-devices.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

// ListenForBeats waits for the next beat label, skipping tick frames.
func ListenForBeats(sub *syncbus.Subscription) tea.Cmd {
	return func() tea.Msg {
		for msg := range sub.C() {
			if msg.Kind == syncbus.Text && syncbus.IsBeatLabel(msg.Text) {
				return BeatMsg(msg.Text)
			}
		}
		return beatsClosedMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		ListenForUpdates(m.Manager),
		ListenForDevices(m.Devices),
		ListenForBeats(m.beats),
		m.fetchSelected(),
	)
}

// exec runs a manager call off the UI goroutine.
func (m Model) exec(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(m.ctx); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

// fetchSelected loads the selected sequence for the step view.
func (m Model) fetchSelected() tea.Cmd {
	seq, ok := m.selected()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		got, err := m.Manager.GetSequence(m.ctx, seq.Name)
		if err != nil {
			return errMsg{err}
		}
		return sequenceMsg{got}
	}
}

func (m Model) selected() (sequencer.SequenceStatus, bool) {
	if m.cursor < 0 || m.cursor >= len(m.status.Sequences) {
		return sequencer.SequenceStatus{}, false
	}
	return m.status.Sequences[m.cursor], true
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case UpdateMsg:
		m.refresh()
		return m, tea.Batch(ListenForUpdates(m.Manager), m.fetchSelected())

	case sequenceMsg:
		if seq, ok := m.selected(); ok && seq.Name == msg.seq.Name {
			m.detail = msg.seq
		}

	case BeatMsg:
		m.beat = string(msg)
		m.refresh()
		return m, ListenForBeats(m.beats)

	case beatsClosedMsg:
		// dropped for falling behind
		sub, err := m.Bus.Connect(busID)
		if err != nil {
			m.err = err
			return m, nil
		}
		m.beats = sub
		return m, ListenForBeats(m.beats)

	case DeviceEventMsg:
		m.devices = m.Devices.List()
		return m, ListenForDevices(m.Devices)

	case errMsg:
		m.err = msg.err
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	seq, ok := m.selected()

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.detail = nil
			return m, m.fetchSelected()
		}

	case "down", "j":
		if m.cursor < len(m.status.Sequences)-1 {
			m.cursor++
			m.detail = nil
			return m, m.fetchSelected()
		}

	case " ", "enter":
		if !ok {
			break
		}
		if seq.State == sequencer.Stopped {
			return m, m.exec(func(ctx context.Context) error { return m.Manager.Play(ctx, seq.Name) })
		}
		return m, m.exec(func(ctx context.Context) error { return m.Manager.Stop(ctx, seq.Name) })

	case "s":
		if ok {
			return m, m.exec(func(ctx context.Context) error { return m.Manager.QueueStop(ctx, seq.Name) })
		}

	case "a":
		return m, m.exec(m.Manager.PlayAll)

	case "x":
		return m, m.exec(m.Manager.StopAll)

	case "!":
		return m, m.exec(m.Manager.Panic)

	case "+", "=":
		m.Manager.SetTempo(m.status.Tempo + 5)

	case "-", "_":
		m.Manager.SetTempo(m.status.Tempo - 5)
	}

	return m, nil
}

func (m *Model) refresh() {
	m.status = m.Manager.Status()
	if m.cursor >= len(m.status.Sequences) {
		m.cursor = max(0, len(m.status.Sequences)-1)
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	beat := m.beat
	if beat == "" {
		beat = "-"
	}
	header := headerStyle.Render(fmt.Sprintf("go-daw  %3.0fbpm", m.status.Tempo)) + "  " + beatStyle.Render(fmt.Sprintf("%-2s", beat))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(sectionStyle.Render("sequences"))
	out.WriteString("\n")
	out.WriteString(m.sequencesView())
	if m.detail != nil {
		out.WriteString("\n")
		out.WriteString(stepsView(m.detail))
	}
	out.WriteString("\n")
	out.WriteString(sectionStyle.Render("devices"))
	out.WriteString("\n")
	out.WriteString(devicesView(m.devices))
	out.WriteString("\n")

	if m.err != nil {
		out.WriteString(errStyle.Render(m.err.Error()))
		out.WriteString("\n")
	}
	out.WriteString(dimStyle.Render("j/k:select  space:play/stop  s:stop at loop end  a:all  x:stop all  +/-:tempo  !:panic  q:quit"))

	return out.String()
}

func (m Model) sequencesView() string {
	if len(m.status.Sequences) == 0 {
		return dimStyle.Render("  (none)") + "\n"
	}
	var b strings.Builder
	for i, s := range m.status.Sequences {
		row := sequenceRow(s)
		if i == m.cursor {
			b.WriteString(cursorStyle.Render(">") + " ")
		} else {
			b.WriteString("  ")
		}
		b.WriteString(stateStyle(s.State).Render(row))
		b.WriteString("\n")
	}
	return b.String()
}

func sequenceRow(s sequencer.SequenceStatus) string {
	return fmt.Sprintf("%c %-16s %-24s ch%-2d %3d steps  %s", stateSymbol(s.State), s.Name, s.Device, s.Channel, s.Len, s.State)
}

// stepsView renders a sequence tracker style, four steps per line.
func stepsView(seq *sequencer.Sequence) string {
	var b strings.Builder
	for i, st := range seq.Steps {
		note := "---"
		if len(st.Notes) > 0 {
			note = sequencer.NoteName(st.Notes[0].Note)
			if len(st.Notes) > 1 {
				note += fmt.Sprintf("+%d", len(st.Notes)-1)
			}
		}
		cmd := st.Cmds[0]
		if cmd.IsNone() {
			cmd = st.Cmds[1]
		}
		cell := fmt.Sprintf("%02d %-6s %-10s", i, note, cmd)
		if len(st.Notes) == 0 && cmd.IsNone() {
			b.WriteString(dimStyle.Render(cell))
		} else {
			b.WriteString(textStyle.Render(cell))
		}
		if i%4 == 3 || i == len(seq.Steps)-1 {
			b.WriteString("\n")
		} else {
			b.WriteString(" ")
		}
	}
	return b.String()
}

func devicesView(names []string) string {
	if len(names) == 0 {
		return dimStyle.Render("  (none)") + "\n"
	}
	var b strings.Builder
	for _, name := range names {
		b.WriteString(textStyle.Render("  " + name))
		b.WriteString("\n")
	}
	return b.String()
}

// Run shows the monitor until the user quits or ctx is done.
func Run(ctx context.Context, manager *sequencer.Manager, devices *midi.Registry, bus *syncbus.Bus) error {
	sub, err := bus.Connect(busID)
	if err != nil {
		return err
	}
	defer bus.Disconnect(busID)

	p := tea.NewProgram(NewModel(ctx, manager, devices, bus, sub), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
