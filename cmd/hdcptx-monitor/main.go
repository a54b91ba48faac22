// Command hdcptx-monitor is a terminal dashboard over a running hdcp1x
// transmitter instance: current state, previous state, and accumulated
// Stats, refreshed on a fixed tick. It drives the same simulated link as
// hdcptx-demo so it can be run standalone for a live look at the FSM
// without external hardware.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/usbarmory/hdcp1x/hdcp1x"
	"github.com/usbarmory/hdcp1x/sim"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#34D399")).
			Padding(0, 2).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF"))

	authStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34D399")).
			Bold(true)

	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2563EB")).
			Padding(1, 2)
)

type tickMsg time.Time

type model struct {
	tx      *hdcp1x.TxInstance
	width   int
	spinner spinner.Model
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			// Authenticate drains ahead of Reset's Disable/Enable, so let
			// the reset take effect first.
			m.tx.Reset()
			m.tx.Poll()
			m.tx.Authenticate()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.tx.Poll()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	width := m.width
	if width == 0 {
		width = 72
	}

	header := headerStyle.Width(width).Render(" hdcptx-monitor | q quit | r re-authenticate")

	state := m.tx.State()
	stats := m.tx.Stats()

	var stateLine string
	switch {
	case m.tx.IsAuthenticated():
		stateLine = authStyle.Render(fmt.Sprintf("state: %s (authenticated)", state))
	case m.tx.IsInProgress():
		stateLine = progressStyle.Render(fmt.Sprintf("%s state: %s (authenticating)", m.spinner.View(), state))
	default:
		stateLine = failStyle.Render(fmt.Sprintf("state: %s", state))
	}

	body := fmt.Sprintf(
		"%s\n\n%s %d   %s %d   %s %d\n%s %d   %s %d   %s %d",
		stateLine,
		labelStyle.Render("auth passed:"), stats.AuthPassed,
		labelStyle.Render("auth failed:"), stats.AuthFailed,
		labelStyle.Render("reauth requested:"), stats.ReauthRequested,
		labelStyle.Render("link checks passed:"), stats.LinkCheckPassed,
		labelStyle.Render("link checks failed:"), stats.LinkCheckFailed,
		labelStyle.Render("read failures:"), stats.ReadFailures,
	)

	box := boxStyle.Width(width - 4).Render(body)

	return lipgloss.JoinVertical(lipgloss.Left, header, box)
}

func main() {
	// Both KSVs are fixed 40-bit values with the required popcount of 20,
	// so ExchangeKsvs' validity check always passes.
	txCipher := &sim.Cipher{OwnKSV: 0x5555555555}
	rxCipher := &sim.Cipher{OwnKSV: 0x99999999C3}

	receiver := sim.NewReceiver(rxCipher)
	receiver.BKSV = rxCipher.OwnKSV
	receiver.Capable = true

	config := &hdcp1x.Config{DeviceId: 0, IsHDMI: true}

	var tx *hdcp1x.TxInstance
	platform := sim.NewPlatform(func() {
		if tx != nil {
			tx.HandleTimeout()
		}
	})

	var err error
	tx, err = hdcp1x.NewTxInstance(config, txCipher, receiver, platform, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hdcptx-monitor: %v\n", err)
		os.Exit(1)
	}
	// The physical link starts out down, and Authenticate is ignored while
	// Disabled: report the link up, then let Enable take effect first.
	tx.SetPhysicalState(true)
	tx.Poll()
	tx.Enable()
	tx.Poll()
	tx.Authenticate()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = progressStyle

	m := model{tx: tx, spinner: sp}
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "hdcptx-monitor: %v\n", err)
		os.Exit(1)
	}
}
