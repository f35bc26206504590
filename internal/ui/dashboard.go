package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
)

// DashboardData is one refresh of the sale dashboard.
type DashboardData struct {
	Status sale.Status
	Recent []sale.Entry // newest first
}

// DashboardModel is the Bubble Tea model for `status --watch`.
type DashboardModel struct {
	data       DashboardData
	loaded     bool
	lastUpdate time.Time
	interval   time.Duration
	fetcher    func() (DashboardData, error)
	cursor     int
	frame      int
	fetching   bool
	err        string
	quitting   bool
}

type dashTickMsg time.Time
type dashSpinMsg struct{}
type dashFetchedMsg DashboardData
type dashErrorMsg string

// NewDashboardModel creates the dashboard model refreshing every interval.
func NewDashboardModel(interval time.Duration, fetcher func() (DashboardData, error)) DashboardModel {
	return DashboardModel{interval: interval, fetcher: fetcher, fetching: true}
}

// NewDashboard creates a Bubble Tea program for the live sale dashboard.
func NewDashboard(interval time.Duration, fetcher func() (DashboardData, error)) *tea.Program {
	return tea.NewProgram(NewDashboardModel(interval, fetcher))
}

func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), dashTick(m.interval), dashSpin())
}

func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.data.Recent)-1 {
				m.cursor++
			}
		case "r":
			m.fetching = true
			return m, m.fetchCmd()
		}

	case dashTickMsg:
		m.fetching = true
		return m, tea.Batch(m.fetchCmd(), dashTick(m.interval))

	case dashSpinMsg:
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, dashSpin()

	case dashFetchedMsg:
		m.data = DashboardData(msg)
		m.loaded = true
		m.fetching = false
		m.lastUpdate = time.Now()
		m.err = ""
		if m.cursor >= len(m.data.Recent) {
			m.cursor = max(len(m.data.Recent)-1, 0)
		}

	case dashErrorMsg:
		m.fetching = false
		m.err = string(msg)
	}

	return m, nil
}

func (m DashboardModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	st := m.data.Status

	title := "⚡ Live Sale Dashboard"
	if m.loaded {
		title += "  ·  " + TruncateAddr(st.Address.Hex())
	}
	sb.WriteString(StyleTitle.Render(title) + "\n")

	switch {
	case m.err != "":
		sb.WriteString(Err(m.err) + "\n\n")
	case m.fetching:
		sb.WriteString(StyleInfo.Render(spinnerFrames[m.frame]+" refreshing…") + "\n\n")
	default:
		sb.WriteString(StyleMeta.Render("  updated "+m.lastUpdate.Format("15:04:05")) + "\n\n")
	}

	if !m.loaded {
		sb.WriteString(StyleMeta.Render("Loading...") + "\n")
		return sb.String()
	}

	raised, _ := uint256.FromDecimal(st.AmountRaised)
	ceiling, _ := uint256.FromDecimal(st.MaximumRaise)
	sb.WriteString("  " + ProgressBar(raised, ceiling, 40) + "  " +
		Val(st.AmountRaised) + StyleMeta.Render(" / "+st.MaximumRaise) + "\n\n")

	sb.WriteString(KeyValueBlock("", [][2]string{
		{"Phase", Phase(st)},
		{"Administrator", st.Administrator.Hex()},
		{"Balance", st.Balance},
		{"Contributors", fmt.Sprint(st.Contributors)},
		{"Whitelisted", fmt.Sprint(st.Whitelisted)},
		{"Ends", st.EndTime.Format(time.RFC3339)},
	}) + "\n")

	sb.WriteString(StyleHeader.Render("Recent calls") + "\n")
	if len(m.data.Recent) == 0 {
		sb.WriteString(StyleMeta.Render("  No calls yet…") + "\n")
	} else {
		t := EntryTable(m.data.Recent)
		t.SelIdx = m.cursor
		sb.WriteString(t.Render())
	}

	sb.WriteString("\n" + dashboardControls() + "\n")
	return sb.String()
}

// Phase summarises the lifecycle flags of a sale.
func Phase(st sale.Status) string {
	switch {
	case st.Ended:
		return StyleError.Render("ended")
	case st.Paused:
		return StyleWarning.Render("paused")
	case st.Withdrawable:
		return StyleWarning.Render("closed")
	default:
		return StyleSuccess.Render("open")
	}
}

// EntryTable renders journal entries, one row each.
func EntryTable(entries []sale.Entry) *Table {
	t := NewTable([]Column{
		{Title: "Time", Width: 19},
		{Title: "Entry point", Width: 20},
		{Title: "Caller", Width: 13},
		{Title: "Amount", Width: 14},
		{Title: "Outcome", Width: 28},
	})
	for _, e := range entries {
		t.AddRow(Row{
			e.At.Format("2006-01-02 15:04:05"),
			string(e.EntryPoint),
			TruncateAddr(e.Caller.Hex()),
			e.Amount.Dec(),
			outcome(e),
		})
	}
	return t
}

func outcome(e sale.Entry) string {
	switch e.Outcome {
	case sale.OutcomeApplied:
		return StyleSuccess.Render("applied")
	case sale.OutcomeRejected:
		if e.Kind != 0 {
			return StyleError.Render("rejected " + e.Kind.String())
		}
		return StyleError.Render("rejected")
	default:
		return StyleWarning.Render(string(e.Outcome))
	}
}

func dashboardControls() string {
	sep := StyleMeta.Render("   ")
	return StyleMeta.Render("[ ↑↓ ] navigate") + sep +
		StyleInfo.Render("[ r ]") + StyleMeta.Render(" refresh") + sep +
		StyleMeta.Render("[ q ] quit")
}

func (m DashboardModel) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		data, err := m.fetcher()
		if err != nil {
			return dashErrorMsg(err.Error())
		}
		return dashFetchedMsg(data)
	}
}

func dashTick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return dashTickMsg(t)
	})
}

func dashSpin() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg {
		return dashSpinMsg{}
	})
}
