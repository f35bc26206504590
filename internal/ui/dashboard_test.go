package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
)

func sampleData() DashboardData {
	return DashboardData{
		Status: sale.Status{
			Administrator: common.HexToAddress("0x00000000000000000000000000000000000000ad"),
			Address:       common.HexToAddress("0x0000000000000000000000000000000000005a1e"),
			AmountRaised:  "42000",
			MaximumRaise:  "84000",
			Balance:       "42000",
			Contributors:  1,
			Whitelisted:   3,
			EndTime:       time.Date(2021, 5, 20, 12, 44, 0, 0, time.UTC),
		},
		Recent: []sale.Entry{
			{
				EntryPoint: sale.EntryBuyTokens,
				Caller:     common.HexToAddress("0x00000000000000000000000000000000000000a1"),
				Amount:     *uint256.NewInt(42001),
				Outcome:    sale.OutcomeRejected,
				Kind:       sale.IndividualExceed,
			},
			{
				EntryPoint: sale.EntryBuyTokens,
				Caller:     common.HexToAddress("0x00000000000000000000000000000000000000a1"),
				Amount:     *uint256.NewInt(42000),
				Outcome:    sale.OutcomeApplied,
			},
		},
	}
}

func update(t *testing.T, m tea.Model, msg tea.Msg) DashboardModel {
	t.Helper()
	next, _ := m.Update(msg)
	dm, ok := next.(DashboardModel)
	require.True(t, ok)
	return dm
}

func TestDashboardLoadingView(t *testing.T) {
	m := NewDashboardModel(time.Second, func() (DashboardData, error) { return DashboardData{}, nil })
	assert.Contains(t, m.View(), "Loading")
}

func TestDashboardFetchRendersSale(t *testing.T) {
	data := sampleData()
	m := NewDashboardModel(time.Second, func() (DashboardData, error) { return data, nil })

	msg := m.fetchCmd()()
	m = update(t, m, msg)

	view := m.View()
	assert.Contains(t, view, TruncateAddr(data.Status.Address.Hex()))
	assert.Contains(t, view, "50.0%")
	assert.Contains(t, view, "open")
	assert.Contains(t, view, "InidividualExceed")
	assert.Contains(t, view, "applied")
}

func TestDashboardFetchError(t *testing.T) {
	m := NewDashboardModel(time.Second, func() (DashboardData, error) { return DashboardData{}, errors.New("store locked") })
	m = update(t, m, m.fetchCmd()())
	assert.Contains(t, m.View(), "store locked")
}

func TestDashboardCursorStaysInRange(t *testing.T) {
	data := sampleData()
	m := NewDashboardModel(time.Second, func() (DashboardData, error) { return data, nil })
	m = update(t, m, m.fetchCmd()())

	for range 5 {
		m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	}
	assert.Equal(t, len(data.Recent)-1, m.cursor)
	for range 5 {
		m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	}
	assert.Equal(t, 0, m.cursor)
}

func TestDashboardQuit(t *testing.T) {
	m := NewDashboardModel(time.Second, func() (DashboardData, error) { return DashboardData{}, nil })
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Empty(t, next.View())
}

func TestPhase(t *testing.T) {
	assert.Contains(t, Phase(sale.Status{}), "open")
	assert.Contains(t, Phase(sale.Status{Paused: true}), "paused")
	assert.Contains(t, Phase(sale.Status{Withdrawable: true}), "closed")
	assert.Contains(t, Phase(sale.Status{Ended: true, Paused: true}), "ended")
}

// ---------------------------------------------------------------------------
// Confirm / Spinner
// ---------------------------------------------------------------------------

func TestConfirmFrom(t *testing.T) {
	tests := map[string]bool{
		"y\n":    true,
		"YES\n":  true,
		" yes ":  true,
		"n\n":    false,
		"\n":     false,
		"maybe\n": false,
	}
	for in, want := range tests {
		var out bytes.Buffer
		assert.Equal(t, want, ConfirmFrom(strings.NewReader(in), &out, "withdraw?"), "input %q", in)
		assert.Contains(t, out.String(), "withdraw? [y/N]")
	}
}

func TestSpinnerStopWithMsg(t *testing.T) {
	var out bytes.Buffer
	s := NewSpinnerTo(&out, "waiting for receipt")
	s.Start()
	s.StopWithMsg("done")
	assert.Contains(t, out.String(), "waiting for receipt")
	assert.True(t, strings.HasSuffix(out.String(), "done\n"))
}
