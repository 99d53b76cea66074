package console

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/footrig/eventlog"
	"github.com/arloliu/footrig/fieldbus/simbus"
	"github.com/arloliu/footrig/logger"
	"github.com/arloliu/footrig/reliability"
	"github.com/arloliu/footrig/rig"
)

func startRig(t *testing.T) *rig.Controller {
	t.Helper()

	cfg := simbus.DefaultPlantConfig()
	cfg.RiseRate = 0
	ctrl := rig.New(simbus.New(simbus.WithPlant(cfg)),
		rig.WithLogger(logger.NewNop()),
		rig.WithJournal(eventlog.New(eventlog.WithLogger(logger.NewNop()))),
		rig.WithCyclePeriod(2*time.Millisecond),
		rig.WithoutLogFile(),
		rig.WithReportDir(t.TempDir()),
		rig.WithTestTiming(10*time.Millisecond, 10*time.Millisecond),
	)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(func() { _ = ctrl.Close(context.Background()) })

	return ctrl
}

func press(m tea.Model, k string) (tea.Model, tea.Cmd) {
	return m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
}

func TestModel_Views(t *testing.T) {
	assert := assert.New(t)

	var m tea.Model = NewModel(startRig(t))
	m, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(cmd, "tick reschedules itself")
	assert.Contains(m.View(), "AI1")
	assert.Contains(m.View(), "reliability: Idle")

	m, _ = press(m, "h")
	assert.Contains(m.View(), "=== Hotkeys ===")

	m, _ = press(m, "l")
	assert.Contains(m.View(), "log entries")
	assert.Contains(m.View(), "controller started")

	m, _ = press(m, "s")
	assert.Contains(m.View(), "=== Reliability Test Summary ===")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Contains(m.View(), "test: idle")

	_, cmd = press(m, "q")
	require.NotNil(t, cmd)
	assert.IsType(tea.QuitMsg{}, cmd())
}

func TestModel_StopWithoutRun(t *testing.T) {
	var m tea.Model = NewModel(startRig(t))

	m, cmd := press(m, "c")
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "stopping reliability run")

	_, again := press(m, "e")
	assert.Nil(t, again, "one stop at a time")

	m, _ = m.Update(cmd())
	assert.Contains(t, m.View(), "no reliability run in progress")
}

func TestModel_StopWithReport(t *testing.T) {
	ctrl := startRig(t)
	require.NoError(t, ctrl.StartReliability(reliability.Params{
		SupportTarget:  22,
		RetractTarget:  1,
		SupportTimeout: 50 * time.Millisecond,
		RetractTimeout: 50 * time.Millisecond,
	}))
	require.Eventually(t, func() bool { return ctrl.ReliabilityStats().TotalCycles >= 1 }, 10*time.Second, 10*time.Millisecond)

	var m tea.Model = NewModel(ctrl)
	m, cmd := press(m, "e")
	require.NotNil(t, cmd)
	msg := cmd()
	stopped, ok := msg.(stoppedMsg)
	require.True(t, ok)
	require.NoError(t, stopped.err)
	assert.True(t, stopped.report)

	m, _ = m.Update(msg)
	assert.Contains(t, m.View(), "report written")
	assert.False(t, ctrl.Reliability().Running())
}
