package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestIndicatorModelShowsMessage(t *testing.T) {
	t.Parallel()

	model := newIndicatorModel("Connecting to Lab 3…", nil)

	assert.Contains(t, model.View(), "Connecting to Lab 3…")
}

func TestIndicatorModelEscRequestsCancelOnce(t *testing.T) {
	t.Parallel()

	cancels := 0
	model := newIndicatorModel("Connecting to Lab 3…", func() { cancels++ })

	next, _ := model.Update(tea.KeyMsg{Type: tea.KeyEsc})
	model = next.(indicatorModel)
	next, _ = model.Update(tea.KeyMsg{Type: tea.KeyEsc})
	model = next.(indicatorModel)

	assert.Equal(t, 1, cancels)
	assert.Contains(t, model.View(), "cancelling")
}

func TestIndicatorModelCtrlCRequestsCancel(t *testing.T) {
	t.Parallel()

	cancels := 0
	model := newIndicatorModel("Connecting to Lab 3…", func() { cancels++ })

	next, _ := model.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	model = next.(indicatorModel)

	assert.Equal(t, 1, cancels)
}

func TestIndicatorModelIgnoresUnrelatedKeys(t *testing.T) {
	t.Parallel()

	cancels := 0
	model := newIndicatorModel("Connecting to Lab 3…", func() { cancels++ })

	next, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	model = next.(indicatorModel)

	assert.Zero(t, cancels)
	assert.NotContains(t, model.View(), "cancelling")
}

func TestIndicatorModelCloseQuitsAndClearsView(t *testing.T) {
	t.Parallel()

	model := newIndicatorModel("Connecting to Lab 3…", nil)

	next, cmd := model.Update(indicatorClosedMsg{})
	model = next.(indicatorModel)

	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, model.View())
}

func TestIndicatorModelSpinnerKeepsTicking(t *testing.T) {
	t.Parallel()

	model := newIndicatorModel("Connecting to Lab 3…", nil)

	tick := model.spinner.Tick()
	next, cmd := model.Update(tick.(spinner.TickMsg))
	model = next.(indicatorModel)

	assert.NotNil(t, cmd)
	assert.NotEmpty(t, model.View())
}

func TestSurfaceShowsAndClosesIndicator(t *testing.T) {
	t.Parallel()

	output := &syncBuffer{}
	surface := NewSurface(nil, output)

	indicator, err := surface.ShowIndicator("Connecting to Lab 3…", func() {})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(output.String(), "Connecting to Lab 3…")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, indicator.Close())
}

func TestIndicatorCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	surface := NewSurface(nil, &syncBuffer{})

	indicator, err := surface.ShowIndicator("Connecting to Lab 3…", nil)
	require.NoError(t, err)

	require.NoError(t, indicator.Close())
	require.NoError(t, indicator.Close())
}
