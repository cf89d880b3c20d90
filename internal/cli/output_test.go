package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerodha-strategy/internal/models"
)

func plainOutput(buf *bytes.Buffer, format string) *Output {
	o := newOutput(buf, format)
	o.colorEnabled = false
	return o
}

func TestNewOutput_UnknownFormatIsText(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, newOutput(&buf, "table").IsStructured())
	assert.True(t, newOutput(&buf, " JSON ").IsStructured())
	assert.True(t, newOutput(&buf, "yaml").IsStructured())
}

func TestRender_YAMLUsesJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	out := plainOutput(&buf, FormatYAML)

	err := out.Render(models.Status{Halted: true, HaltReason: "manual", DailyPnL: -250.5, Positions: []models.PositionStatus{}})
	require.NoError(t, err)

	text := buf.String()
	assert.Contains(t, text, "halted: true")
	assert.Contains(t, text, "halt_reason: manual")
	assert.Contains(t, text, "daily_pnl: -250.5")
	assert.Contains(t, text, "positions: []")
	assert.NotContains(t, text, "HaltReason")
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	out := plainOutput(&buf, FormatJSON)

	require.NoError(t, out.Render(map[string]int{"exits": 2}))
	assert.Equal(t, "{\n  \"exits\": 2\n}\n", buf.String())
}

func TestTable_AlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	out := plainOutput(&buf, FormatText)

	table := NewTable(out, "A", "LONGER")
	table.AddRow("xyz", "1")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "A    LONGER", lines[0])
	assert.Equal(t, strings.Repeat("─", 11), lines[1])
	assert.Equal(t, "xyz  1", lines[2])
}

func TestFormatPnL_Plain(t *testing.T) {
	out := plainOutput(&bytes.Buffer{}, FormatText)
	assert.Equal(t, "+₹250.00", out.FormatPnL(250))
	assert.Equal(t, "-₹1,250.00", out.FormatPnL(-1250))
	assert.Equal(t, "₹0.00", out.FormatPnL(0))
}

// Feature: zerodha-strategy, Property 9: Color escapes never count toward column width
func TestProperty_VisibleLenIgnoresColor(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	out := &Output{writer: &bytes.Buffer{}, format: FormatText, colorEnabled: true}

	properties.Property("painted text has the same visible length", prop.ForAll(
		func(s string, attr int) bool {
			attrs := []color.Attribute{color.FgRed, color.FgGreen, color.Bold, color.Faint}
			painted := out.paint(s, attrs[attr])
			return visibleLen(painted) == visibleLen(s)
		},
		gen.AlphaString(),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
