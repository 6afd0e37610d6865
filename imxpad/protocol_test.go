package imxpad

import (
	"bufio"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, in string) []line {
	t.Helper()
	r := bufio.NewReader(strings.NewReader(in))
	var out []line
	for {
		l, err := readLine(r)
		if err != nil {
			return out
		}
		out = append(out, l)
	}
}

func TestReadLineKinds(t *testing.T) {
	in := "> ! bad register\r\n# chip 3 ok\n@ 4 10 'scanning ITHL'\n* (null)\n* \"State: Idle\"\n* 42\n* nan\nhello\n"
	got := readAll(t, in)
	want := []line{
		{kind: linePrompt},
		{kind: lineError, text: "bad register"},
		{kind: lineDebug, text: "chip 3 ok"},
		{kind: lineTimebar, text: "scanning ITHL", done: 4, outOf: 10},
		{kind: lineNull},
		{kind: lineString, text: "State: Idle"},
		{kind: lineNumber, text: "42"},
		{kind: lineNumber, text: "nan"},
		{kind: lineUnknown, text: "hello"},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(line{})); diff != "" {
		t.Errorf("readLine mismatch (-want +got):\n%s", diff)
	}
}

func TestReadLineStringSpansLines(t *testing.T) {
	got := readAll(t, "* \"line one\nline two\"\n> ")
	require.Len(t, got, 2)
	assert.Equal(t, "line one\nline two", got[0].text)
	assert.Equal(t, linePrompt, got[1].kind)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "LoadConfigG", commandName("LoadConfigG 62 30"))
	assert.Equal(t, "AskReady", commandName("AskReady"))
}

func TestParseState(t *testing.T) {
	cases := map[string]State{
		"Idle:":                         Idle,
		"Digital_Test: running":         DigitalTest,
		"Loading/Saving_calibration: x": CalibrationManipulation,
		"Resetting":                     Resetting,
		"Acquiring: frame 3":            Acquiring,
		"Something new":                 Acquiring,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseState(in), in)
	}
}

func TestParseInts(t *testing.T) {
	got, err := parseInts("30 31,32.33")
	require.NoError(t, err)
	assert.Equal(t, []int{30, 31, 32, 33}, got)

	_, err = parseInts("30 abc")
	assert.True(t, errors.Is(err, ErrUnexpectedReply))
}

func TestModelGeometry(t *testing.T) {
	m, err := ParseModel("XPAD_S140")
	require.NoError(t, err)
	assert.Equal(t, S140, m)
	assert.Equal(t, uint(3), m.ModuleMask())
	w, h := m.ImageSize()
	assert.Equal(t, 560, w)
	assert.Equal(t, 240, h)

	m, err = ParseModel("s70")
	require.NoError(t, err)
	assert.Equal(t, "XPAD_S70", m.String())

	_, err = ParseModel("S9000")
	var uv ErrUnknownValue
	assert.True(t, errors.As(err, &uv))
	assert.True(t, uv.InvalidArgument())
}

func TestParseRegister(t *testing.T) {
	r, err := ParseRegister("ithl")
	require.NoError(t, err)
	assert.Equal(t, ITHL, r)
	r, err = ParseRegister("31")
	require.NoError(t, err)
	assert.Equal(t, AMPTP, r)
	_, err = ParseRegister("12")
	assert.Error(t, err)
}

func TestExposeCommand(t *testing.T) {
	p := DefaultParameters()
	p.TriggerMode = ExtTrigMult
	p.FlatFieldCorrection = true
	p.OutputSignal = BusyUpdateOverflow
	got := exposeCommand(5, 1500000000, p)
	assert.Equal(t, "SetExposeParameters 5 1500000 4000 3 2 1 0 1 1 1 0", got)
}
