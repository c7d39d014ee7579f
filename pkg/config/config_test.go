package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
# printstream host configuration
[serial]
device: /dev/ttyUSB0
baud: 115200
ack_timeout: 2.5

[progress]
mode: M73

[pause_resume]
pause_gcode:
    M83
    G1 E-5 F3600
    G91
    G1 Z10 F600
resume_gcode:
    G91
    G1 Z-10 F600

[bed_tilt]
x_adjust: 0.01
y_adjust: -0.005
z_adjust: 0.1

[gcode_macro START_PRINT]
gcode:
    G28
    G1 Z5 F600

[status_server]
listen: :7125
`

func TestParseSections(t *testing.T) {
	cfg, err := LoadString(sampleConfig)
	require.NoError(t, err)

	assert.True(t, cfg.HasSection("serial"))
	assert.True(t, cfg.HasSection("SERIAL"), "section names are case-insensitive")
	assert.False(t, cfg.HasSection("printer"))

	sec, err := cfg.Section("serial")
	require.NoError(t, err)

	device, err := sec.Get("device")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", device)

	baud, err := sec.GetInt("baud")
	require.NoError(t, err)
	assert.Equal(t, 115200, baud)

	// Fallback for missing option
	ct, err := sec.GetFloat("connect_timeout", 60)
	require.NoError(t, err)
	assert.Equal(t, 60.0, ct)
}

func TestMultilineOptions(t *testing.T) {
	cfg, err := LoadString(sampleConfig)
	require.NoError(t, err)

	sec, err := cfg.Section("pause_resume")
	require.NoError(t, err)

	pause, err := sec.Get("pause_gcode")
	require.NoError(t, err)
	assert.Equal(t, "\nM83\nG1 E-5 F3600\nG91\nG1 Z10 F600", pause)
}

func TestMissingOptionAndSection(t *testing.T) {
	cfg, err := LoadString(sampleConfig)
	require.NoError(t, err)

	_, err = cfg.Section("kinematics")
	assert.Error(t, err)

	sec, err := cfg.Section("serial")
	require.NoError(t, err)
	_, err = sec.Get("port")
	assert.Error(t, err)
}

func TestGetChoice(t *testing.T) {
	cfg, err := LoadString("[progress]\nmode: m73\n")
	require.NoError(t, err)

	sec, err := cfg.Section("progress")
	require.NoError(t, err)

	mode, err := sec.GetChoice("mode", []string{"None", "M73", "M117"})
	require.NoError(t, err)
	assert.Equal(t, "M73", mode, "choice matching is case-insensitive and canonicalizing")

	_, err = sec.GetChoice("missing", []string{"a", "b"})
	assert.Error(t, err)
}

func TestSectionsWithPrefix(t *testing.T) {
	cfg, err := LoadString(sampleConfig)
	require.NoError(t, err)

	macros := cfg.SectionsWithPrefix("gcode_macro ")
	require.Len(t, macros, 1)
	assert.Equal(t, "gcode_macro START_PRINT", macros[0].GetName())
}

func TestBuildHostConfig(t *testing.T) {
	cfg, err := LoadString(sampleConfig)
	require.NoError(t, err)

	hc, err := BuildHostConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", hc.Serial.Device)
	assert.Equal(t, 115200, hc.Serial.BaudRate)
	assert.Equal(t, 2500, int(hc.Serial.AckTimeout.Milliseconds()))
	assert.Equal(t, "M73", hc.Progress.Mode)
	assert.True(t, hc.BedTilt.Enabled)
	assert.Equal(t, 0.01, hc.BedTilt.XAdjust)
	assert.Contains(t, hc.Macros, "START_PRINT")
	assert.True(t, hc.Status.Enabled)
	assert.Equal(t, ":7125", hc.Status.Addr)
}

func TestMalformedProgressModeIsNotAnError(t *testing.T) {
	cfg, err := LoadString("[serial]\ndevice: /dev/null\n\n[progress]\nmode: bogus\n")
	require.NoError(t, err)

	hc, err := BuildHostConfig(cfg)
	require.NoError(t, err)
	// The raw value is carried through; the reporting stage degrades it
	// to no-reporting rather than blocking the print.
	assert.Equal(t, "bogus", hc.Progress.Mode)
}

func TestUnusedTracking(t *testing.T) {
	cfg, err := LoadString("[serial]\ndevice: /dev/null\ntypo_option: 1\n\n[mystery]\nx: 1\n")
	require.NoError(t, err)

	sec, err := cfg.Section("serial")
	require.NoError(t, err)
	_, _ = sec.Get("device")

	assert.Contains(t, sec.UnusedOptions(), "typo_option")
	assert.Contains(t, cfg.UnusedSections(), "mystery")
}
