package config

import (
	"strings"
	"time"
)

// SerialConfig holds serial transport settings from the [serial] section.
type SerialConfig struct {
	Device         string
	BaudRate       int
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	RTSOnConnect   bool
	DTROnConnect   bool
}

// ProgressConfig holds progress reporting settings from [progress].
// Mode is carried as the raw string; an unrecognized value must degrade
// to "no reporting" rather than fail the print, so it is not validated
// here.
type ProgressConfig struct {
	Mode string
}

// PauseConfig holds pause/resume injection scripts from [pause_resume].
type PauseConfig struct {
	PauseGCode  string // injected on pause, newline separated
	ResumeGCode string // injected on resume, newline separated
}

// BedTiltConfig holds leveling compensation from [bed_tilt].
type BedTiltConfig struct {
	Enabled bool
	XAdjust float64 // mm of Z per mm of X
	YAdjust float64 // mm of Z per mm of Y
	ZAdjust float64 // constant Z offset
}

// StatusConfig holds the status server settings from [status_server].
type StatusConfig struct {
	Enabled bool
	Addr    string
}

// HostConfig is the assembled typed configuration for the host.
type HostConfig struct {
	Serial   SerialConfig
	Progress ProgressConfig
	Pause    PauseConfig
	BedTilt  BedTiltConfig
	Status   StatusConfig

	// Macros maps upper-cased macro names to their expansion scripts,
	// collected from [gcode_macro NAME] sections.
	Macros map[string]string
}

// ParseHostConfig loads and assembles the host configuration.
func ParseHostConfig(path string) (*HostConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return BuildHostConfig(cfg)
}

// BuildHostConfig assembles a HostConfig from a parsed Config.
func BuildHostConfig(cfg *Config) (*HostConfig, error) {
	hc := &HostConfig{
		Macros: make(map[string]string),
	}

	serial, err := cfg.Section("serial")
	if err != nil {
		return nil, err
	}
	if hc.Serial.Device, err = serial.Get("device"); err != nil {
		return nil, err
	}
	if hc.Serial.BaudRate, err = serial.GetInt("baud", 250000); err != nil {
		return nil, err
	}
	connectTimeout, err := serial.GetFloat("connect_timeout", 60)
	if err != nil {
		return nil, err
	}
	hc.Serial.ConnectTimeout = time.Duration(connectTimeout * float64(time.Second))
	ackTimeout, err := serial.GetFloat("ack_timeout", 5)
	if err != nil {
		return nil, err
	}
	hc.Serial.AckTimeout = time.Duration(ackTimeout * float64(time.Second))
	if hc.Serial.RTSOnConnect, err = serial.GetBool("rts_on_connect", true); err != nil {
		return nil, err
	}
	if hc.Serial.DTROnConnect, err = serial.GetBool("dtr_on_connect", true); err != nil {
		return nil, err
	}

	if progress := cfg.SectionOrNil("progress"); progress != nil {
		hc.Progress.Mode, _ = progress.Get("mode", "none")
	} else {
		hc.Progress.Mode = "none"
	}

	if pause := cfg.SectionOrNil("pause_resume"); pause != nil {
		hc.Pause.PauseGCode, _ = pause.Get("pause_gcode", "")
		hc.Pause.ResumeGCode, _ = pause.Get("resume_gcode", "")
	}

	if tilt := cfg.SectionOrNil("bed_tilt"); tilt != nil {
		hc.BedTilt.Enabled = true
		if hc.BedTilt.XAdjust, err = tilt.GetFloat("x_adjust", 0); err != nil {
			return nil, err
		}
		if hc.BedTilt.YAdjust, err = tilt.GetFloat("y_adjust", 0); err != nil {
			return nil, err
		}
		if hc.BedTilt.ZAdjust, err = tilt.GetFloat("z_adjust", 0); err != nil {
			return nil, err
		}
	}

	for _, sec := range cfg.SectionsWithPrefix("gcode_macro ") {
		name := strings.TrimSpace(sec.GetName()[len("gcode_macro "):])
		if name == "" {
			return nil, ErrMissingSection(sec.GetName())
		}
		script, err := sec.Get("gcode")
		if err != nil {
			return nil, err
		}
		hc.Macros[strings.ToUpper(name)] = script
	}

	if status := cfg.SectionOrNil("status_server"); status != nil {
		hc.Status.Enabled = true
		if hc.Status.Addr, err = status.Get("listen", ":7125"); err != nil {
			return nil, err
		}
	}

	return hc, nil
}
