// Package serial is the production printer transport: a raw-mode tty
// carrying newline-terminated G-code to the firmware and response
// lines back. It satisfies the connect.Transport contract.
package serial

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	ErrTimeout = errors.New("serial: operation timed out")
	ErrClosed  = errors.New("serial: port closed")
)

// Config holds serial port settings, normally filled from the [serial]
// config section.
type Config struct {
	// Device path (e.g. /dev/ttyUSB0, /dev/ttyACM0).
	Device string

	// Baud rate (default 115200, the common Marlin speed).
	BaudRate int

	// ReadTimeout bounds one ReadLine call (default 5s). The printer
	// acks every line, so a silent link this long is a dead link.
	ReadTimeout time.Duration

	// Assert RTS/DTR on open. Toggling DTR resets most boards, which
	// is wanted: the host then sees the boot banner.
	RTSOnConnect bool
	DTROnConnect bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		BaudRate:     115200,
		ReadTimeout:  5 * time.Second,
		RTSOnConnect: true,
		DTROnConnect: true,
	}
}

// Port is an open serial connection to the printer.
type Port struct {
	mu         sync.Mutex
	fd         int
	device     string
	config     Config
	closed     bool
	oldTermios *unix.Termios
	rbuf       []byte // unconsumed read data, split on '\n' by ReadLine
}

// ListPorts returns candidate printer device paths.
func ListPorts() ([]string, error) {
	var patterns []string
	switch runtime.GOOS {
	case "linux":
		patterns = []string{
			"/dev/ttyUSB*",
			"/dev/ttyACM*",
			"/dev/serial/by-id/*",
		}
	case "darwin":
		patterns = []string{
			"/dev/tty.usbserial*",
			"/dev/tty.usbmodem*",
		}
	default:
		return nil, fmt.Errorf("serial: unsupported platform %s", runtime.GOOS)
	}

	var ports []string
	seen := map[string]bool{}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				resolved = m
			}
			if !seen[resolved] {
				seen[resolved] = true
				ports = append(ports, resolved)
			}
		}
	}
	sort.Strings(ports)
	return ports, nil
}

// Open opens and configures a serial port: raw mode, 8N1, no flow
// control.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	oldTermios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}
	termios := *oldTermios

	// Raw mode: no input translation, no output processing, no echo.
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	speed, err := baudRateToSpeed(cfg.BaudRate)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	setSpeed(&termios, speed)

	// VMIN=0/VTIME=1: reads return whatever arrived within 100ms, the
	// timeout policy is layered on top with poll.
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	p := &Port{
		fd:         fd,
		device:     cfg.Device,
		config:     cfg,
		oldTermios: oldTermios,
	}
	p.setModemControl(cfg.RTSOnConnect, cfg.DTROnConnect)

	// Drop whatever was queued before we configured the port.
	unix.IoctlSetInt(fd, ioctlTCFlush, unix.TCIOFLUSH)
	return p, nil
}

// WriteLine sends one command line, appending the newline terminator.
func (p *Port) WriteLine(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	buf := append([]byte(line), '\n')
	for len(buf) > 0 {
		n, err := unix.Write(p.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("serial: write: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

// ReadLine returns the next newline-terminated response from the
// firmware, without the terminator. Returns ErrTimeout when the port
// stays silent past the configured read timeout.
func (p *Port) ReadLine() (string, error) {
	deadline := time.Now().Add(p.readTimeout())
	for {
		if line, ok := p.takeLine(); ok {
			return line, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}
		if err := p.fill(remaining); err != nil {
			return "", err
		}
	}
}

func (p *Port) readTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.ReadTimeout
}

// takeLine splits one complete line off the read buffer.
func (p *Port) takeLine() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, b := range p.rbuf {
		if b == '\n' {
			line := string(p.rbuf[:i])
			p.rbuf = p.rbuf[i+1:]
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			return line, true
		}
	}
	return "", false
}

// fill polls the port and appends arriving bytes to the read buffer.
func (p *Port) fill(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return nil // deadline handling is the caller's
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return io.EOF
	}

	buf := make([]byte, 4096)
	n, err = unix.Read(fd, buf)
	if err != nil {
		return fmt.Errorf("serial: read: %w", err)
	}
	p.mu.Lock()
	p.rbuf = append(p.rbuf, buf[:n]...)
	p.mu.Unlock()
	return nil
}

// SetReadTimeout changes the per-ReadLine timeout.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.config.ReadTimeout = d
	p.mu.Unlock()
}

// Device returns the device path.
func (p *Port) Device() string {
	return p.device
}

// Close closes the port, restoring the original tty settings.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.oldTermios != nil {
		unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.oldTermios)
	}
	return unix.Close(p.fd)
}

// setModemControl asserts RTS and DTR. Many USB adapters reject the
// ioctl entirely; that is not fatal.
func (p *Port) setModemControl(rts, dtr bool) {
	var status int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd),
		uintptr(unix.TIOCMGET), uintptr(unsafe.Pointer(&status)))
	if errno != 0 {
		return
	}
	if rts {
		status |= unix.TIOCM_RTS
	} else {
		status &^= unix.TIOCM_RTS
	}
	if dtr {
		status |= unix.TIOCM_DTR
	} else {
		status &^= unix.TIOCM_DTR
	}
	unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd),
		uintptr(unix.TIOCMSET), uintptr(unsafe.Pointer(&status)))
}

// baudRateToSpeed maps a baud rate to the termios speed constant.
func baudRateToSpeed(baud int) (uint32, error) {
	speeds := map[int]uint32{
		9600:   unix.B9600,
		19200:  unix.B19200,
		38400:  unix.B38400,
		57600:  unix.B57600,
		115200: unix.B115200,
		230400: unix.B230400,
	}
	if runtime.GOOS == "linux" {
		speeds[250000] = 0x1003 // B250000
		speeds[460800] = 0x1004 // B460800
		speeds[500000] = 0x1005 // B500000
		speeds[921600] = 0x1007 // B921600
		speeds[1000000] = 0x1008
	}
	if speed, ok := speeds[baud]; ok {
		return speed, nil
	}
	if runtime.GOOS == "linux" {
		// BOTHER lets the driver take an arbitrary rate.
		return 0x1000 | uint32(baud), nil
	}
	return 0, fmt.Errorf("serial: unsupported baud rate %d", baud)
}
