// mock-printer simulates a Marlin-style printer firmware for testing
// the host without hardware. It allocates a pseudo-terminal, prints
// the slave device path, and answers the RepRap host protocol on it:
// "ok" per line, checksum and line-number verification, and "Resend:"
// requests on corruption.
//
// Usage:
//
//	mock-printer [-flaky N] [-delay duration]
//
// Point the host's [serial] device at the printed /dev/pts path.
//
//	-flaky N          Reject every Nth framed line with a resend request
//	-delay duration   Ack latency per line (default 0)
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func main() {
	flaky := flag.Int("flaky", 0, "Reject every Nth framed line with a resend request")
	delay := flag.Duration("delay", 0, "Ack latency per line")
	flag.Parse()

	master, slave, err := openPTY()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer master.Close()
	fmt.Printf("mock printer on %s\n", slave)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		master.Close()
		os.Exit(0)
	}()

	fw := &firmware{out: master, flaky: *flaky, delay: *delay}
	fmt.Fprint(master, "start\r\n")

	scanner := bufio.NewScanner(master)
	for scanner.Scan() {
		fw.handle(strings.TrimSpace(scanner.Text()))
	}
}

// openPTY allocates a pseudo-terminal pair and returns the master side
// plus the slave device path.
func openPTY() (*os.File, string, error) {
	m, err := os.OpenFile("/dev/ptmx", os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, "", fmt.Errorf("open ptmx: %w", err)
	}
	ptn, err := unix.IoctlGetInt(int(m.Fd()), unix.TIOCGPTN)
	if err != nil {
		m.Close()
		return nil, "", fmt.Errorf("get pty number: %w", err)
	}
	// Unlock the slave side.
	if err := unix.IoctlSetPointerInt(int(m.Fd()), unix.TIOCSPTLCK, 0); err != nil {
		m.Close()
		return nil, "", fmt.Errorf("unlock pty: %w", err)
	}
	return m, fmt.Sprintf("/dev/pts/%d", ptn), nil
}

// firmware is the protocol state: the expected line number and the
// fault-injection counters.
type firmware struct {
	out      *os.File
	expected int
	seen     int
	flaky    int
	delay    time.Duration
}

func (fw *firmware) handle(line string) {
	if line == "" {
		return
	}
	if fw.delay > 0 {
		time.Sleep(fw.delay)
	}

	number, body, framed, ok := parseFrame(line)
	if !framed {
		// Unframed traffic (the handshake M110) is always accepted.
		fw.apply(body)
		fw.ok()
		return
	}
	if ok && strings.HasPrefix(strings.ToUpper(body), "M110") {
		// Counter reset is honored whatever the current sequence is.
		fw.apply(body)
		fw.ok()
		return
	}
	if !ok || number != fw.expected {
		fmt.Fprintf(fw.out, "Resend: %d\r\n", fw.expected)
		fw.ok()
		return
	}

	fw.seen++
	if fw.flaky > 0 && fw.seen%fw.flaky == 0 {
		// Pretend the line arrived corrupted.
		fmt.Fprintf(fw.out, "Resend: %d\r\n", number)
		fw.ok()
		return
	}

	fw.expected = number + 1
	fw.apply(body)
	fw.ok()
}

// apply reacts to the few commands the simulation cares about.
func (fw *firmware) apply(body string) {
	fields := strings.Fields(strings.ToUpper(body))
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "M110":
		fw.expected = 0
		for _, f := range fields[1:] {
			if len(f) > 1 && f[0] == 'N' {
				if n, err := strconv.Atoi(f[1:]); err == nil {
					fw.expected = n
				}
			}
		}
		fw.expected++
	case "M105":
		fmt.Fprint(fw.out, "T:25.0 /0.0 B:24.0 /0.0\r\n")
	}
}

func (fw *firmware) ok() {
	fmt.Fprint(fw.out, "ok\r\n")
}

// parseFrame splits "N<num> <body>*<checksum>" and verifies the
// checksum. framed is false for lines without a leading N word.
func parseFrame(line string) (number int, body string, framed, ok bool) {
	if len(line) < 2 || line[0] != 'N' {
		return 0, line, false, false
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 {
		return 0, line, false, false
	}

	var sum byte
	for i := 0; i < star; i++ {
		sum ^= line[i]
	}
	got, err := strconv.Atoi(line[star+1:])
	if err != nil || byte(got) != sum {
		return 0, "", true, false
	}

	head := line[:star]
	sp := strings.IndexByte(head, ' ')
	if sp < 0 {
		return 0, "", true, false
	}
	number, err = strconv.Atoi(head[1:sp])
	if err != nil {
		return 0, "", true, false
	}
	return number, head[sp+1:], true, true
}
