//go:build linux

package serial

import "golang.org/x/sys/unix"

// setSpeed applies the baud rate to a Linux termios struct.
func setSpeed(termios *unix.Termios, speed uint32) {
	termios.Ispeed = speed
	termios.Ospeed = speed
}
