// printstream streams a G-code job file to a 3D printer over serial,
// transforming the stream in transit: progress reporting, macro
// expansion, bed-tilt compensation, pause/resume script injection and
// line numbering with checksums.
//
// Usage:
//
//	printstream -config printer.cfg -print job.gcode [options]
//
// Options:
//
//	-config string   Host configuration file (required)
//	-print string    G-code job file to stream
//	-list-ports      List candidate serial ports and exit
//	-logfile string  Log file path (default: stdout)
//	-debug           Enable debug logging
//
// While a print is running, SIGUSR1 toggles pause/resume and SIGINT
// cancels the print before exiting.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"printstream/pkg/config"
	"printstream/pkg/connect"
	"printstream/pkg/log"
	"printstream/pkg/serial"
	"printstream/pkg/session"
	"printstream/pkg/statusd"
)

func main() {
	configFile := flag.String("config", "", "Host configuration file (required)")
	printFile := flag.String("print", "", "G-code job file to stream")
	listPorts := flag.Bool("list-ports", false, "List candidate serial ports and exit")
	logFile := flag.String("logfile", "", "Log file path (default: stdout)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *listPorts {
		ports, err := serial.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.GetLogger("printstream")
	if *debug {
		logger.SetLevel(log.DEBUG)
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger.SetWriter(f)
		logger.SetColorize(false)
	}
	log.SetDefaultLogger(logger)

	cfg, err := config.ParseHostConfig(*configFile)
	if err != nil {
		logger.WithError(err).Error("config load failed")
		os.Exit(1)
	}
	logger.WithFields(log.Fields{
		"device": cfg.Serial.Device,
		"baud":   cfg.Serial.BaudRate,
	}).Info("configuration loaded from %s", *configFile)

	port, err := serial.Open(serial.Config{
		Device:       cfg.Serial.Device,
		BaudRate:     cfg.Serial.BaudRate,
		ReadTimeout:  cfg.Serial.AckTimeout,
		RTSOnConnect: cfg.Serial.RTSOnConnect,
		DTROnConnect: cfg.Serial.DTROnConnect,
	})
	if err != nil {
		logger.WithError(err).Error("serial open failed")
		os.Exit(1)
	}

	conn := connect.NewConnection(port, cfg)
	defer conn.Close()

	if cfg.Status.Enabled {
		server := statusd.New(statusd.Config{Addr: cfg.Status.Addr}, conn)
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("status server start failed")
			os.Exit(1)
		}
		defer server.Stop()
	}

	if err := conn.Connect(); err != nil {
		logger.WithError(err).Error("printer handshake failed")
		os.Exit(1)
	}

	if *printFile == "" {
		logger.Info("connected; no job given, exiting")
		return
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				switch conn.State().Comm() {
				case session.Printing:
					if err := conn.Pause(); err != nil {
						logger.WithError(err).Warn("pause failed")
					}
				case session.Paused:
					if err := conn.Resume(); err != nil {
						logger.WithError(err).Warn("resume failed")
					}
				}
			default:
				logger.Info("interrupted, cancelling print")
				conn.Cancel()
				return
			}
		}
	}()

	if err := conn.StartPrint(*printFile); err != nil {
		logger.WithError(err).Error("print start failed")
		os.Exit(1)
	}
	conn.Wait()

	if last, ok := conn.GetStatus()["last_error"]; ok {
		logger.Error("print ended with error: %v", last)
		os.Exit(1)
	}
	logger.Info("done")
}
