// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// epdclock runs one wake up cycle of the clock: read the sensors, refresh
// the panel and go back to sleep.
//
// With -sim every peripheral is simulated and the panel is printed to the
// terminal. Otherwise the board described by -config is driven through
// periph.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

func mainImpl() error {
	cfgPath := flag.String("config", "", "board description (YAML)")
	sim := flag.Bool("sim", false, "run against simulated hardware")
	cause := flag.String("cause", "poweron", "simulated reset cause: poweron, reset, fullreset, alarm or button")
	console := flag.String("console", "", "serial port receiving the log")
	baud := flag.Int("baud", 115200, "baud rate of -console")
	verbose := flag.Bool("v", false, "verbose log")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if *console != "" {
		port, err := openConsole(*console, *baud)
		if err != nil {
			return err
		}
		defer port.Close()
		log.SetOutput(port)
		log.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	}

	if *sim {
		return runSim(log, *cause, os.Stdout)
	}
	if *cfgPath == "" {
		return errors.New("-config is required without -sim")
	}
	return runHost(log, *cfgPath)
}

// openConsole opens the debug console, 8N1.
func openConsole(name string, baud int) (io.WriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open console %s: %w", name, err)
	}
	return port, nil
}

// program is one wake up cycle.
type program interface {
	Init() error
	Loop() error
}

// start runs p. A degraded Init is logged and the cycle goes on; its
// faults are part of the Loop result too.
func start(p program, log logrus.FieldLogger) error {
	if err := p.Init(); err != nil {
		log.WithError(err).Warn("init degraded")
	}
	return p.Loop()
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "epdclock: %s.\n", err)
		os.Exit(1)
	}
}
