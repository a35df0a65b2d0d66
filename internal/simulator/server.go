// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package simulator

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/lumberbarons/fieldbus"
)

// RTUServer implements a Modbus RTU server over a PTY pair, driving
// modbus.Server/modbus.RTUFramer instead of owning a private framing
// implementation.
type RTUServer struct {
	server   *modbus.Server
	framer   *modbus.RTUFramer
	pty      *PtyPair
	slaveID  byte
	baudRate int
	logger   *log.Logger

	stopChan chan struct{}
	doneChan chan struct{}
}

// RTUServerConfig holds configuration for the RTU server.
type RTUServerConfig struct {
	SlaveID  byte
	BaudRate int
	Logger   *log.Logger
}

// NewRTUServer creates a new RTU server with the given data store and configuration.
func NewRTUServer(ds *DataStore, config *RTUServerConfig) (*RTUServer, error) {
	if config == nil {
		config = &RTUServerConfig{}
	}
	if config.SlaveID == 0 {
		config.SlaveID = 1
	}
	if config.BaudRate == 0 {
		config.BaudRate = 19200
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stdout, "rtu-server: ", log.LstdFlags)
	}

	pty, err := CreatePtyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to create pty: %w", err)
	}

	handler := NewHandler(ds)
	srv := &RTUServer{
		server: &modbus.Server{
			Registry: modbus.NewRegistry(),
			Handler:  handler.HandleRequest,
			AcceptUnit: func(unitID byte) bool {
				return unitID == config.SlaveID
			},
			Logger: config.Logger,
		},
		framer:   modbus.NewRTUFramer(true),
		pty:      pty,
		slaveID:  config.SlaveID,
		baudRate: config.BaudRate,
		logger:   config.Logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	return srv, nil
}

// ClientDevicePath returns the device path that clients should connect to.
func (s *RTUServer) ClientDevicePath() string {
	return s.pty.SlavePath
}

// Start starts the RTU server in a goroutine.
func (s *RTUServer) Start() error {
	go s.serve()
	// Give the server goroutine time to start reading the PTY
	time.Sleep(200 * time.Millisecond)
	return nil
}

// Stop stops the RTU server and waits for it to finish.
func (s *RTUServer) Stop() error {
	close(s.stopChan)

	// Close the pty to unblock any pending reads
	if err := s.pty.Close(); err != nil {
		s.logger.Printf("error closing pty: %v", err)
	}

	// Wait for server goroutine to finish with a timeout
	select {
	case <-s.doneChan:
		// Clean shutdown
	case <-time.After(1 * time.Second):
		// Timeout - the goroutine is stuck in a blocking read
		// This is OK, it will be garbage collected
		s.logger.Printf("RTU server stop timed out (goroutine may still be reading)")
	}

	return nil
}

// serve is the main server loop: read bytes off the PTY, feed them to the
// RTU framer, and dispatch every complete frame through modbus.Server.
func (s *RTUServer) serve() {
	defer close(s.doneChan)

	s.logger.Printf("RTU server listening - server pty: %s, client pty: %s (slave ID: %d)", s.pty.MasterPath, s.pty.SlavePath, s.slaveID)

	buf := make([]byte, 256)
	for {
		select {
		case <-s.stopChan:
			s.logger.Printf("RTU server stopping")
			return
		default:
			if err := s.pty.Master.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
				s.logger.Printf("warning: failed to set read deadline: %v", err)
			}

			n, err := s.pty.Master.Read(buf)
			if n > 0 {
				s.logger.Printf("received: % x", buf[:n])
				s.server.Feed(s.framer, buf[:n], func(adu []byte) error {
					// Add frame delay (3.5 character times), per the
					// Modbus over Serial Line spec, before replying.
					time.Sleep(s.calculateDelay(n + len(adu)))
					s.logger.Printf("sending: % x", adu)
					_, werr := s.pty.Master.Write(adu)
					if werr == nil {
						if serr := s.pty.Master.Sync(); serr != nil {
							s.logger.Printf("warning: failed to sync: %v", serr)
						}
					}
					return werr
				})
			}
			if err != nil {
				if os.IsTimeout(err) {
					continue
				}
				if err == io.EOF || err == os.ErrClosed {
					s.logger.Printf("RTU server stopping (pty closed)")
					return
				}
				s.logger.Printf("error reading frame: %v", err)
			}
		}
	}
}

// calculateDelay calculates the frame delay based on baud rate.
// See MODBUS over Serial Line - Specification and Implementation Guide (page 13).
func (s *RTUServer) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int // microseconds

	if s.baudRate <= 0 || s.baudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / s.baudRate
		frameDelay = 35000000 / s.baudRate
	}

	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
