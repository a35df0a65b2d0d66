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

// ASCIIServer implements a Modbus ASCII server over a PTY pair, driving
// modbus.Server/modbus.ASCIIFramer instead of owning a private LRC framer.
type ASCIIServer struct {
	server  *modbus.Server
	framer  *modbus.ASCIIFramer
	pty     *PtyPair
	slaveID byte
	logger  *log.Logger

	stopChan chan struct{}
	doneChan chan struct{}
}

// ASCIIServerConfig holds configuration for the ASCII server.
type ASCIIServerConfig struct {
	SlaveID  byte
	BaudRate int
	Logger   *log.Logger
}

// NewASCIIServer creates a new ASCII server with the given data store and configuration.
func NewASCIIServer(ds *DataStore, config *ASCIIServerConfig) (*ASCIIServer, error) {
	if config == nil {
		config = &ASCIIServerConfig{}
	}
	if config.SlaveID == 0 {
		config.SlaveID = 1
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stdout, "ascii-server: ", log.LstdFlags)
	}

	pty, err := CreatePtyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to create pty: %w", err)
	}

	handler := NewHandler(ds)
	return &ASCIIServer{
		server: &modbus.Server{
			Registry: modbus.NewRegistry(),
			Handler:  handler.HandleRequest,
			AcceptUnit: func(unitID byte) bool {
				return unitID == config.SlaveID
			},
			Logger: config.Logger,
		},
		framer:   modbus.NewASCIIFramer(),
		pty:      pty,
		slaveID:  config.SlaveID,
		logger:   config.Logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// ClientDevicePath returns the device path that clients should connect to.
func (s *ASCIIServer) ClientDevicePath() string {
	return s.pty.SlavePath
}

// Start starts the ASCII server in a goroutine.
func (s *ASCIIServer) Start() error {
	go s.serve()
	time.Sleep(200 * time.Millisecond)
	return nil
}

// Stop stops the ASCII server and waits for it to finish.
func (s *ASCIIServer) Stop() error {
	close(s.stopChan)

	if err := s.pty.Close(); err != nil {
		s.logger.Printf("error closing pty: %v", err)
	}

	select {
	case <-s.doneChan:
	case <-time.After(1 * time.Second):
		s.logger.Printf("ASCII server stop timed out (goroutine may still be reading)")
	}

	return nil
}

// serve is the main server loop: read bytes off the PTY, feed them to the
// ASCII framer, and dispatch every complete frame through modbus.Server.
func (s *ASCIIServer) serve() {
	defer close(s.doneChan)

	s.logger.Printf("ASCII server listening - server pty: %s, client pty: %s (slave ID: %d)", s.pty.MasterPath, s.pty.SlavePath, s.slaveID)

	buf := make([]byte, 256)
	for {
		select {
		case <-s.stopChan:
			s.logger.Printf("ASCII server stopping")
			return
		default:
			if err := s.pty.Master.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
				s.logger.Printf("warning: failed to set read deadline: %v", err)
			}

			n, err := s.pty.Master.Read(buf)
			if n > 0 {
				s.logger.Printf("received: % x", buf[:n])
				s.server.Feed(s.framer, buf[:n], func(adu []byte) error {
					s.logger.Printf("sending: %s", adu)
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
					s.logger.Printf("ASCII server stopping (pty closed)")
					return
				}
				s.logger.Printf("error reading frame: %v", err)
			}
		}
	}
}
