/*
 * rvvp - raw TCP console front end for the simulated UART.
 *
 * Copyright 2024, the rvvp authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package telnet is a console front end for internal/uart: every byte
// the connected client sends is pushed into the UART's rx FIFO, and
// every byte the guest transmits is written back out. A UART is a raw
// byte stream, not a negotiated terminal session, so no IAC/DO/WILL
// option handling is done.
package telnet

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rvvp/rvvp/internal/uart"
)

// Server listens on one TCP port and pipes bytes between its clients and
// a single UART device. Every client's input is pushed to the UART, but
// UART output goes only to the latest client: each new connection
// replaces the prior one's output wiring.
type Server struct {
	wg         sync.WaitGroup
	listener   net.Listener
	shutdown   chan struct{}
	connection chan net.Conn
	dev        *uart.UART
	port       string
}

var servers []*Server

// Start opens one listener per (port, UART) pair.
func Start(consoles map[string]*uart.UART) error {
	for port, dev := range consoles {
		s, err := newServer(port, dev)
		if err != nil {
			return err
		}
		servers = append(servers, s)
		host, lport, err := net.SplitHostPort(s.listener.Addr().String())
		if err != nil {
			panic(err)
		}
		if lport[0] == ':' {
			lport = lport[1:]
		}
		if host == "::" {
			host = "localhost"
		}

		slog.Info("Console server started on " + host + ":" + lport)

		s.wg.Add(2)
		go s.acceptConnections()
		go s.handleConnections()
	}
	return nil
}

// Stop shuts down all running servers.
func Stop() {
	for _, s := range servers {
		if s == nil {
			slog.Error("No server attached to port")
			continue
		}
		_, portNum, err := net.SplitHostPort(s.listener.Addr().String())
		if err != nil {
			panic(err)
		}

		slog.Info("Shutdown port: " + portNum)

		close(s.shutdown)
		s.listener.Close()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			slog.Warn("Timed out waiting for connections to finish on port: " + portNum)
		}
	}
	servers = nil
}

func newServer(address string, dev *uart.UART) (*Server, error) {
	listener, err := net.Listen("tcp", ":"+address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on address %s: %w", address, err)
	}

	return &Server{
		listener:   listener,
		shutdown:   make(chan struct{}),
		connection: make(chan net.Conn),
		dev:        dev,
		port:       address,
	}, nil
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				continue
			}
			s.connection <- conn
		}
	}
}

func (s *Server) handleConnections() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		case conn := <-s.connection:
			go handleClient(conn, s.dev)
		}
	}
}

// handleClient wires conn's reads into dev's rx FIFO and dev's
// transmitted bytes back out to conn, until the connection closes.
func handleClient(conn net.Conn, dev *uart.UART) {
	defer conn.Close()

	dev.Out = func(b byte) {
		_, _ = conn.Write([]byte{b})
	}

	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			dev.Push(buf[i])
		}
		if err != nil {
			return
		}
	}
}
