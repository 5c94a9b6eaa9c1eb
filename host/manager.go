// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/nmichaud/rdebug/wire"
)

// Manager listens for inbound debuggee connections and correlates each
// one to a Process registered by the launcher before the child process
// was started, by the 128-bit id carried in the CONN handshake (§4.5).
type Manager struct {
	log *zap.Logger

	mu      sync.Mutex
	pending map[string]*Process
	ln      net.Listener
}

func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log, pending: map[string]*Process{}}
}

// RegisterProcess records p so that its eventual debuggee connection
// can be correlated by p.ID. Call this before starting the child.
func (m *Manager) RegisterProcess(p *Process) {
	m.mu.Lock()
	m.pending[p.ID.String()] = p
	m.mu.Unlock()
}

// Listen starts accepting connections on addr. Callers typically pass
// "127.0.0.1:0" and read m.Addr() to learn the assigned port before
// launching the debuggee.
func (m *Manager) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.ln = ln
	go m.acceptLoop()
	return nil
}

// Addr returns the listener's bound address, valid after Listen.
func (m *Manager) Addr() net.Addr {
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

func (m *Manager) Close() error {
	if m.ln == nil {
		return nil
	}
	return m.ln.Close()
}

func (m *Manager) acceptLoop() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			m.log.Debug("manager: listener closed", zap.Error(err))
			return
		}
		go m.handleConn(conn)
	}
}

// handleConn reads exactly the CONN handshake, looks up the waiting
// Process by correlation id, and hands the connection off to a new
// Protocol. A connection whose id doesn't match a registered Process,
// or whose handshake can't be decoded, is dropped (§7).
func (m *Manager) handleConn(conn net.Conn) {
	tag, r, err := wire.ReadFrame(conn)
	if err != nil || tag != wire.EvtConnected {
		m.log.Warn("manager: connection did not open with CONN", zap.Error(err))
		conn.Close()
		return
	}
	evt, err := wire.DecodeConnected(r)
	if err != nil {
		m.log.Warn("manager: malformed CONN frame", zap.Error(err))
		conn.Close()
		return
	}

	m.mu.Lock()
	p, ok := m.pending[evt.CorrelationID]
	if ok {
		delete(m.pending, evt.CorrelationID)
	}
	m.mu.Unlock()
	if !ok {
		m.log.Warn("manager: unknown correlation id", zap.String("correlation_id", evt.CorrelationID))
		conn.Close()
		return
	}

	proto := NewProtocol(conn, p, m.log)
	p.attachProtocol(proto)
	m.log.Info("manager: debuggee connected", zap.String("correlation_id", evt.CorrelationID))
	proto.Serve()
}
