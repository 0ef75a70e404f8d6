package runtime

import (
	"github.com/kenneth/wiredrop/internal/receive"
	"github.com/kenneth/wiredrop/internal/send"
	"github.com/kenneth/wiredrop/internal/session"
)

// Direction is the small uniform surface Lifecycle needs over either a
// send.State or a receive.State: which session it owns, what route
// namespace it serves, and how to report/release it at shutdown.
type Direction interface {
	Session() *session.Session
	ServicePath() string
	IsReceiving() bool
	Cleanup() error
	TransferCount() (completed, total int64)
}

type sendDirection struct{ state *send.State }

func (d sendDirection) Session() *session.Session            { return d.state.Session }
func (d sendDirection) ServicePath() string                  { return d.state.ServicePath() }
func (d sendDirection) IsReceiving() bool                     { return d.state.IsReceiving() }
func (d sendDirection) Cleanup() error                        { return d.state.Cleanup() }
func (d sendDirection) TransferCount() (completed, total int64) { return d.state.TransferCount() }

// NewSendDirection adapts a send.State to Direction.
func NewSendDirection(state *send.State) Direction { return sendDirection{state: state} }

type receiveDirection struct{ state *receive.State }

func (d receiveDirection) Session() *session.Session            { return d.state.Session }
func (d receiveDirection) ServicePath() string                  { return d.state.ServicePath() }
func (d receiveDirection) IsReceiving() bool                     { return d.state.IsReceiving() }
func (d receiveDirection) Cleanup() error                        { return d.state.Cleanup() }
func (d receiveDirection) TransferCount() (completed, total int64) { return d.state.TransferCount() }

// NewReceiveDirection adapts a receive.State to Direction.
func NewReceiveDirection(state *receive.State) Direction { return receiveDirection{state: state} }
