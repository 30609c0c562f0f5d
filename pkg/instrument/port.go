package instrument

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// PortNames lists the MIDI out ports of the registered driver. Binaries
// register one with a blank import of a gomidi driver package.
func PortNames() []string {
	var names []string
	for _, port := range gomidi.GetOutPorts() {
		names = append(names, port.String())
	}
	return names
}

// PortInstrument sends messages to a hardware or virtual MIDI port.
type PortInstrument struct {
	name string
	port drivers.Out
	send func(gomidi.Message) error
}

// OpenPort opens the MIDI out port called name.
func OpenPort(name string) (Output, error) {
	for _, port := range gomidi.GetOutPorts() {
		if port.String() != name {
			continue
		}
		send, err := gomidi.SendTo(port)
		if err != nil {
			return nil, fmt.Errorf("open port %s: %w", name, err)
		}
		return &PortInstrument{name: name, port: port, send: send}, nil
	}
	return nil, fmt.Errorf("%w: %s%s", ErrUnknownOutput, PortPrefix, name)
}

// Name returns the port name.
func (p *PortInstrument) Name() string { return p.name }

func (p *PortInstrument) Send(msg []byte, ts float64, first bool) error {
	if p.send == nil {
		return ErrClosed
	}
	return p.send(gomidi.Message(msg))
}

// Flush is a no-op: the driver writes synchronously.
func (p *PortInstrument) Flush() error { return nil }

func (p *PortInstrument) Close() error {
	p.send = nil
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}
