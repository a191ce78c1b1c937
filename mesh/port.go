package mesh

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// radios speak at a fixed rate, there is nothing to configure
const baudRate = 115200

// Port is the byte stream to a radio. Satisfied by a real serial port and
// by in-memory pipes in tests.
type Port interface {
	io.ReadWriteCloser
}

// openSerial opens the serial device behind a node.
func openSerial(device string) (Port, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}
	return port, nil
}
