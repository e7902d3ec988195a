package kepco

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/snksoft/crc"
	"github.com/tarm/serial"
)

// Telegram framing for a serial-attached digital enable/interlock line:
// some Kepco-class supplies expose interlock over an RS-232 command channel
// rather than a dry contact. A telegram is:
//
//	[telStart][channel][opcode][crc16 lo][crc16 hi][telEnd]
//
// where opcode is 1 for "assert" (enable) and 0 for "deassert" (disable),
// and the CRC covers [channel][opcode].
const (
	telStart = 0x02
	telEnd   = 0x03

	opDeassert = 0x00
	opAssert   = 0x01
)

var crcTable = crc.NewTable(crc.XMODEM)

// SerialInterlock is a DigitalLine backed by a serial connection, used when
// EnableMode is EnableSerialInterlock.
type SerialInterlock struct {
	cfg  *serial.Config
	port io.ReadWriteCloser
}

// NewSerialInterlock returns a SerialInterlock that will dial addr at baud
// when first used.
func NewSerialInterlock(addr string, baud int) *SerialInterlock {
	return &SerialInterlock{cfg: &serial.Config{Name: addr, Baud: baud}}
}

func (s *SerialInterlock) open() error {
	if s.port != nil {
		return nil
	}
	p, err := serial.OpenPort(s.cfg)
	if err != nil {
		return err
	}
	s.port = p
	return nil
}

// Close releases the underlying serial connection, if open.
func (s *SerialInterlock) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// SetLine implements DigitalLine by sending a CRC-checked telegram.
func (s *SerialInterlock) SetLine(ctx context.Context, channel uint32, high bool) error {
	if err := s.open(); err != nil {
		return err
	}
	op := byte(opDeassert)
	if high {
		op = opAssert
	}
	telegram := buildTelegram(byte(channel), op)
	_, err := s.port.Write(telegram)
	return err
}

// crc16 computes the CRC-16/XMODEM of buf, the same table and call sequence
// as nkt's telegram framing.
func crc16(buf []byte) uint16 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, buf)
	return crcTable.CRC16(c)
}

func buildTelegram(channel, op byte) []byte {
	payload := []byte{channel, op}
	sum := crc16(payload)

	buf := make([]byte, 0, 6)
	buf = append(buf, telStart)
	buf = append(buf, payload...)
	crcBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(crcBytes, sum)
	buf = append(buf, crcBytes...)
	buf = append(buf, telEnd)
	return buf
}

// verifyTelegram is used by tests to round-trip a built telegram back to
// its channel/op and confirm the CRC matches.
func verifyTelegram(t []byte) (channel, op byte, err error) {
	if len(t) != 6 || t[0] != telStart || t[5] != telEnd {
		return 0, 0, fmt.Errorf("malformed telegram")
	}
	channel, op = t[1], t[2]
	want := crc16([]byte{channel, op})
	got := binary.LittleEndian.Uint16(t[3:5])
	if want != got {
		return 0, 0, fmt.Errorf("crc mismatch")
	}
	return channel, op, nil
}
