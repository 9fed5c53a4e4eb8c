package detect

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Stream framing used by the radio firmware on its serial console.
const (
	frameStart1  = 0x94
	frameStart2  = 0xC3
	frameHeader  = 4
	maxFrameSize = 512
)

// Field numbers of the radio's ToRadio/FromRadio messages.
const (
	toRadioPacket       = 1
	toRadioWantConfigID = 3

	fromRadioMyInfo         = 3
	fromRadioConfigComplete = 7
	fromRadioMetadata       = 13

	myInfoNodeNum = 1

	metadataFirmwareVersion = 1
	metadataHwModel         = 9

	packetTo      = 2
	packetDecoded = 4
	packetID      = 6
	packetWantAck = 10

	dataPortnum = 1
	dataPayload = 2

	adminEnterDFU = 21

	portAdmin = 6
)

// encodeFrame wraps a serialized message in the stream header.
func encodeFrame(msg []byte) []byte {
	out := make([]byte, 0, frameHeader+len(msg))
	out = append(out, frameStart1, frameStart2, byte(len(msg)>>8), byte(len(msg)))
	return append(out, msg...)
}

// frameReader splits the inbound byte stream into frames. Bytes outside a
// frame are debug log output and are dropped.
type frameReader struct {
	buf []byte
}

func (r *frameReader) feed(data []byte) {
	r.buf = append(r.buf, data...)
}

func (r *frameReader) next() ([]byte, bool) {
	for {
		i := 0
		for i < len(r.buf) && r.buf[i] != frameStart1 {
			i++
		}
		r.buf = r.buf[i:]
		if len(r.buf) < 2 {
			return nil, false
		}
		if r.buf[1] != frameStart2 {
			r.buf = r.buf[1:]
			continue
		}
		if len(r.buf) < frameHeader {
			return nil, false
		}
		n := int(r.buf[2])<<8 | int(r.buf[3])
		if n > maxFrameSize {
			r.buf = r.buf[1:]
			continue
		}
		if len(r.buf) < frameHeader+n {
			return nil, false
		}
		frame := append([]byte(nil), r.buf[frameHeader:frameHeader+n]...)
		r.buf = r.buf[frameHeader+n:]
		return frame, true
	}
}

func wantConfig(id uint32) []byte {
	var b []byte
	b = protowire.AppendTag(b, toRadioWantConfigID, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(id))
}

// enterDFU builds a ToRadio packet carrying an admin request that switches
// the node with number node into its DFU bootloader.
func enterDFU(node, id uint32) []byte {
	var admin []byte
	admin = protowire.AppendTag(admin, adminEnterDFU, protowire.VarintType)
	admin = protowire.AppendVarint(admin, 1)

	var data []byte
	data = protowire.AppendTag(data, dataPortnum, protowire.VarintType)
	data = protowire.AppendVarint(data, portAdmin)
	data = protowire.AppendTag(data, dataPayload, protowire.BytesType)
	data = protowire.AppendBytes(data, admin)

	var pkt []byte
	pkt = protowire.AppendTag(pkt, packetTo, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, node)
	pkt = protowire.AppendTag(pkt, packetDecoded, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, data)
	pkt = protowire.AppendTag(pkt, packetID, protowire.Fixed32Type)
	pkt = protowire.AppendFixed32(pkt, id)
	pkt = protowire.AppendTag(pkt, packetWantAck, protowire.VarintType)
	pkt = protowire.AppendVarint(pkt, 1)

	var b []byte
	b = protowire.AppendTag(b, toRadioPacket, protowire.BytesType)
	return protowire.AppendBytes(b, pkt)
}

// fromRadio holds the parts of a FromRadio message the detector uses.
type fromRadio struct {
	nodeNum        uint32
	hasNodeNum     bool
	configComplete uint32
	hasComplete    bool
	metadata       *Announcement
}

// fields walks the top-level fields of a message.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func varint(v []byte) (uint64, error) {
	x, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return x, nil
}

func bytesField(v []byte) ([]byte, error) {
	x, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return x, nil
}

func decodeFromRadio(b []byte) (*fromRadio, error) {
	msg := &fromRadio{}
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == fromRadioMyInfo && typ == protowire.BytesType:
			inner, err := bytesField(v)
			if err != nil {
				return err
			}
			return fields(inner, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num == myInfoNodeNum && typ == protowire.VarintType {
					x, err := varint(v)
					if err != nil {
						return err
					}
					msg.nodeNum, msg.hasNodeNum = uint32(x), true
				}
				return nil
			})

		case num == fromRadioConfigComplete && typ == protowire.VarintType:
			x, err := varint(v)
			if err != nil {
				return err
			}
			msg.configComplete, msg.hasComplete = uint32(x), true

		case num == fromRadioMetadata && typ == protowire.BytesType:
			inner, err := bytesField(v)
			if err != nil {
				return err
			}
			a, err := decodeMetadata(inner)
			if err != nil {
				return err
			}
			msg.metadata = a
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode radio message: %w", err)
	}
	return msg, nil
}

func decodeMetadata(b []byte) (*Announcement, error) {
	a := &Announcement{}
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == metadataFirmwareVersion && typ == protowire.BytesType:
			s, err := bytesField(v)
			if err != nil {
				return err
			}
			a.FirmwareVersion = string(s)
		case num == metadataHwModel && typ == protowire.VarintType:
			x, err := varint(v)
			if err != nil {
				return err
			}
			a.HwModel = int(x)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
