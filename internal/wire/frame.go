// Package wire implements the binary framing connector (§6): a fixed-offset
// header followed by a variable-length payload, the same shape as the
// teacher's protocol.FrameHeader (magic bytes, version, frame type byte,
// fixed-size identity fields, trailing payload length). Fragment kinds here
// are the inbound/outbound message set of §4.5/§6 rather than the teacher's
// AOCS handshake/escrow/federation set.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	MagicByte1 uint8 = 0xF1
	MagicByte2 uint8 = 0x78 // 'x' for fix

	VersionMajor uint8 = 1
	VersionMinor uint8 = 0
)

// FragmentType discriminates every message this connector sends or receives
// (§4.5's dispatch table plus §6's outbound set).
type FragmentType uint8

const (
	// Outbound (library -> engine)
	FragmentLibraryConnect     FragmentType = 0x01
	FragmentInitiateConnection FragmentType = 0x02
	FragmentReleaseSession     FragmentType = 0x03
	FragmentRequestSession     FragmentType = 0x04

	// Inbound (engine -> library)
	FragmentManageConnection     FragmentType = 0x10
	FragmentLogon                FragmentType = 0x11
	FragmentFixMessage           FragmentType = 0x12
	FragmentDisconnect           FragmentType = 0x13
	FragmentError                FragmentType = 0x14
	FragmentApplicationHeartbeat FragmentType = 0x15
	FragmentReleaseSessionReply  FragmentType = 0x16
	FragmentRequestSessionReply  FragmentType = 0x17
	FragmentCatchup              FragmentType = 0x18
	FragmentNewSentPosition      FragmentType = 0x19
	FragmentNotLeader            FragmentType = 0x1A
	FragmentControlNotification  FragmentType = 0x1B
	FragmentConnectAck           FragmentType = 0x1C
)

func (ft FragmentType) String() string {
	switch ft {
	case FragmentLibraryConnect:
		return "LIBRARY_CONNECT"
	case FragmentInitiateConnection:
		return "INITIATE_CONNECTION"
	case FragmentReleaseSession:
		return "RELEASE_SESSION"
	case FragmentRequestSession:
		return "REQUEST_SESSION"
	case FragmentManageConnection:
		return "MANAGE_CONNECTION"
	case FragmentLogon:
		return "LOGON"
	case FragmentFixMessage:
		return "FIX_MESSAGE"
	case FragmentDisconnect:
		return "DISCONNECT"
	case FragmentError:
		return "ERROR"
	case FragmentApplicationHeartbeat:
		return "APPLICATION_HEARTBEAT"
	case FragmentReleaseSessionReply:
		return "RELEASE_SESSION_REPLY"
	case FragmentRequestSessionReply:
		return "REQUEST_SESSION_REPLY"
	case FragmentCatchup:
		return "CATCHUP"
	case FragmentNewSentPosition:
		return "NEW_SENT_POSITION"
	case FragmentNotLeader:
		return "NOT_LEADER"
	case FragmentControlNotification:
		return "CONTROL_NOTIFICATION"
	case FragmentConnectAck:
		return "CONNECT_ACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(ft))
	}
}

// HeaderSize is the size in bytes of the fixed Header below.
const HeaderSize = 36

// Header is the fixed 36-byte prefix of every fragment. CorrelationId is the
// request's id on outbound fragments and the replyToId on inbound replies
// (§GLOSSARY); LibraryId/ConnectionId are 0 where not applicable to a given
// FragmentType.
type Header struct {
	Magic         [2]uint8
	VersionMajor  uint8
	VersionMinor  uint8
	Type          FragmentType
	Reserved      [3]byte // keeps the header word-aligned
	CorrelationId int64
	LibraryId     int32
	ConnectionId  int64
	SeqIdx        int32
	PayloadLen    uint32
}

func newHeader(t FragmentType) Header {
	return Header{
		Magic:        [2]uint8{MagicByte1, MagicByte2},
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		Type:         t,
	}
}

func (h *Header) marshal(w *bytes.Buffer) error {
	fields := []any{
		h.Magic, h.VersionMajor, h.VersionMinor, h.Type, h.Reserved,
		h.CorrelationId, h.LibraryId, h.ConnectionId, h.SeqIdx, h.PayloadLen,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func (h *Header) unmarshal(r *bytes.Reader) error {
	fields := []any{
		&h.Magic, &h.VersionMajor, &h.VersionMinor, &h.Type, &h.Reserved,
		&h.CorrelationId, &h.LibraryId, &h.ConnectionId, &h.SeqIdx, &h.PayloadLen,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}
	if h.Magic[0] != MagicByte1 || h.Magic[1] != MagicByte2 {
		return fmt.Errorf("wire: bad magic bytes %02X%02X", h.Magic[0], h.Magic[1])
	}
	if h.VersionMajor != VersionMajor {
		return fmt.Errorf("wire: unsupported major version %d", h.VersionMajor)
	}
	return nil
}

// Fragment is a complete header+payload unit as read off a Subscription or
// written to a Publication (§4, transport module).
type Fragment struct {
	Header  Header
	Payload []byte
}

func NewFragment(t FragmentType, correlationId int64, libraryId int32, connectionId int64, payload []byte) *Fragment {
	h := newHeader(t)
	h.CorrelationId = correlationId
	h.LibraryId = libraryId
	h.ConnectionId = connectionId
	h.PayloadLen = uint32(len(payload))
	return &Fragment{Header: h, Payload: payload}
}

func (f *Fragment) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	f.Header.PayloadLen = uint32(len(f.Payload))
	if err := f.Header.marshal(buf); err != nil {
		return nil, err
	}
	buf.Write(f.Payload)
	return buf.Bytes(), nil
}

// Unmarshal decodes a fragment from buf[offset:offset+length]. It copies the
// payload out of buf so the caller's ring buffer slot can be reused/overwritten
// once this returns (§5: the connector never retains slices into transport
// buffers past the current poll callback).
func Unmarshal(buf []byte, offset, length int) (*Fragment, error) {
	if length < HeaderSize {
		return nil, fmt.Errorf("wire: fragment too short: %d bytes", length)
	}
	r := bytes.NewReader(buf[offset : offset+length])
	var h Header
	if err := h.unmarshal(r); err != nil {
		return nil, err
	}
	remaining := length - HeaderSize
	if remaining < int(h.PayloadLen) {
		return nil, fmt.Errorf("wire: payload truncated: have %d, want %d", remaining, h.PayloadLen)
	}
	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return &Fragment{Header: h, Payload: payload}, nil
}
