package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// This file defines the payload layouts carried inside a Fragment, keyed by
// FragmentType. Strings are length-prefixed (uint16) ASCII, matching the
// teacher's convention of fixed-size binary fields for anything identity- or
// sequence-related and explicit length prefixes only where a field is
// genuinely variable-length (comp ids).

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

// --- Outbound payloads (§6) ---

// LibraryConnectPayload announces this library instance to an engine
// channel (§4.6); it is sent on every connect attempt and re-sent while the
// attempt still awaits the engine's ack.
type LibraryConnectPayload struct {
	LibraryId int32
}

func (p LibraryConnectPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, p.LibraryId)
	return buf.Bytes()
}

func DecodeLibraryConnect(payload []byte) (LibraryConnectPayload, error) {
	var p LibraryConnectPayload
	r := bytes.NewReader(payload)
	if err := binary.Read(r, binary.BigEndian, &p.LibraryId); err != nil {
		return p, err
	}
	return p, nil
}

// SequenceNumberType selects how the engine seeds the new session's
// sequence numbers on an InitiateConnection (§6).
type SequenceNumberType uint8

const (
	SequenceNumberTransient  SequenceNumberType = 0
	SequenceNumberPersistent SequenceNumberType = 1
	SequenceNumberCustom     SequenceNumberType = 2
)

// InitiateConnectionPayload requests the engine dial, own and hand back a new
// session (§6): the target endpoint, the full FIX comp-id triple for the
// sender side, sequence seeding, credentials, and the heartbeat interval the
// logon should negotiate.
type InitiateConnectionPayload struct {
	Host               string
	Port               int32
	SenderCompId       string
	SenderSubId        string
	SenderLocationId   string
	TargetCompId       string
	SequenceType       SequenceNumberType
	InitialSequenceNo  int32
	Username           string
	Password           string
	HeartbeatIntervalS int32
}

func (p InitiateConnectionPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	writeString(buf, p.Host)
	binary.Write(buf, binary.BigEndian, p.Port)
	writeString(buf, p.SenderCompId)
	writeString(buf, p.SenderSubId)
	writeString(buf, p.SenderLocationId)
	writeString(buf, p.TargetCompId)
	buf.WriteByte(byte(p.SequenceType))
	binary.Write(buf, binary.BigEndian, p.InitialSequenceNo)
	writeString(buf, p.Username)
	writeString(buf, p.Password)
	binary.Write(buf, binary.BigEndian, p.HeartbeatIntervalS)
	return buf.Bytes()
}

func DecodeInitiateConnection(payload []byte) (InitiateConnectionPayload, error) {
	var p InitiateConnectionPayload
	var err error
	r := bytes.NewReader(payload)
	if p.Host, err = readString(r); err != nil {
		return p, err
	}
	if err = binary.Read(r, binary.BigEndian, &p.Port); err != nil {
		return p, err
	}
	if p.SenderCompId, err = readString(r); err != nil {
		return p, err
	}
	if p.SenderSubId, err = readString(r); err != nil {
		return p, err
	}
	if p.SenderLocationId, err = readString(r); err != nil {
		return p, err
	}
	if p.TargetCompId, err = readString(r); err != nil {
		return p, err
	}
	seqType, err := r.ReadByte()
	if err != nil {
		return p, err
	}
	p.SequenceType = SequenceNumberType(seqType)
	if err = binary.Read(r, binary.BigEndian, &p.InitialSequenceNo); err != nil {
		return p, err
	}
	if p.Username, err = readString(r); err != nil {
		return p, err
	}
	if p.Password, err = readString(r); err != nil {
		return p, err
	}
	if err = binary.Read(r, binary.BigEndian, &p.HeartbeatIntervalS); err != nil {
		return p, err
	}
	return p, nil
}

// ReleaseSessionPayload hands ownership of a session back to the engine (§6),
// carrying the library-side state snapshot the engine needs to keep driving
// the session itself: lifecycle state, heartbeat interval, the seq-number
// pair, and credentials for any re-logon the engine performs.
type ReleaseSessionPayload struct {
	ConnectionId        int64
	State               uint8
	HeartbeatIntervalMs int64
	LastSentSeq         int32
	LastRecvSeq         int32
	Username            string
	Password            string
}

func (p ReleaseSessionPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, p.ConnectionId)
	buf.WriteByte(p.State)
	binary.Write(buf, binary.BigEndian, p.HeartbeatIntervalMs)
	binary.Write(buf, binary.BigEndian, p.LastSentSeq)
	binary.Write(buf, binary.BigEndian, p.LastRecvSeq)
	writeString(buf, p.Username)
	writeString(buf, p.Password)
	return buf.Bytes()
}

func DecodeReleaseSession(payload []byte) (ReleaseSessionPayload, error) {
	var p ReleaseSessionPayload
	r := bytes.NewReader(payload)
	if err := binary.Read(r, binary.BigEndian, &p.ConnectionId); err != nil {
		return p, err
	}
	state, err := r.ReadByte()
	if err != nil {
		return p, err
	}
	p.State = state
	if err = binary.Read(r, binary.BigEndian, &p.HeartbeatIntervalMs); err != nil {
		return p, err
	}
	if err = binary.Read(r, binary.BigEndian, &p.LastSentSeq); err != nil {
		return p, err
	}
	if err = binary.Read(r, binary.BigEndian, &p.LastRecvSeq); err != nil {
		return p, err
	}
	if p.Username, err = readString(r); err != nil {
		return p, err
	}
	p.Password, err = readString(r)
	return p, err
}

// RequestSessionPayload requests ownership of an engine-held session by
// surrogate id, replaying everything after LastRecvSeq (§6).
type RequestSessionPayload struct {
	SurrogateId int64
	LastRecvSeq int32
}

func (p RequestSessionPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, p.SurrogateId)
	binary.Write(buf, binary.BigEndian, p.LastRecvSeq)
	return buf.Bytes()
}

func DecodeRequestSession(payload []byte) (RequestSessionPayload, error) {
	var p RequestSessionPayload
	r := bytes.NewReader(payload)
	if err := binary.Read(r, binary.BigEndian, &p.SurrogateId); err != nil {
		return p, err
	}
	err := binary.Read(r, binary.BigEndian, &p.LastRecvSeq)
	return p, err
}

// --- Inbound payloads (§4.5) ---

// ErrorPayload carries a taxonomy kind and message for a failed request
// (§7). ReplyToId lives in the envelope's CorrelationId field.
type ErrorPayload struct {
	Kind    uint8
	Message string
}

func (p ErrorPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(p.Kind)
	writeString(buf, p.Message)
	return buf.Bytes()
}

func DecodeError(payload []byte) (ErrorPayload, error) {
	var p ErrorPayload
	r := bytes.NewReader(payload)
	kind, err := r.ReadByte()
	if err != nil {
		return p, err
	}
	p.Kind = kind
	p.Message, err = readString(r)
	return p, err
}

// NotLeaderPayload redirects a request to another engine channel (§4.5/§4.6).
type NotLeaderPayload struct {
	LeaderChannel string
}

func (p NotLeaderPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	writeString(buf, p.LeaderChannel)
	return buf.Bytes()
}

func DecodeNotLeader(payload []byte) (NotLeaderPayload, error) {
	var p NotLeaderPayload
	var err error
	r := bytes.NewReader(payload)
	p.LeaderChannel, err = readString(r)
	return p, err
}

// ControlNotificationPayload carries the authoritative set of session
// connectionIds this library instance owns, used by the registry's
// Reconcile (§4.2, §4.5).
type ControlNotificationPayload struct {
	ConnectionIds []int64
}

func (p ControlNotificationPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(len(p.ConnectionIds)))
	for _, id := range p.ConnectionIds {
		binary.Write(buf, binary.BigEndian, id)
	}
	return buf.Bytes()
}

func DecodeControlNotification(payload []byte) (ControlNotificationPayload, error) {
	var p ControlNotificationPayload
	r := bytes.NewReader(payload)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return p, err
	}
	p.ConnectionIds = make([]int64, n)
	for i := range p.ConnectionIds {
		if err := binary.Read(r, binary.BigEndian, &p.ConnectionIds[i]); err != nil {
			return p, err
		}
	}
	return p, nil
}

// ManageConnectionType discriminates whether a ManageConnection fragment is
// resolving a library-initiated InitiateConnection request or announcing a
// session an acceptor-side engine owns and is handing to this library (§4.5).
type ManageConnectionType uint8

const (
	ManageConnectionInitiator ManageConnectionType = 0
	ManageConnectionAcceptor  ManageConnectionType = 1
)

// ManageConnectionPayload informs the library of a session it now owns, or
// that ownership has been revoked (§4.5).
type ManageConnectionPayload struct {
	Type         ManageConnectionType
	ConnectionId int64
	SurrogateId  int64
	LocalCompId  string
	RemoteCompId string
	Owned        bool
}

func (p ManageConnectionPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(p.Type))
	binary.Write(buf, binary.BigEndian, p.ConnectionId)
	binary.Write(buf, binary.BigEndian, p.SurrogateId)
	writeString(buf, p.LocalCompId)
	writeString(buf, p.RemoteCompId)
	if p.Owned {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func DecodeManageConnection(payload []byte) (ManageConnectionPayload, error) {
	var p ManageConnectionPayload
	r := bytes.NewReader(payload)
	typ, err := r.ReadByte()
	if err != nil {
		return p, err
	}
	p.Type = ManageConnectionType(typ)
	if err = binary.Read(r, binary.BigEndian, &p.ConnectionId); err != nil {
		return p, err
	}
	if err = binary.Read(r, binary.BigEndian, &p.SurrogateId); err != nil {
		return p, err
	}
	if p.LocalCompId, err = readString(r); err != nil {
		return p, err
	}
	if p.RemoteCompId, err = readString(r); err != nil {
		return p, err
	}
	owned, err := r.ReadByte()
	if err != nil {
		return p, err
	}
	p.Owned = owned == 1
	return p, nil
}

// LogonStatus discriminates a fresh session acquisition from a notification
// that a session already exists (owned by this library or another, §4.5).
type LogonStatus uint8

const (
	LogonStatusNew                 LogonStatus = 0
	LogonStatusLibraryNotification LogonStatus = 1
)

// LogonPayload carries the status of a Logon fragment (§4.5).
type LogonPayload struct {
	Status LogonStatus
}

func (p LogonPayload) Marshal() []byte {
	return []byte{byte(p.Status)}
}

func DecodeLogon(payload []byte) (LogonPayload, error) {
	if len(payload) < 1 {
		return LogonPayload{}, fmt.Errorf("wire: logon payload too short")
	}
	return LogonPayload{Status: LogonStatus(payload[0])}, nil
}

// DisconnectPayload carries the engine's reason for tearing down a session
// (§4.5, §6 onDisconnect callback).
type DisconnectPayload struct {
	Reason string
}

func (p DisconnectPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	writeString(buf, p.Reason)
	return buf.Bytes()
}

func DecodeDisconnect(payload []byte) (DisconnectPayload, error) {
	var p DisconnectPayload
	var err error
	r := bytes.NewReader(payload)
	p.Reason, err = readString(r)
	return p, err
}

// CatchupPayload tells a subscriber how many replayed messages to expect
// before live delivery resumes (§4.5).
type CatchupPayload struct {
	MessageCount int32
}

func (p CatchupPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, p.MessageCount)
	return buf.Bytes()
}

func DecodeCatchup(payload []byte) (CatchupPayload, error) {
	var p CatchupPayload
	r := bytes.NewReader(payload)
	err := binary.Read(r, binary.BigEndian, &p.MessageCount)
	return p, err
}

// NewSentPositionPayload reports the transport position an outbound FIX
// message was published at, once durably sent (§4.5, §6 onSendCompleted).
type NewSentPositionPayload struct {
	Position int64
}

func (p NewSentPositionPayload) Marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, p.Position)
	return buf.Bytes()
}

func DecodeNewSentPosition(payload []byte) (NewSentPositionPayload, error) {
	var p NewSentPositionPayload
	r := bytes.NewReader(payload)
	err := binary.Read(r, binary.BigEndian, &p.Position)
	return p, err
}

// Decode dispatches payload decoding by the envelope's FragmentType,
// returning the decoded value as `any` for the caller to type-switch on — a
// thin discriminator, the rest of the decode table lives in internal/dispatcher.
func Decode(t FragmentType, payload []byte) (any, error) {
	switch t {
	case FragmentError:
		return DecodeError(payload)
	case FragmentNotLeader:
		return DecodeNotLeader(payload)
	case FragmentControlNotification:
		return DecodeControlNotification(payload)
	case FragmentManageConnection:
		return DecodeManageConnection(payload)
	case FragmentLogon:
		return DecodeLogon(payload)
	case FragmentDisconnect:
		return DecodeDisconnect(payload)
	case FragmentCatchup:
		return DecodeCatchup(payload)
	case FragmentNewSentPosition:
		return DecodeNewSentPosition(payload)
	default:
		return nil, fmt.Errorf("wire: no decoder registered for %s", t)
	}
}
