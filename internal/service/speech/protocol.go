package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// protocolVersion 火山引擎二进制帧协议版本
const protocolVersion = 0b0001

// MessageType 帧类型（高4位）
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags 帧标志（低4位）
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100
)

// EventType 事件编号
type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// SerializationMethod 负载序列化方式
type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod 负载压缩方式
type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// Header 4字节帧头
type Header struct {
	MessageType         MessageType
	MessageFlags        MessageFlags
	SerializationMethod SerializationMethod
	CompressionMethod   CompressionMethod
	// HeaderSize 以4字节为单位，解码时用于跳过扩展头
	HeaderSize uint8
}

// Message 一个完整的二进制帧
type Message struct {
	Header    Header
	Sequence  int32
	EventType EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func (h Header) encode() []byte {
	size := h.HeaderSize
	if size == 0 {
		size = 1
	}
	return []byte{
		protocolVersion<<4 | size,
		uint8(h.MessageType)<<4 | uint8(h.MessageFlags),
		uint8(h.SerializationMethod)<<4 | uint8(h.CompressionMethod),
		0x00,
	}
}

func decodeHeader(data []byte) (Header, error) {
	if len(data) < 4 {
		return Header{}, fmt.Errorf("header too short: %d bytes", len(data))
	}
	if version := data[0] >> 4; version != protocolVersion {
		return Header{}, fmt.Errorf("unsupported protocol version: %d", version)
	}
	return Header{
		HeaderSize:          data[0] & 0x0F,
		MessageType:         MessageType(data[1] >> 4),
		MessageFlags:        MessageFlags(data[1] & 0x0F),
		SerializationMethod: SerializationMethod(data[2] >> 4),
		CompressionMethod:   CompressionMethod(data[2] & 0x0F),
	}, nil
}

func (m *Message) hasSequence() bool {
	switch m.Header.MessageFlags & 0b0011 {
	case PositiveSequenceNumber, NegativeSequenceNumber:
		return true
	}
	return false
}

func (m *Message) hasEvent() bool {
	return m.Header.MessageFlags&WithEvent == WithEvent
}

// EncodeMessage 序列化帧：header | [sequence] | [event, session, connect] | size | payload
func EncodeMessage(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(msg.Header.encode())

	if msg.hasSequence() {
		writeUint32(&buf, uint32(msg.Sequence))
	}

	if msg.hasEvent() {
		writeUint32(&buf, uint32(msg.EventType))
		if !eventSkipsSessionID(msg.EventType) {
			writeSized(&buf, []byte(msg.SessionID))
		}
		if eventHasConnectID(msg.EventType) {
			writeSized(&buf, []byte(msg.ConnectID))
		}
	}

	if msg.Header.MessageType == ErrorMessage {
		writeUint32(&buf, msg.ErrorCode)
	}
	writeSized(&buf, msg.Payload)

	return buf.Bytes(), nil
}

// DecodeMessage 解析一个二进制帧
func DecodeMessage(r io.Reader) (*Message, error) {
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header, err := decodeHeader(head)
	if err != nil {
		return nil, err
	}

	if extra := int(header.HeaderSize)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	msg := &Message{Header: header}

	if msg.hasSequence() {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		msg.Sequence = int32(seq)
	}

	if msg.hasEvent() {
		event, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event type: %w", err)
		}
		msg.EventType = EventType(int32(event))

		if !eventSkipsSessionID(msg.EventType) {
			session, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
			msg.SessionID = string(session)
		}
		if eventHasConnectID(msg.EventType) {
			connect, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
			msg.ConnectID = string(connect)
		}
	}

	if header.MessageType == ErrorMessage {
		if msg.ErrorCode, err = readUint32(r); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}

	if msg.Payload, err = readSized(r); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return msg, nil
}

// CreateFullClientRequest 构造携带 JSON 参数的客户端请求帧
func CreateFullClientRequest(payload []byte, compression CompressionMethod) *Message {
	return &Message{
		Header: Header{
			MessageType:         FullClientRequest,
			MessageFlags:        NoSequenceNumber,
			SerializationMethod: JSONSerialization,
			CompressionMethod:   compression,
		},
		Payload: payload,
	}
}

// IsLastPacket 判断是否为最后一包
func (m *Message) IsLastPacket() bool {
	switch m.Header.MessageFlags & 0b0011 {
	case LastPacketNoSequence, NegativeSequenceNumber:
		return true
	}
	return false
}

// IsSessionFinished 判断是否携带会话结束事件
func (m *Message) IsSessionFinished() bool {
	return m.hasEvent() && m.EventType == EventTypeSessionFinished
}

func eventSkipsSessionID(event EventType) bool {
	switch event {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

func eventHasConnectID(event EventType) bool {
	switch event {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeSized(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader) ([]byte, error) {
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("expected %d bytes: %w", size, err)
	}
	return data, nil
}
