package processor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"google.golang.org/protobuf/proto"
)

// -------------------------
// | id | protobuf message |
// -------------------------
// id占2字节，字节序可配置

type ProtobufProcessor struct {
	order   binary.ByteOrder
	mu      sync.RWMutex
	msgInfo map[uint16]*protoMsgInfo
	msgID   map[reflect.Type]uint16
}

type protoMsgInfo struct {
	msgType    reflect.Type
	handler    MsgHandler
	rawHandler RawHandler
}

// ProtobufRaw 设置了RawHandler的消息，Unmarshal只拆出id
type ProtobufRaw struct {
	ID   uint16
	Data []byte
}

func NewProtobufProcessor(littleEndian bool) *ProtobufProcessor {
	p := &ProtobufProcessor{
		order:   binary.BigEndian,
		msgInfo: make(map[uint16]*protoMsgInfo),
		msgID:   make(map[reflect.Type]uint16),
	}
	if littleEndian {
		p.order = binary.LittleEndian
	}
	return p
}

// Register 注册消息及其id
func (p *ProtobufProcessor) Register(msg proto.Message, id uint16) error {
	msgType, err := msgPointerType(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.msgID[msgType]; ok {
		return fmt.Errorf("message %s is already registered", msgType)
	}
	if _, ok := p.msgInfo[id]; ok {
		return fmt.Errorf("message id %v is already used", id)
	}
	p.msgInfo[id] = &protoMsgInfo{msgType: msgType}
	p.msgID[msgType] = id
	return nil
}

func (p *ProtobufProcessor) SetHandler(msg proto.Message, handler MsgHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.msgID[reflect.TypeOf(msg)]
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotRegistered, msg)
	}
	p.msgInfo[id].handler = handler
	return nil
}

func (p *ProtobufProcessor) SetRawHandler(id uint16, handler RawHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.msgInfo[id]
	if !ok {
		return fmt.Errorf("%w: id %v", ErrNotRegistered, id)
	}
	i.rawHandler = handler
	return nil
}

func (p *ProtobufProcessor) Route(msg any, userData any) error {
	// raw
	if raw, ok := msg.(ProtobufRaw); ok {
		p.mu.RLock()
		i, ok := p.msgInfo[raw.ID]
		p.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: id %v", ErrNotRegistered, raw.ID)
		}
		if i.rawHandler != nil {
			i.rawHandler(raw.ID, raw.Data, userData)
		}
		return nil
	}
	p.mu.RLock()
	id, ok := p.msgID[reflect.TypeOf(msg)]
	var handler MsgHandler
	if ok {
		handler = p.msgInfo[id].handler
	}
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotRegistered, msg)
	}
	if handler != nil {
		handler(msg, userData)
	}
	return nil
}

func (p *ProtobufProcessor) Unmarshal(data []byte) (any, error) {
	if len(data) < 2 {
		return nil, errors.New("protobuf data too short")
	}
	id := p.order.Uint16(data)
	p.mu.RLock()
	i, ok := p.msgInfo[id]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: id %v", ErrNotRegistered, id)
	}
	if i.rawHandler != nil {
		return ProtobufRaw{ID: id, Data: data[2:]}, nil
	}
	msg := reflect.New(i.msgType.Elem()).Interface().(proto.Message)
	return msg, proto.Unmarshal(data[2:], msg)
}

func (p *ProtobufProcessor) Marshal(msg any) ([]byte, error) {
	pm, ok := msg.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("not a protobuf message: %T", msg)
	}
	p.mu.RLock()
	id, ok := p.msgID[reflect.TypeOf(msg)]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotRegistered, msg)
	}
	body, err := proto.Marshal(pm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2, 2+len(body))
	p.order.PutUint16(out, id)
	return append(out, body...), nil
}
