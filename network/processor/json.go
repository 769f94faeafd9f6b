package processor

/**
  *  @author tryao
  *  @date 2022/03/21 14:40
**/
import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// JsonProcessor 消息格式 {"MsgName": {...}}，消息名是结构体的类型名
type JsonProcessor struct {
	mu      sync.RWMutex
	msgInfo map[string]*jsonMsgInfo
}

type jsonMsgInfo struct {
	msgType    reflect.Type
	handler    MsgHandler
	rawHandler RawHandler
}

// JsonRaw 设置了RawHandler的消息，Unmarshal只拆出消息名
type JsonRaw struct {
	ID   string
	Data json.RawMessage
}

func NewJsonProcessor() *JsonProcessor {
	return &JsonProcessor{msgInfo: make(map[string]*jsonMsgInfo)}
}

// Register 注册消息，返回消息名
func (p *JsonProcessor) Register(msg any) (string, error) {
	msgType, err := msgPointerType(msg)
	if err != nil {
		return "", err
	}
	msgID := msgType.Elem().Name()
	if msgID == "" {
		return "", errors.New("unnamed json message")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.msgInfo[msgID]; ok {
		return "", fmt.Errorf("message %v is already registered", msgID)
	}
	p.msgInfo[msgID] = &jsonMsgInfo{msgType: msgType}
	return msgID, nil
}

func (p *JsonProcessor) info(msg any) (*jsonMsgInfo, string, error) {
	msgType, err := msgPointerType(msg)
	if err != nil {
		return nil, "", err
	}
	msgID := msgType.Elem().Name()
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.msgInfo[msgID]
	if !ok {
		return nil, msgID, fmt.Errorf("%w: %v", ErrNotRegistered, msgID)
	}
	return i, msgID, nil
}

// SetHandler 设置消息回调
func (p *JsonProcessor) SetHandler(msg any, handler MsgHandler) error {
	i, _, err := p.info(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	i.handler = handler
	p.mu.Unlock()
	return nil
}

// SetRawHandler 原始数据处理
func (p *JsonProcessor) SetRawHandler(msgID string, handler RawHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.msgInfo[msgID]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotRegistered, msgID)
	}
	i.rawHandler = handler
	return nil
}

func (p *JsonProcessor) Route(msg any, userData any) error {
	// raw
	if raw, ok := msg.(JsonRaw); ok {
		p.mu.RLock()
		i, ok := p.msgInfo[raw.ID]
		p.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %v", ErrNotRegistered, raw.ID)
		}
		if i.rawHandler != nil {
			i.rawHandler(raw.ID, raw.Data, userData)
		}
		return nil
	}
	i, _, err := p.info(msg)
	if err != nil {
		return err
	}
	p.mu.RLock()
	handler := i.handler
	p.mu.RUnlock()
	if handler != nil {
		handler(msg, userData)
	}
	return nil
}

func (p *JsonProcessor) Unmarshal(data []byte) (any, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m) != 1 {
		return nil, errors.New("invalid json data")
	}
	for msgID, body := range m {
		p.mu.RLock()
		i, ok := p.msgInfo[msgID]
		p.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrNotRegistered, msgID)
		}
		if i.rawHandler != nil {
			return JsonRaw{ID: msgID, Data: body}, nil
		}
		msg := reflect.New(i.msgType.Elem()).Interface()
		return msg, json.Unmarshal(body, msg)
	}
	return nil, errors.New("invalid json data")
}

func (p *JsonProcessor) Marshal(msg any) ([]byte, error) {
	_, msgID, err := p.info(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{msgID: msg})
}
