package coap

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

// Marshal encodes m in the CoAP-over-UDP wire format.
func (m *Message) Marshal() ([]byte, error) {
	if len(m.Token) > MaxTokenLength {
		return nil, ErrTokenTooLong
	}

	msg := pool.NewMessage(context.Background())
	defer msg.Reset()

	msg.SetType(m.Type)
	msg.SetCode(m.Code)
	msg.SetMessageID(int32(m.MessageID))
	if len(m.Token) > 0 {
		msg.SetToken(message.Token(m.Token))
	}

	for _, s := range m.URIPath {
		msg.AddOptionString(message.URIPath, s)
	}
	for _, s := range m.URIQuery {
		msg.AddOptionString(message.URIQuery, s)
	}
	for _, s := range m.LocationPath {
		msg.AddOptionString(message.LocationPath, s)
	}
	if m.ContentFormat != nil {
		msg.SetContentFormat(*m.ContentFormat)
	}
	if m.Accept != nil {
		msg.SetOptionUint32(message.Accept, uint32(*m.Accept))
	}
	if m.Observe != nil {
		msg.SetOptionUint32(message.Observe, *m.Observe)
	}
	if m.Block1 != nil {
		v, err := m.Block1.Encode()
		if err != nil {
			return nil, err
		}
		msg.SetOptionUint32(message.Block1, v)
	}
	if len(m.Payload) > 0 {
		msg.SetBody(bytes.NewReader(m.Payload))
	}

	data, err := msg.MarshalWithEncoder(coder.DefaultCoder)
	if err != nil {
		return nil, fmt.Errorf("coap: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes one CoAP-over-UDP datagram.
func Unmarshal(data []byte) (*Message, error) {
	msg := pool.NewMessage(context.Background())
	defer msg.Reset()

	if _, err := msg.UnmarshalWithDecoder(coder.DefaultCoder, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	m := &Message{
		Type:      msg.Type(),
		Code:      msg.Code(),
		MessageID: uint16(msg.MessageID()),
		Token:     cloneBytes(msg.Token()),
	}

	for _, opt := range msg.Options() {
		switch opt.ID {
		case message.URIPath:
			m.URIPath = append(m.URIPath, string(opt.Value))
		case message.URIQuery:
			m.URIQuery = append(m.URIQuery, string(opt.Value))
		case message.LocationPath:
			m.LocationPath = append(m.LocationPath, string(opt.Value))
		}
	}

	if v, err := msg.GetOptionUint32(message.ContentFormat); err == nil {
		m.SetContentFormat(MediaType(v))
	}
	if v, err := msg.GetOptionUint32(message.Accept); err == nil {
		mt := MediaType(v)
		m.Accept = &mt
	}
	if v, err := msg.GetOptionUint32(message.Observe); err == nil {
		m.SetObserve(v)
	}
	if v, err := msg.GetOptionUint32(message.Block1); err == nil {
		b, err := DecodeBlock(v)
		if err != nil {
			return nil, err
		}
		m.Block1 = &b
	}

	if body := msg.Body(); body != nil {
		payload, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(payload) > 0 {
			m.Payload = payload
		}
	}

	return m, nil
}
