package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Heartbeat payloads. A ping must be answered with a pong; a pong needs no
// reply.
const (
	PingPayload = "P"
	PongPayload = "p"
)

// MessageKind identifies how an inbound frame should be routed.
type MessageKind uint8

const (
	KindUnknown         MessageKind = iota
	KindPing                        // heartbeat "P"
	KindPong                        // heartbeat "p"
	KindCallResponse                // response to a server-issued call (smsgid)
	KindServiceCall                 // client-issued service method call
	KindServiceDataPush             // client-issued async data push to a service
	KindGeneric                     // anything else, routed to the form layer
)

// String returns the string representation of the message kind.
func (k MessageKind) String() string {
	switch k {
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindCallResponse:
		return "CallResponse"
	case KindServiceCall:
		return "ServiceCall"
	case KindServiceDataPush:
		return "ServiceDataPush"
	case KindGeneric:
		return "Generic"
	default:
		return "Unknown"
	}
}

// Message is one parsed inbound frame. Only the fields relevant to the
// message's Kind are populated; Raw always holds the original body.
type Message struct {
	Kind MessageKind

	// Call response fields (KindCallResponse).
	SMsgID uint64          // correlates with a pending server-issued call
	Ret    json.RawMessage // return value, present even if JSON null
	Err    json.RawMessage // error marker; presence implies failure

	// Service call fields (KindServiceCall).
	Service    string
	MethodName string
	Args       map[string]json.RawMessage
	CMsgID     uint64 // response correlation id chosen by the client
	HasCMsgID  bool

	// Data push fields (KindServiceDataPush). Service is reused for the
	// target service name.
	Changes map[string]json.RawMessage

	// Priority hint (KindServiceCall, KindServiceDataPush). Nil when the
	// client did not send one.
	Prio *int

	// Raw is the unparsed frame body.
	Raw []byte
}

// IsError reports whether a call response carries the error marker.
func (m *Message) IsError() bool {
	return len(m.Err) > 0
}

// envelope mirrors the JSON keys the client may send. Unknown keys are
// ignored; their presence makes the frame KindGeneric only when none of the
// routing keys matched.
type envelope struct {
	SMsgID          *uint64                    `json:"smsgid"`
	Ret             json.RawMessage            `json:"ret"`
	Err             json.RawMessage            `json:"err"`
	Service         string                     `json:"service"`
	MethodName      string                     `json:"methodname"`
	Args            map[string]json.RawMessage `json:"args"`
	CMsgID          *uint64                    `json:"cmsgid"`
	ServiceDataPush string                     `json:"servicedatapush"`
	Changes         map[string]json.RawMessage `json:"changes"`
	Prio            *int                       `json:"prio"`
}

// Parse parses one inbound frame body into a Message.
//
// Heartbeats are matched before any JSON decoding so the hot keep-alive path
// never allocates. A frame that is neither a heartbeat nor a JSON object
// yields a *ParseError; the caller is expected to log and drop it without
// tearing down the connection.
func Parse(data []byte) (*Message, error) {
	body := bytes.TrimSpace(data)

	switch string(body) {
	case PingPayload:
		return &Message{Kind: KindPing, Raw: body}, nil
	case PongPayload:
		return &Message{Kind: KindPong, Raw: body}, nil
	}

	if len(body) == 0 || body[0] != '{' {
		return nil, &ParseError{Op: "parse", Err: fmt.Errorf("frame is not a JSON object: %.32q", body)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ParseError{Op: "parse", Err: err}
	}

	m := &Message{Raw: body, Prio: env.Prio}

	switch {
	case env.SMsgID != nil:
		m.Kind = KindCallResponse
		m.SMsgID = *env.SMsgID
		m.Ret = env.Ret
		m.Err = env.Err

	case env.Service != "":
		m.Kind = KindServiceCall
		m.Service = env.Service
		m.MethodName = env.MethodName
		m.Args = env.Args
		if env.CMsgID != nil {
			m.CMsgID = *env.CMsgID
			m.HasCMsgID = true
		}
		if m.MethodName == "" {
			return nil, &ParseError{Op: "parse", Err: fmt.Errorf("service call for %q has no methodname", m.Service)}
		}

	case env.ServiceDataPush != "":
		m.Kind = KindServiceDataPush
		m.Service = env.ServiceDataPush
		m.Changes = env.Changes

	default:
		m.Kind = KindGeneric
	}

	return m, nil
}
