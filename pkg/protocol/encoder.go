package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// EnvelopeSeparator separates the outbound message number from the JSON body.
const EnvelopeSeparator = '#'

// Envelope frames an outbound JSON body with its message number:
//
//	<number>#<body>
//
// The number space is owned by the Window and is monotonic for the window's
// whole life, so a client can always detect a gap or a stale replay.
func Envelope(number uint64, body []byte) []byte {
	out := make([]byte, 0, len(body)+21)
	out = strconv.AppendUint(out, number, 10)
	out = append(out, EnvelopeSeparator)
	out = append(out, body...)
	return out
}

// clientCall is the frame shape for a server-issued call to the browser.
type clientCall struct {
	Call   clientCallBody `json:"call"`
	SMsgID uint64         `json:"smsgid"`
}

type clientCallBody struct {
	Name string `json:"name"`
	Args []any  `json:"args,omitempty"`
}

// EncodeClientCall builds the body of a server-issued call request. The
// message id is always included so the client can correlate its response;
// for fire-and-forget calls the server simply never waits for it.
func EncodeClientCall(smsgid uint64, name string, args []any) ([]byte, error) {
	body, err := json.Marshal(clientCall{
		Call:   clientCallBody{Name: name, Args: args},
		SMsgID: smsgid,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode client call %q: %w", name, err)
	}
	return body, nil
}

// callReturn is the frame shape for answering a client service call that
// carried a cmsgid.
type callReturn struct {
	CMsgID uint64 `json:"cmsgid"`
	Ret    any    `json:"ret"`
	Err    string `json:"err,omitempty"`
}

// EncodeCallReturn builds the response body for a client service call. The
// ret key is always present, even for a nil result, so the client can
// distinguish "returned nothing" from a malformed reply. A non-nil callErr
// sets the error marker instead of a usable return value.
func EncodeCallReturn(cmsgid uint64, ret any, callErr error) ([]byte, error) {
	cr := callReturn{CMsgID: cmsgid, Ret: ret}
	if callErr != nil {
		cr.Ret = nil
		cr.Err = callErr.Error()
	}
	body, err := json.Marshal(cr)
	if err != nil {
		// The handler produced an unserializable value; surface that to the
		// client as an error return rather than dropping the correlation id.
		body, err = json.Marshal(callReturn{CMsgID: cmsgid, Err: fmt.Sprintf("unserializable return value: %v", err)})
		if err != nil {
			return nil, fmt.Errorf("protocol: encode call return %d: %w", cmsgid, err)
		}
	}
	return body, nil
}

// dataPush is the frame shape for a server-initiated async property push.
type dataPush struct {
	ServiceDataPush string         `json:"servicedatapush"`
	Changes         map[string]any `json:"changes"`
}

// EncodeServiceDataPush builds the body of an async data push to the named
// client-side service.
func EncodeServiceDataPush(service string, changes map[string]any) ([]byte, error) {
	body, err := json.Marshal(dataPush{ServiceDataPush: service, Changes: changes})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode data push for %q: %w", service, err)
	}
	return body, nil
}

// containerChanges is the frame shape for pending form/container changes.
// The per-container payload is opaque to this layer.
type containerChanges struct {
	Forms map[string]json.RawMessage `json:"forms"`
}

// EncodeContainerChanges builds the body carrying the pending changes of one
// or more containers.
func EncodeContainerChanges(forms map[string]json.RawMessage) ([]byte, error) {
	body, err := json.Marshal(containerChanges{Forms: forms})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode container changes: %w", err)
	}
	return body, nil
}
