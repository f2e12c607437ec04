// Package protocol encodes trading operations into gateway envelopes and
// decodes gateway responses into typed records.
package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/cntrade/errs"
)

// Version is the only envelope version the gateway speaks.
const Version = "1"

// Delimiter terminates every frame on the wire.
var Delimiter = []byte("\r\n")

// Params holds request parameters. Every value travels as a string.
type Params map[string]string

// Request is an outbound envelope.
type Request struct {
	Protocol string `json:"Protocol"`
	Version  string `json:"Version"`
	ReqParam Params `json:"ReqParam"`
}

// Tag returns the integer protocol tag.
func (r Request) Tag() int {
	tag, _ := strconv.Atoi(r.Protocol)
	return tag
}

// Frame serialises the request and appends the line delimiter.
func (r Request) Frame() ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol %s: %w", r.Protocol, err)
	}
	return append(body, Delimiter...), nil
}

func newRequest(protocol int, params Params) Request {
	return Request{
		Protocol: strconv.Itoa(protocol),
		Version:  Version,
		ReqParam: params,
	}
}

// Value is a payload scalar the gateway may send as a JSON string, number or boolean.
type Value string

// UnmarshalJSON accepts strings, numbers, booleans and null.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	case '{', '[':
		return fmt.Errorf("expected scalar, got %s", string(data[:1]))
	default:
		*v = Value(data)
		return nil
	}
}

// String returns the trimmed textual value.
func (v Value) String() string { return strings.TrimSpace(string(v)) }

// Response is an inbound envelope. RetData is left raw for per-operation decoding.
type Response struct {
	Protocol Value           `json:"Protocol"`
	Version  Value           `json:"Version"`
	ErrCode  Value           `json:"ErrCode"`
	ErrDesc  Value           `json:"ErrDesc"`
	RetData  json.RawMessage `json:"RetData"`
}

// Tag returns the integer protocol tag, or zero when absent or invalid.
func (r Response) Tag() int {
	tag, _ := strconv.Atoi(r.Protocol.String())
	return tag
}

// PeekProtocol extracts the protocol tag of a frame without validating the rest.
func PeekProtocol(frame []byte) (int, error) {
	var head struct {
		Protocol Value `json:"Protocol"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return 0, err
	}
	tag, err := strconv.Atoi(head.Protocol.String())
	if err != nil {
		return 0, fmt.Errorf("invalid protocol tag %q", head.Protocol)
	}
	return tag, nil
}

// DecodeEnvelope parses a response frame and short-circuits on gateway errors.
// Parse failures are malformed-response errors; a non-zero ErrCode is a gateway
// error carrying ErrDesc verbatim.
func DecodeEnvelope(protocol int, frame []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(frame), &resp); err != nil {
		return Response{}, errs.New(protocol, errs.CodeMalformed,
			errs.WithMessage("response is not a valid envelope"),
			errs.WithCause(err))
	}
	code := resp.ErrCode.String()
	if code != "" && code != "0" {
		if n, err := strconv.ParseFloat(code, 64); err != nil || n != 0 {
			return Response{}, errs.New(protocol, errs.CodeGateway,
				errs.WithRawCode(code),
				errs.WithRawMessage(string(resp.ErrDesc)),
				errs.WithMessage("gateway rejected request"))
		}
	}
	return resp, nil
}

// payload is RetData split into its top level keys.
type payload struct {
	raw    []byte
	fields map[string]json.RawMessage
}

func decodePayload(protocol int, frame []byte) (payload, error) {
	resp, err := DecodeEnvelope(protocol, frame)
	if err != nil {
		return payload{}, err
	}
	data := payload{fields: map[string]json.RawMessage{}}
	raw := bytes.TrimSpace(resp.RetData)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data.fields); err != nil {
		return payload{}, errs.New(protocol, errs.CodeMalformed,
			errs.WithMessage("RetData is not an object"),
			errs.WithCause(err))
	}
	data.raw = raw
	return data, nil
}

func (p payload) require(protocol int, keys ...string) error {
	for _, key := range keys {
		if _, ok := p.fields[key]; !ok {
			return errs.New(protocol, errs.CodeMalformed,
				errs.WithMessage("cannot find "+key+" in response"),
				errs.WithField("key", key))
		}
	}
	return nil
}

func (p payload) value(protocol int, key string) (Value, error) {
	raw, ok := p.fields[key]
	if !ok {
		return "", nil
	}
	var v Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", errs.New(protocol, errs.CodeMalformed,
			errs.WithMessage("field "+key+" is not a scalar"),
			errs.WithCause(err))
	}
	return v, nil
}

// array decodes the array under key into out; null or empty arrays leave out untouched.
func (p payload) array(protocol int, key string, out any) error {
	raw := bytes.TrimSpace(p.fields[key])
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.New(protocol, errs.CodeMalformed,
			errs.WithMessage("field "+key+" has an unexpected shape"),
			errs.WithCause(err))
	}
	return nil
}

// object decodes the whole payload into out.
func (p payload) object(protocol int, out any) error {
	if len(p.raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(p.raw, out); err != nil {
		return errs.New(protocol, errs.CodeMalformed,
			errs.WithMessage("payload has an unexpected shape"),
			errs.WithCause(err))
	}
	return nil
}
