package proto

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformed is matched by every DecodeError.
var ErrMalformed = errors.New("malformed envelope")

// DecodeError describes why a frame could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrMalformed) match any decode failure.
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformed
}

func decodeError(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// Core Deterministic Encoding: same envelope, same bytes.
var encMode cbor.EncMode

// Duplicate map keys are rejected; trailing bytes are rejected by Unmarshal.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("proto: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("proto: CBOR decoder initialization failed: " + err.Error())
	}
}

type wireEnvelope struct {
	Sender       EntityRef       `cbor:"1,keyasint"`
	Intermediary *EntityRef      `cbor:"2,keyasint,omitempty"`
	Receiver     EntityRef       `cbor:"3,keyasint"`
	Kind         CommandKind     `cbor:"4,keyasint"`
	Body         cbor.RawMessage `cbor:"5,keyasint"`
}

// Encode serializes an envelope into a binary frame.
func Encode(env Envelope) ([]byte, error) {
	if env.Command == nil {
		return nil, errors.New("encode envelope: nil command")
	}
	if err := validateRefs(env.Sender, env.Intermediary, env.Receiver); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	body, err := encMode.Marshal(env.Command)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", env.Command.Kind(), err)
	}

	data, err := encMode.Marshal(wireEnvelope{
		Sender:       env.Sender,
		Intermediary: env.Intermediary,
		Receiver:     env.Receiver,
		Kind:         env.Command.Kind(),
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a binary frame. It checks structure only; it never looks at
// what a payload means.
func Decode(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, decodeError("empty frame", nil)
	}

	var wire wireEnvelope
	if err := decMode.Unmarshal(data, &wire); err != nil {
		return Envelope{}, decodeError("envelope", err)
	}
	if err := validateRefs(wire.Sender, wire.Intermediary, wire.Receiver); err != nil {
		return Envelope{}, decodeError("address", err)
	}
	if len(wire.Body) == 0 {
		return Envelope{}, decodeError(fmt.Sprintf("%s without body", wire.Kind), nil)
	}

	cmd, err := decodeCommand(wire.Kind, wire.Body)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Sender:       wire.Sender,
		Intermediary: wire.Intermediary,
		Receiver:     wire.Receiver,
		Command:      cmd,
	}, nil
}

func decodeCommand(kind CommandKind, body []byte) (Command, error) {
	switch kind {
	case CommandHello:
		return decodeAs[Hello](kind, body)
	case CommandClientInfo:
		return decodeAs[ClientInfo](kind, body)
	case CommandBroadcastRequest:
		return decodeAs[BroadcastRequest](kind, body)
	case CommandOnlineClients:
		return decodeAs[OnlineClients](kind, body)
	case CommandOffer:
		return decodeAs[Offer](kind, body)
	case CommandAnswer:
		return decodeAs[Answer](kind, body)
	case CommandCandidate:
		return decodeAs[Candidate](kind, body)
	case CommandCallStarted:
		return decodeAs[CallStarted](kind, body)
	case CommandCallEnded:
		return decodeAs[CallEnded](kind, body)
	case CommandReadyForPartner:
		return decodeAs[ReadyForPartner](kind, body)
	case CommandClosed:
		return decodeAs[Closed](kind, body)
	case CommandClosedAck:
		return decodeAs[ClosedAck](kind, body)
	case CommandPing:
		return decodeAs[Ping](kind, body)
	case CommandPong:
		return decodeAs[Pong](kind, body)
	case CommandError:
		return decodeAs[Error](kind, body)
	default:
		return nil, decodeError(fmt.Sprintf("unknown command kind %d", uint8(kind)), nil)
	}
}

func decodeAs[T Command](kind CommandKind, body []byte) (Command, error) {
	var cmd T
	if err := decMode.Unmarshal(body, &cmd); err != nil {
		return nil, decodeError(kind.String()+" body", err)
	}
	return cmd, nil
}

func validateRefs(sender EntityRef, via *EntityRef, receiver EntityRef) error {
	if err := sender.validate(); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if via != nil {
		if err := via.validate(); err != nil {
			return fmt.Errorf("intermediary: %w", err)
		}
	}
	if err := receiver.validate(); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	return nil
}
