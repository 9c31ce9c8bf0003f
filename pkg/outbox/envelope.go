package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

// EnvelopeVersion is bumped whenever the envelope shape changes incompatibly.
const EnvelopeVersion = 1

// ErrEmptyEventData is returned when an envelope carries no payload.
var ErrEmptyEventData = errors.New("envelope data is empty")

// ActorRef identifies the operator behind a ledger event.
type ActorRef struct {
	OperatorID uuid.UUID `json:"operatorId"`
	Role       string    `json:"role,omitempty"`
}

// PayloadEnvelope wraps every outbox payload so subscribers can dedupe on
// EventID before looking at Data.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(data any, occurredAt time.Time, operator *types.Operator) (PayloadEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode event data: %w", err)
	}
	env := PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Data:       raw,
	}
	if operator != nil {
		env.Actor = &ActorRef{OperatorID: operator.ID, Role: operator.Role}
	}
	return env, nil
}

// DecodeEnvelope parses a stored payload and rejects envelopes whose data is
// missing or JSON null.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, ErrEmptyEventData
	}
	return env, nil
}

// DecodeData unmarshals the envelope body into dst.
func (e PayloadEnvelope) DecodeData(dst any) error {
	return json.Unmarshal(e.Data, dst)
}
