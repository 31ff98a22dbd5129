package gid

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	FlowTag       = "flw"
	SourceTag     = "src"
	ConnectionTag = "cxn"
	InvalidTag    = "xxx"
)

type tagToIDConstructor func(uuid.UUID) ID

var idConstructorMap = map[string]tagToIDConstructor{
	FlowTag:       func(ID uuid.UUID) ID { return NewFlowID(ID) },
	SourceTag:     func(ID uuid.UUID) ID { return NewSourceID(ID) },
	ConnectionTag: func(ID uuid.UUID) ID { return NewConnectionID(ID) },
}

func parseIDParts(str string) (string, uuid.UUID, error) {
	parts := strings.Split(str, "_")
	if len(parts) != 2 {
		return "", uuid.Nil, errors.New("invalid GID structure")
	}
	idPart, err := decodeUUID(parts[1])
	if err != nil {
		return "", uuid.Nil, errors.Wrap(err, "invalid unique id part of GID")
	}
	return parts[0], idPart, nil
}

func ParseID(str string) (ID, error) {
	tagName, uniquePart, err := parseIDParts(str)
	if err != nil {
		return nil, err
	}

	constructor := idConstructorMap[tagName]
	if constructor == nil {
		return nil, errors.Errorf("no known gid for tag %s", tagName)
	}

	return constructor(uniquePart), nil
}

func ParseIDAs(str string, destID interface{}) error {
	id, err := ParseID(str)
	if err != nil {
		return errors.Wrapf(err, "parse ID failed: %s", str)
	}
	return assignTo(id, destID)
}

// FlowID identifies a flow-table record (flowtable.Flow.ID), one per
// canonicalised 5-tuple.
type FlowID struct {
	baseID
}

func (FlowID) GetType() string {
	return FlowTag
}

func (id FlowID) String() string {
	return String(id)
}

func NewFlowID(ID uuid.UUID) FlowID {
	return FlowID{baseID(ID)}
}

func GenerateFlowID() FlowID {
	return NewFlowID(uuid.New())
}

func (id FlowID) MarshalText() ([]byte, error) {
	return toText(id)
}

func (id *FlowID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// SourceID identifies a fragmentation source, the bucket a flow table hashes
// into before flows are chained off it.
type SourceID struct {
	baseID
}

func (SourceID) GetType() string {
	return SourceTag
}

func (id SourceID) String() string {
	return String(id)
}

func NewSourceID(ID uuid.UUID) SourceID {
	return SourceID{baseID(ID)}
}

func GenerateSourceID() SourceID {
	return NewSourceID(uuid.New())
}

func (id SourceID) MarshalText() ([]byte, error) {
	return toText(id)
}

func (id *SourceID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}

// ConnectionID identifies a canonicalised 5-tuple flow-table record.
type ConnectionID struct {
	baseID
}

func (ConnectionID) GetType() string {
	return ConnectionTag
}

func (id ConnectionID) String() string {
	return String(id)
}

func NewConnectionID(ID uuid.UUID) ConnectionID {
	return ConnectionID{baseID(ID)}
}

func GenerateConnectionID() ConnectionID {
	return NewConnectionID(uuid.New())
}

func (id ConnectionID) MarshalText() ([]byte, error) {
	return toText(id)
}

func (id *ConnectionID) UnmarshalText(data []byte) error {
	return fromText(id, data)
}
