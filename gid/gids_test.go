package gid

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFlowIDRoundTrip(t *testing.T) {
	id := GenerateFlowID()
	parsed, err := ParseID(id.String())
	assert.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestSourceIDRoundTrip(t *testing.T) {
	id := GenerateSourceID()

	var dst SourceID
	assert.NoError(t, ParseIDAs(id.String(), &dst))
	assert.Equal(t, id, dst)
}

func TestConnectionIDTag(t *testing.T) {
	id := NewConnectionID(uuid.Nil)
	assert.Equal(t, "cxn_0000000000000000000000", id.String())
}

func TestParseIDUnknownTag(t *testing.T) {
	_, err := ParseID("bogus_0000000000000000000000")
	assert.Error(t, err)
}

func TestParseIDMalformed(t *testing.T) {
	_, err := ParseID("no-underscore-here")
	assert.Error(t, err)
}
