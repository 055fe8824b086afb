package testfixtures

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewIDGenerator("chk")
	next := gen.NextFunc()

	assert.Equal(t, "chk-1", next())
	assert.Equal(t, "chk-2", gen.Next())
	assert.Equal(t, 2, gen.Issued())

	assert.Equal(t, "id-1", NewIDGenerator("").Next())

	var nilGen *IDGenerator
	assert.Equal(t, "", nilGen.NextFunc()())
}
