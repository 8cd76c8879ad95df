package main

import (
	"testing"

	"salesync/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOrderMessage(t *testing.T) {
	msg, err := buildOrderMessage([]byte(`[{"line_id":"L1","order_id":"O1","variant_id":3,"channel":"plain","quantity":2}]`), false)
	require.NoError(t, err)
	assert.Equal(t, queue.OrderCommitted, msg.Type)
	assert.NotEmpty(t, msg.EventID)
	require.Len(t, msg.Committed, 1)
	assert.Equal(t, int64(2), msg.Committed[0].Quantity)

	msg, err = buildOrderMessage([]byte(`[{"line_id":"L1"}]`), true)
	require.NoError(t, err)
	assert.Equal(t, queue.OrderRefunded, msg.Type)
	require.Len(t, msg.Refunded, 1)

	_, err = buildOrderMessage([]byte(`[]`), false)
	assert.Error(t, err)

	_, err = buildOrderMessage([]byte(`{`), false)
	assert.Error(t, err)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"populate", "sweep", "recompute", "relay", "emit-order"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRecompute_RequiresExactlyOneTarget(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"recompute"})
	assert.ErrorContains(t, root.Execute(), "exactly one")

	root = newRootCommand()
	root.SetArgs([]string{"recompute", "--product", "1", "--merchant", "2"})
	assert.ErrorContains(t, root.Execute(), "exactly one")
}
