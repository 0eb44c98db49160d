// ABOUTME: Tests for the in-process Memory mailbox.
// ABOUTME: Mirrors the file slot properties without touching disk.

package mailbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PostAndTake(t *testing.T) {
	m := NewMemory(PolicyReject, 30*time.Second)
	now := time.Now()

	require.NoError(t, m.Post(Command{Action: "getTabs", IssuedAt: Timestamp(now)}))
	require.NotNil(t, m.PendingCommand())

	cmd, err := m.TakeIfFresh(now, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, "getTabs", cmd.Action)
	assert.JSONEq(t, `{}`, string(cmd.Payload))
	assert.Nil(t, m.PendingCommand())
}

func TestMemory_Stale(t *testing.T) {
	m := NewMemory(PolicyOverwrite, 30*time.Second)
	now := time.Now()
	require.NoError(t, m.Post(Command{Action: "getTabs", IssuedAt: Timestamp(now.Add(-45 * time.Second))}))

	cmd, err := m.TakeIfFresh(now, 30*time.Second)
	assert.Nil(t, cmd)
	assert.ErrorIs(t, err, ErrStale)
	assert.Nil(t, m.PendingCommand())
}

func TestMemory_Policies(t *testing.T) {
	now := time.Now()

	t.Run("reject", func(t *testing.T) {
		m := NewMemory(PolicyReject, 30*time.Second)
		require.NoError(t, m.Post(Command{Action: "closeTabs", IssuedAt: Timestamp(now)}))
		assert.ErrorIs(t, m.Post(Command{Action: "getTabs", IssuedAt: Timestamp(now)}), ErrBusy)
		assert.Equal(t, "closeTabs", m.PendingCommand().Action)
	})

	t.Run("reject evicts abandoned", func(t *testing.T) {
		m := NewMemory(PolicyReject, 30*time.Second)
		require.NoError(t, m.Post(Command{Action: "closeTabs", IssuedAt: Timestamp(now.Add(-time.Minute))}))
		require.NoError(t, m.Post(Command{Action: "getTabs", IssuedAt: Timestamp(now)}))
		assert.Equal(t, "getTabs", m.PendingCommand().Action)
	})

	t.Run("overwrite", func(t *testing.T) {
		m := NewMemory(PolicyOverwrite, 30*time.Second)
		require.NoError(t, m.Post(Command{Action: "closeTabs", IssuedAt: Timestamp(now)}))
		require.NoError(t, m.Post(Command{Action: "getTabs", IssuedAt: Timestamp(now)}))
		assert.Equal(t, "getTabs", m.PendingCommand().Action)
	})
}

func TestMemory_ResultWakesWaiter(t *testing.T) {
	m := NewMemory(PolicyReject, 30*time.Second)
	issued := Timestamp(time.Now())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = m.Publish(Result{CompletedAt: issued + 0.05, Data: json.RawMessage(`[1,2]`), RequestID: "r1"})
	}()

	res, err := m.TakeIfNewerThan(context.Background(), Query{
		After:     issued,
		RequestID: "r1",
		Deadline:  time.Now().Add(time.Second),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(res.Data))
}

func TestMemory_OldResultTimesOut(t *testing.T) {
	m := NewMemory(PolicyReject, 30*time.Second)
	require.NoError(t, m.Publish(Result{CompletedAt: 1000.0, Data: json.RawMessage(`"x"`)}))

	start := time.Now()
	res, err := m.TakeIfNewerThan(context.Background(), Query{After: 1000.0, Deadline: start.Add(40 * time.Millisecond)})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// Still there for a query it does answer.
	res, err = m.TakeIfNewerThan(context.Background(), Query{After: 999.0, Deadline: time.Now().Add(time.Second)})
	require.NoError(t, err)
	assert.JSONEq(t, `"x"`, string(res.Data))
}

func TestMemory_PublishNilData(t *testing.T) {
	m := NewMemory(PolicyReject, 30*time.Second)
	require.NoError(t, m.Publish(Result{CompletedAt: 2}))

	res, err := m.TakeIfNewerThan(context.Background(), Query{After: 1, Deadline: time.Now().Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "null", string(res.Data))
}
