package txn

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHook struct {
	mu    sync.Mutex
	calls []struct {
		tid TID
		cid CID
	}
	fail bool
}

func (f *fakeHook) CommitPositions(tid TID, cid CID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.calls = append(f.calls, struct {
		tid TID
		cid CID
	}{tid, cid})
	return nil
}

func TestBegin_IssuesIncreasingTIDs(t *testing.T) {
	m := NewTransactionManager(nil)
	tid1, _ := m.Begin()
	tid2, _ := m.Begin()
	assert.Less(t, tid1, tid2)
	assert.True(t, m.IsRunning(tid1))
	assert.True(t, m.IsRunning(tid2))
}

func TestCommit_NotifiesHooksAndClearsRunning(t *testing.T) {
	m := NewTransactionManager(nil)
	hook := &fakeHook{}
	m.RegisterHook(hook)

	tid, _ := m.Begin()
	cid, err := m.Commit(context.Background(), tid)
	require.NoError(t, err)
	assert.False(t, m.IsRunning(tid))

	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.Len(t, hook.calls, 1)
	assert.Equal(t, tid, hook.calls[0].tid)
	assert.Equal(t, cid, hook.calls[0].cid)
}

func TestCommit_UnknownTIDIsAborted(t *testing.T) {
	m := NewTransactionManager(nil)
	_, err := m.Commit(context.Background(), TID(999))
	assert.ErrorIs(t, err, ErrTransactionAborted)
}

func TestCommit_HookFailureStillReportsError(t *testing.T) {
	m := NewTransactionManager(nil)
	hook := &fakeHook{fail: true}
	m.RegisterHook(hook)

	tid, _ := m.Begin()
	_, err := m.Commit(context.Background(), tid)
	assert.Error(t, err)
	assert.False(t, m.IsRunning(tid), "tid is removed from running even when a hook fails")
}

func TestLastCommittedCID_AdvancesOnCommit(t *testing.T) {
	m := NewTransactionManager(nil)
	before := m.LastCommittedCID()

	tid, _ := m.Begin()
	cid, err := m.Commit(context.Background(), tid)
	require.NoError(t, err)
	assert.Greater(t, cid, before)
	assert.Equal(t, cid, m.LastCommittedCID())
}

func TestGetGlobalManager_Singleton(t *testing.T) {
	m1 := GetGlobalManager()
	m2 := GetGlobalManager()
	assert.Same(t, m1, m2)
}
