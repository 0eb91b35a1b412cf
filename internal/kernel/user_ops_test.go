package kernel_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protokernel/internal/kernel"
	"protokernel/internal/user"
)

func TestSwitchUserUpdatesUIDOnSuccess(t *testing.T) {
	users := user.NewTable()
	_, err := users.Load("alice\nswordfish\n")
	require.NoError(t, err)

	k := kernel.New(kernel.DefaultConfig(), users, logr.Discard(), nil)
	child := spawnProbe(t, k)

	code := k.SwitchUser(child, "alice", "swordfish")
	assert.Equal(t, int32(0), code)
	assert.Equal(t, 0, child.UID)
}

func TestSwitchUserLeavesUIDOnFailure(t *testing.T) {
	users := user.NewTable()
	_, err := users.Load("alice\nswordfish\n")
	require.NoError(t, err)

	k := kernel.New(kernel.DefaultConfig(), users, logr.Discard(), nil)
	child := spawnProbe(t, k)
	child.UID = 9

	code := k.SwitchUser(child, "alice", "wrong")
	assert.Equal(t, int32(user.ErrPasswordMismatch), code)
	assert.Equal(t, 9, child.UID)
}

func TestGetUserReturnsNameAndUID(t *testing.T) {
	users := user.NewTable()
	_, err := users.Load("alice\nswordfish\n")
	require.NoError(t, err)

	k := kernel.New(kernel.DefaultConfig(), users, logr.Discard(), nil)
	child := spawnProbe(t, k)
	child.UID = 0

	name, uid := k.GetUser(child)
	assert.Equal(t, "alice", name)
	assert.Equal(t, 0, uid)
}

func TestRemoteSwitchUserRequiresLowerPrivilegeTarget(t *testing.T) {
	k := newTestKernel()
	caller := spawnProbe(t, k)
	caller.UID = 1
	target := spawnProbe(t, k)
	target.UID = 5

	code := k.RemoteSwitchUser(caller, target.ID)
	assert.Equal(t, int32(0), code)
	assert.Equal(t, 1, target.UID)
}

func TestRemoteSwitchUserDeniedForEqualOrHigherPrivilegeTarget(t *testing.T) {
	k := newTestKernel()
	caller := spawnProbe(t, k)
	caller.UID = 5
	target := spawnProbe(t, k)
	target.UID = 1

	code := k.RemoteSwitchUser(caller, target.ID)
	assert.Equal(t, kernel.ErrPermissionDenied, code)
	assert.Equal(t, 1, target.UID)
}

func TestRemoteSwitchUserUnknownTarget(t *testing.T) {
	k := newTestKernel()
	caller := spawnProbe(t, k)
	code := k.RemoteSwitchUser(caller, kernel.PcbId(31))
	assert.Equal(t, kernel.ErrNotFound, code)
}

func TestLoginAndLoadUsers(t *testing.T) {
	k := newTestKernel()
	n, err := k.LoadUsers("alice\nswordfish\n")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, k.Login("alice", "swordfish"))
}
