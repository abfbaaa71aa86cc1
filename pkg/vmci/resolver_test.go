package vmci

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	outputs map[string]string
	err     error
	calls   []string
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := name
	for _, a := range args {
		call += " " + a
	}
	r.calls = append(r.calls, call)
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.outputs[args[len(args)-1]]), nil
}

func TestVSIResolver_Resolve(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{
		"/userworld/cartel/12345/vmmLeader": "67890\n",
		"/vm/67890/vmmGroupInfo": `vmm group info {
   displayName:ubuntu-docker
   cfgPath:/vmfs/volumes/datastore1/ubuntu/ubuntu.vmx
   uuid:56 4d ac 12 b1 a0 f7 35 0d f3 bc eb 00 b3 03 40
}
`,
	}}

	vm, err := NewVSIResolver(runner).Resolve(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, "564dac12-b1a0-f735-0df3-bceb00b30340", vm.UUID)
	assert.Equal(t, "ubuntu-docker", vm.Name)
	assert.Equal(t, "/vmfs/volumes/datastore1/ubuntu/ubuntu.vmx", vm.ConfigPath)
	assert.Len(t, runner.calls, 2)
}

func TestVSIResolver_RunnerFailure(t *testing.T) {
	runner := &scriptedRunner{err: errors.New("vsish not found")}

	_, err := NewVSIResolver(runner).Resolve(context.Background(), "12345")
	assert.Error(t, err)
}

func TestVSIResolver_MissingUUID(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{
		"/userworld/cartel/12345/vmmLeader": "67890",
		"/vm/67890/vmmGroupInfo":            "vmm group info {\n   displayName:vm1\n}",
	}}

	_, err := NewVSIResolver(runner).Resolve(context.Background(), "12345")
	assert.Error(t, err)
}
