package vmci

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lipingxue/docker-volume-vsphere/pkg/config"
	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

// fakeTransport feeds the server a scripted sequence of messages and
// errors, then blocks until the context is canceled.
type fakeTransport struct {
	sequence []interface{} // *Message or error
	replies  [][]byte
}

func (f *fakeTransport) Receive(ctx context.Context) (*Message, error) {
	if len(f.sequence) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := f.sequence[0]
	f.sequence = f.sequence[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*Message), nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) message(payload string) *Message {
	return &Message{
		Payload: []byte(payload),
		Token:   "42",
		Reply: func(p []byte) error {
			f.replies = append(f.replies, p)
			return nil
		},
	}
}

type fakeResolver struct {
	err error
}

func (r *fakeResolver) Resolve(_ context.Context, token string) (types.VM, error) {
	if r.err != nil {
		return types.VM{}, r.err
	}
	return types.VM{UUID: "vm-uuid", Name: "vm-" + token}, nil
}

type fakeExecutor struct {
	resp interface{}
	err  error
	reqs []types.Request
	vms  []types.VM
}

func (e *fakeExecutor) Execute(_ context.Context, vm types.VM, req types.Request) (interface{}, error) {
	e.reqs = append(e.reqs, req)
	e.vms = append(e.vms, vm)
	return e.resp, e.err
}

func runServer(t *testing.T, transport *fakeTransport, exec *fakeExecutor, resolver *fakeResolver) error {
	t.Helper()
	cfg := config.Default()
	srv := NewServer(cfg, transport, resolver, exec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	// let the scripted sequence drain, then stop the loop
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

func TestServer_ExecutesRequest(t *testing.T) {
	transport := &fakeTransport{}
	transport.sequence = []interface{}{
		transport.message(`{"cmd":"attach","details":{"Name":"vol1"}}`),
	}
	exec := &fakeExecutor{resp: &types.AttachResponse{Unit: "2", Bus: "0"}}

	err := runServer(t, transport, exec, &fakeResolver{})
	require.NoError(t, err)

	require.Len(t, exec.reqs, 1)
	assert.Equal(t, types.CmdAttach, exec.reqs[0].Cmd)
	assert.Equal(t, "vol1", exec.reqs[0].Details.Name)
	assert.Equal(t, "vm-42", exec.vms[0].Name)

	require.Len(t, transport.replies, 1)
	var resp types.AttachResponse
	require.NoError(t, json.Unmarshal(transport.replies[0], &resp))
	assert.Equal(t, "2", resp.Unit)
	assert.Equal(t, "0", resp.Bus)
}

func TestServer_MalformedRequest(t *testing.T) {
	transport := &fakeTransport{}
	transport.sequence = []interface{}{
		transport.message(`{not json`),
		transport.message(`{"cmd":"list","details":{}}`),
	}
	exec := &fakeExecutor{resp: []types.VolumeInfo{}}

	err := runServer(t, transport, exec, &fakeResolver{})
	require.NoError(t, err)

	// the bad request got an error reply, the loop kept serving
	require.Len(t, transport.replies, 2)
	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(transport.replies[0], &errResp))
	assert.Contains(t, errResp.Error, "failed to parse request")

	require.Len(t, exec.reqs, 1, "malformed request must not reach the executor")
}

func TestServer_ExecutorErrorBecomesReply(t *testing.T) {
	transport := &fakeTransport{}
	transport.sequence = []interface{}{
		transport.message(`{"cmd":"remove","details":{"Name":"vol1"}}`),
	}
	exec := &fakeExecutor{err: errdefs.Conflict("volume vol1 is in use by VM vm2, detach it first")}

	err := runServer(t, transport, exec, &fakeResolver{})
	require.NoError(t, err)

	require.Len(t, transport.replies, 1)
	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(transport.replies[0], &errResp))
	assert.Contains(t, errResp.Error, "vm2")
}

func TestServer_ResolverErrorBecomesReply(t *testing.T) {
	transport := &fakeTransport{}
	transport.sequence = []interface{}{
		transport.message(`{"cmd":"list","details":{}}`),
	}
	exec := &fakeExecutor{}

	err := runServer(t, transport, exec, &fakeResolver{err: errdefs.Protocol("unknown caller")})
	require.NoError(t, err)

	require.Len(t, transport.replies, 1)
	assert.Empty(t, exec.reqs)
}

func TestServer_TransientReceiveErrorsRetried(t *testing.T) {
	transport := &fakeTransport{}
	transport.sequence = []interface{}{
		errors.New("ECONNRESET"),
		errors.New("ECONNRESET"),
		transport.message(`{"cmd":"list","details":{}}`),
	}
	exec := &fakeExecutor{resp: []types.VolumeInfo{}}

	err := runServer(t, transport, exec, &fakeResolver{})
	require.NoError(t, err)
	assert.Len(t, exec.reqs, 1)
}

func TestServer_GivesUpAfterRetryBound(t *testing.T) {
	transport := &fakeTransport{}
	for i := 0; i < 20; i++ {
		transport.sequence = append(transport.sequence, errors.New("channel is gone"))
	}
	exec := &fakeExecutor{}

	cfg := config.Default()
	require.LessOrEqual(t, cfg.MaxReceiveRetries, 19)
	srv := NewServer(cfg, transport, &fakeResolver{}, exec)

	err := srv.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsInfrastructure(err))
}

func TestCanonicalVMUUID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "monitor spaced form",
			raw:  "56 4d 30 31 32 33 34 35 36 37 38 39 61 62 63 64",
			want: "564d3031-3233-3435-3637-383961626364",
		},
		{
			name: "already canonical",
			raw:  "564d3031-3233-3435-3637-383961626364",
			want: "564d3031-3233-3435-3637-383961626364",
		},
		{
			name:    "garbage",
			raw:     "not-a-uuid",
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalVMUUID(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
