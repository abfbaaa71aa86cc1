package vmci

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/lipingxue/docker-volume-vsphere/pkg/config"
	"github.com/lipingxue/docker-volume-vsphere/pkg/errdefs"
	"github.com/lipingxue/docker-volume-vsphere/pkg/log"
	"github.com/lipingxue/docker-volume-vsphere/pkg/metrics"
	"github.com/lipingxue/docker-volume-vsphere/pkg/types"
)

// Message is one inbound request: the raw payload, the opaque caller token
// assigned by the VM monitor, and the reply channel. Reply must be called
// exactly once.
type Message struct {
	Payload []byte
	Token   string
	Reply   func(payload []byte) error
}

// Transport delivers guest requests one at a time. Implementations bound
// the payload size themselves; oversized requests never reach the server.
type Transport interface {
	// Receive blocks for the next request. It returns an error for
	// transient channel failures; the server decides when to give up.
	Receive(ctx context.Context) (*Message, error)

	// Close tears the channel down and unblocks any pending Receive.
	Close() error
}

// IdentityResolver maps a transport token to the calling VM. The token is
// trusted: it comes from the VM monitor, not the guest.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (types.VM, error)
}

// Executor runs one decoded request. Satisfied by dispatch.Dispatcher.
type Executor interface {
	Execute(ctx context.Context, vm types.VM, req types.Request) (interface{}, error)
}

// Server drives the request loop: receive, decode, resolve the caller,
// execute, reply. Every received message gets exactly one reply, including
// the malformed ones.
type Server struct {
	transport  Transport
	resolver   IdentityResolver
	exec       Executor
	maxRetries int
}

// NewServer creates a server over the given transport.
func NewServer(cfg *config.Config, transport Transport, resolver IdentityResolver, exec Executor) *Server {
	return &Server{
		transport:  transport,
		resolver:   resolver,
		exec:       exec,
		maxRetries: cfg.MaxReceiveRetries,
	}
}

// Run serves requests until the context is canceled or the transport fails
// repeatedly. Consecutive receive failures beyond the configured bound are
// treated as a dead channel and end the loop with an error; any successful
// receive resets the count.
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithComponent("vmci")
	retries := 0

	for {
		msg, err := s.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("server stopping")
				return nil
			}
			metrics.ReceiveErrors.Inc()
			retries++
			if retries > s.maxRetries {
				return errdefs.Infrastructure("transport failed %d times in a row, giving up: %v", retries, err)
			}
			logger.Warn().Int("attempt", retries).Err(err).Msg("receive failed, retrying")
			continue
		}
		retries = 0
		s.handle(ctx, msg)
	}
}

func (s *Server) handle(ctx context.Context, msg *Message) {
	var req types.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		metrics.MalformedRequests.Inc()
		s.replyError(msg, errdefs.Protocol("failed to parse request: %v", err))
		return
	}

	vm, err := s.resolver.Resolve(ctx, msg.Token)
	if err != nil {
		s.replyError(msg, err)
		return
	}

	resp, err := s.exec.Execute(ctx, vm, req)
	if err != nil {
		s.replyError(msg, err)
		return
	}
	s.reply(msg, resp)
}

func (s *Server) reply(msg *Message, resp interface{}) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.replyError(msg, errdefs.Protocol("failed to encode response: %v", err))
		return
	}
	if err := msg.Reply(payload); err != nil {
		logger := log.WithComponent("vmci")
		logger.Error().Err(err).Msg("failed to send reply")
	}
}

func (s *Server) replyError(msg *Message, opErr error) {
	logger := log.WithComponent("vmci")
	payload, err := json.Marshal(&types.ErrorResponse{Error: opErr.Error()})
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode error reply")
		return
	}
	if err := msg.Reply(payload); err != nil {
		logger.Error().Err(err).Msg("failed to send error reply")
	}
}

// CanonicalVMUUID normalizes a VM uuid as reported by the monitor (space
// or dash separated hex) to the canonical 8-4-4-4-12 form used as the
// lookup key everywhere else.
func CanonicalVMUUID(raw string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(raw)
	id, err := uuid.Parse(cleaned)
	if err != nil {
		return "", errdefs.Protocol("invalid VM uuid %q: %v", raw, err)
	}
	return id.String(), nil
}
