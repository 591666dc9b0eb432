package cogserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/opentalon/geminicog/internal/audit"
	"github.com/opentalon/geminicog/internal/client"
	"github.com/opentalon/geminicog/internal/logging"
	"github.com/opentalon/geminicog/pkg/cog"
)

// StepStream is the duplex transport a session drives. cog.RunStepsServer
// satisfies it.
type StepStream interface {
	Context() context.Context
	Send(*cog.RunStepResponse) error
	Recv() (*cog.RunStepRequest, error)
}

type sessionState int

const (
	stateOpen sessionState = iota
	stateDraining
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateDraining:
		return "draining"
	default:
		return "closed"
	}
}

type dispatchFunc func(ctx context.Context, req *cog.RunStepRequest, c client.Completer) *cog.RunStepResponse

// session runs every request received on one stream concurrently and ends
// the stream once input has ended and nothing is in flight.
type session struct {
	stream   StepStream
	client   client.Completer
	dispatch dispatchFunc
	auditor  audit.Auditor
	log      *slog.Logger

	mu       sync.Mutex
	state    sessionState
	inFlight int
	closed   chan struct{}

	sendMu sync.Mutex
}

func newSession(stream StepStream, c client.Completer, dispatch dispatchFunc, auditor audit.Auditor, logger *slog.Logger) *session {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &session{
		stream:   stream,
		client:   c,
		dispatch: dispatch,
		auditor:  auditor,
		log:      logging.OrDiscard(logger),
		closed:   make(chan struct{}),
	}
}

// run receives until end of input, then blocks until every dispatched
// request has been answered. A receive error other than io.EOF also ends
// input and is returned once the session has drained.
func (s *session) run() error {
	// Dispatches run to completion even if the host goes away.
	ctx := context.WithoutCancel(s.stream.Context())

	var recvErr error
	for {
		req, err := s.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				recvErr = err
			}
			break
		}
		s.begin()
		go s.handle(ctx, req)
	}

	s.endInput()
	<-s.closed
	return recvErr
}

func (s *session) begin() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
}

func (s *session) handle(ctx context.Context, req *cog.RunStepRequest) {
	defer s.finish()

	resp := s.dispatch(ctx, req, s.client)

	s.sendMu.Lock()
	err := s.stream.Send(resp)
	s.sendMu.Unlock()
	if err != nil {
		s.log.Warn("send response", "step", req.StepID(), "error", err)
	}

	s.auditor.Export(req.StepID(), resp)
}

func (s *session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.inFlight == 0 && s.state == stateDraining {
		s.closeLocked()
	}
}

func (s *session) endInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateOpen {
		return
	}
	if s.inFlight == 0 {
		s.closeLocked()
		return
	}
	s.state = stateDraining
	s.log.Debug("input ended, draining", "in_flight", s.inFlight)
}

func (s *session) closeLocked() {
	s.state = stateClosed
	close(s.closed)
}

func (s *session) snapshot() (sessionState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.inFlight
}
