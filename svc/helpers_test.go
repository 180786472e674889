package svc

import (
	"sync"
	"testing"

	"svccontainer/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitForTest()
	m.Run()
}

// fakeService is a Service used throughout the package's tests: it
// counts Start/Stop calls, provides a value for every name its
// controller declares (the one set via withProvide, or else the name's
// own string), and can be told to fail or block until released,
// mirroring the teacher's testService/mockService fakes
// (internal/services/registry_test.go, internal/orchestrator/retry_test.go).
type fakeService struct {
	mu sync.Mutex

	provide  map[string]interface{}
	startErr error

	async      bool
	startGate  chan struct{}
	asyncStart *StartContext

	starts int
	stops  int
}

func newFakeService() *fakeService {
	return &fakeService{provide: make(map[string]interface{})}
}

func (s *fakeService) withProvide(name Name, value interface{}) *fakeService {
	s.provide[name.String()] = value
	return s
}

func (s *fakeService) withStartErr(err error) *fakeService {
	s.startErr = err
	return s
}

func (s *fakeService) Start(ctx *StartContext) error {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()

	for nameStr, v := range s.provide {
		if err := ctx.Provide(ParseName(nameStr), v); err != nil {
			return err
		}
	}
	for _, n := range ctx.c.Provides() {
		if _, ok := s.provide[n.String()]; !ok {
			if err := ctx.Provide(n, n.String()); err != nil {
				return err
			}
		}
	}

	if s.async {
		ctx.Asynchronous()
		s.mu.Lock()
		s.asyncStart = ctx
		gate := s.startGate
		s.mu.Unlock()
		if gate != nil {
			go func() {
				<-gate
				ctx.Complete()
			}()
		}
		return nil
	}

	return s.startErr
}

func (s *fakeService) Stop(ctx *StopContext) error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	return nil
}

func (s *fakeService) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *fakeService) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// recordingListener collects every event delivered to it, in order.
type recordingListener struct {
	mu     sync.Mutex
	events []EventKind
}

func (l *recordingListener) Notify(kind EventKind, c *Controller) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, kind)
}

func (l *recordingListener) snapshot() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]EventKind(nil), l.events...)
}
