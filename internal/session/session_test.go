package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler responds with the request payload after an optional delay
// encoded in the request as {"delay_ms": N}.
func echoHandler(ctx context.Context, request []byte) ([]byte, error) {
	var cmd struct {
		DelayMS int  `json:"delay_ms"`
		Silent  bool `json:"silent"`
	}
	_ = json.Unmarshal(request, &cmd)
	if cmd.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(cmd.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if cmd.Silent {
		return nil, nil
	}
	return request, nil
}

func testConfig() Config {
	return Config{
		KeepAliveInterval: 20 * time.Millisecond,
		MissedPingLimit:   2,
		DrainGrace:        100 * time.Millisecond,
		WorkersPerSession: 4,
		MaxSessions:       4,
		QueueDepth:        16,
		OutboundDepth:     64,
	}
}

// collect drains events until the channel closes or the timeout fires.
func collect(s *Session, timeout time.Duration) []Event {
	var events []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}

func TestSessionFirstEventAnnouncesID(t *testing.T) {
	m := NewManager(echoHandler, testConfig())
	s, err := m.Open()
	require.NoError(t, err)
	defer s.Drain("test done")

	ev := <-s.Events()
	assert.Equal(t, EventSession, ev.Type)

	var announce struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &announce))
	assert.Equal(t, s.ID(), announce.SessionID)
	assert.Equal(t, Open, s.State())
}

func TestSessionEchoRoundTrip(t *testing.T) {
	m := NewManager(echoHandler, testConfig())
	s, err := m.Open()
	require.NoError(t, err)
	defer s.Drain("test done")

	<-s.Events() // session announcement
	require.NoError(t, s.Submit([]byte(`{"n":1}`)))

	for {
		ev := <-s.Events()
		if ev.Type == EventPing {
			s.Ack()
			continue
		}
		assert.Equal(t, EventResponse, ev.Type)
		assert.JSONEq(t, `{"n":1}`, string(ev.Payload))
		return
	}
}

func TestSessionCompletionOrderNotArrivalOrder(t *testing.T) {
	m := NewManager(echoHandler, testConfig())
	s, err := m.Open()
	require.NoError(t, err)
	defer s.Drain("test done")

	<-s.Events()
	// Slow command first, fast command second.
	require.NoError(t, s.Submit([]byte(`{"n":1,"delay_ms":150}`)))
	require.NoError(t, s.Submit([]byte(`{"n":2}`)))

	var responses [][]byte
	deadline := time.After(2 * time.Second)
	for len(responses) < 2 {
		select {
		case ev := <-s.Events():
			if ev.Type == EventPing {
				s.Ack()
				continue
			}
			responses = append(responses, ev.Payload)
		case <-deadline:
			t.Fatal("timed out waiting for responses")
		}
	}

	var first struct{ N int }
	require.NoError(t, json.Unmarshal(responses[0], &first))
	assert.Equal(t, 2, first.N, "the fast later command overtakes the slow earlier one")
}

func TestSessionMissedAcksForceDraining(t *testing.T) {
	m := NewManager(echoHandler, testConfig())
	s, err := m.Open()
	require.NoError(t, err)

	// Never ack. With a 20ms ping interval and a limit of 2 the session
	// must drain and close shortly after.
	events := collect(s, time.Second)

	assert.Equal(t, Closed, s.State())
	pings := 0
	for _, ev := range events {
		if ev.Type == EventPing {
			pings++
		}
	}
	assert.GreaterOrEqual(t, pings, 1)
	assert.Equal(t, 0, m.Count(), "closed sessions are deregistered")
}

func TestSessionAckKeepsSessionOpen(t *testing.T) {
	m := NewManager(echoHandler, testConfig())
	s, err := m.Open()
	require.NoError(t, err)
	defer s.Drain("test done")

	go func() {
		for ev := range s.Events() {
			if ev.Type == EventPing {
				s.Ack()
			}
		}
	}()

	time.Sleep(200 * time.Millisecond) // many ping intervals
	assert.Equal(t, Open, s.State())
}

func TestSessionDrainRejectsNewCommands(t *testing.T) {
	m := NewManager(echoHandler, testConfig())
	s, err := m.Open()
	require.NoError(t, err)

	<-s.Events()
	s.Drain("client disconnect")
	assert.ErrorIs(t, s.Submit([]byte(`{}`)), ErrNotAccepting)
}

func TestSessionDrainLetsInFlightFinish(t *testing.T) {
	m := NewManager(echoHandler, testConfig())
	s, err := m.Open()
	require.NoError(t, err)

	<-s.Events()
	require.NoError(t, s.Submit([]byte(`{"n":9,"delay_ms":30}`)))
	time.Sleep(10 * time.Millisecond) // let a worker pick it up
	s.Drain("client disconnect")

	events := collect(s, time.Second)
	var sawResponse bool
	for _, ev := range events {
		if ev.Type == EventResponse {
			sawResponse = true
		}
	}
	assert.True(t, sawResponse, "in-flight command inside the grace period completes")
	assert.Equal(t, Closed, s.State())
}

func TestSessionDrainGraceCancelsStragglers(t *testing.T) {
	cfg := testConfig()
	cfg.DrainGrace = 30 * time.Millisecond
	m := NewManager(echoHandler, cfg)
	s, err := m.Open()
	require.NoError(t, err)

	<-s.Events()
	require.NoError(t, s.Submit([]byte(`{"n":9,"delay_ms":5000}`)))
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	s.Drain("client disconnect")
	events := collect(s, 2*time.Second)

	assert.Less(t, time.Since(start), time.Second,
		"drain must not wait for the full command duration")
	for _, ev := range events {
		assert.NotEqual(t, EventResponse, ev.Type,
			"cancelled commands produce no response")
	}
	assert.Equal(t, Closed, s.State())
}

func TestManagerSessionCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 2
	m := NewManager(echoHandler, cfg)

	s1, err := m.Open()
	require.NoError(t, err)
	s2, err := m.Open()
	require.NoError(t, err)

	_, err = m.Open()
	assert.ErrorIs(t, err, ErrTooMany)

	s1.Drain("make room")
	s2.Drain("make room")
}

// Teardown must not race the keep-alive goroutine: a ping emitted just as
// the session closes would be a send on a closed events channel and kill the
// process. Churning sessions with a near-zero ping interval makes that window
// hit reliably when it exists.
func TestSessionTeardownDoesNotRaceKeepAlive(t *testing.T) {
	cfg := testConfig()
	cfg.KeepAliveInterval = time.Millisecond
	cfg.MissedPingLimit = 1
	cfg.DrainGrace = time.Millisecond
	cfg.MaxSessions = 10000
	m := NewManager(echoHandler, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		s, err := m.Open()
		require.NoError(t, err)

		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			// Let a few pings land before tearing down, without ever acking.
			time.Sleep(2 * time.Millisecond)
			s.Drain("client churn")
			for range s.Events() {
			}
			assert.Equal(t, Closed, s.State())
		}(s)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return m.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerIDsAreUnique(t *testing.T) {
	m := NewManager(echoHandler, testConfig())
	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Open()
			if err != nil {
				return
			}
			mu.Lock()
			assert.False(t, seen[s.ID()], "session id reuse")
			seen[s.ID()] = true
			mu.Unlock()
			s.Drain("done")
		}()
	}
	wg.Wait()
}
