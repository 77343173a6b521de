package ami_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"telecom-dialer/internal/ami"
	"telecom-dialer/internal/ami/amitest"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func connect(t *testing.T, srv *amitest.Server) *ami.Session {
	t.Helper()
	s := ami.NewSession(ami.Config{Addr: srv.Addr(), Username: "dialer", Secret: "s3cret", ConnectTimeout: time.Second}, nil)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Connect(context.Background()))
	return s
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := amitest.NewServer(t, "dialer", "s3cret")
	s := connect(t, srv)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Connect(context.Background()))
		}()
	}
	wg.Wait()

	require.Equal(t, ami.StateConnected, s.State())
	require.Equal(t, 1, srv.Logins())
	login := srv.Actions("Login")[0]
	require.Equal(t, "on", login.Get("Events"))
}

func TestConnectRejectsBadCredentials(t *testing.T) {
	srv := amitest.NewServer(t, "dialer", "s3cret")
	s := ami.NewSession(ami.Config{Addr: srv.Addr(), Username: "dialer", Secret: "wrong"}, nil)
	defer s.Close()

	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ami.ErrAuthentication)
	require.Equal(t, ami.StateDisconnected, s.State())
}

func TestConnectTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var conns []net.Conn
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
		mu.Lock()
		for _, c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	})

	s := ami.NewSession(ami.Config{Addr: ln.Addr().String(), ConnectTimeout: 100 * time.Millisecond}, nil)
	defer s.Close()

	start := time.Now()
	err = s.Connect(context.Background())
	require.ErrorIs(t, err, ami.ErrConnectTimeout)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestSubmitNotConnected(t *testing.T) {
	s := ami.NewSession(ami.Config{Addr: "127.0.0.1:1"}, nil)
	_, err := s.Submit(context.Background(), ami.NewAction("Ping"))
	require.ErrorIs(t, err, ami.ErrNotConnected)
}

func TestSubmitCorrelatesConcurrentRequests(t *testing.T) {
	srv := amitest.NewServer(t, "dialer", "s3cret")
	s := connect(t, srv)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := ami.NewAction("Originate", "Channel", fmt.Sprintf("PJSIP/%d@trunk", i), "Async", "true")
			a.ActionID = fmt.Sprintf("orig-%d", i)
			resp, err := s.Submit(context.Background(), a)
			if err != nil {
				errs <- err
				return
			}
			if resp.ActionID() != a.ActionID || !resp.IsSuccess() {
				errs <- fmt.Errorf("request %s got %v", a.ActionID, resp.Fields())
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, srv.Actions("Originate"), n)
}

func TestSubmitContextTimeout(t *testing.T) {
	srv := amitest.NewServer(t, "dialer", "s3cret")
	s := connect(t, srv)
	srv.Silence("Originate", true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Submit(ctx, ami.NewAction("Originate"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, ami.StateConnected, s.State())
}

func TestCollectChannels(t *testing.T) {
	srv := amitest.NewServer(t, "dialer", "s3cret")
	srv.AddChannel(amitest.Channel{Name: "PJSIP/trunk-0001", Uniqueid: "1.1", State: "Up", Duration: "00:01:05"})
	srv.AddChannel(amitest.Channel{Name: "PJSIP/trunk-0002", Uniqueid: "1.2", State: "Ring", Duration: "00:00:03"})
	s := connect(t, srv)

	items, err := s.Collect(context.Background(), ami.NewAction("CoreShowChannels"), "CoreShowChannelsComplete")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "PJSIP/trunk-0001", items[0].Get("Channel"))
	require.Equal(t, "Ring", items[1].Get("ChannelStateDesc"))

	srv.RemoveChannel("PJSIP/trunk-0001")
	srv.RemoveChannel("PJSIP/trunk-0002")
	items, err = s.Collect(context.Background(), ami.NewAction("CoreShowChannels"), "CoreShowChannelsComplete")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestSubscribeFiltersEvents(t *testing.T) {
	srv := amitest.NewServer(t, "dialer", "s3cret")
	s := connect(t, srv)

	sub := s.Subscribe("Hangup")
	defer sub.Close()
	all := s.Subscribe()
	defer all.Close()

	srv.Emit("Event", "Newstate", "Uniqueid", "1.1", "ChannelState", "5")
	srv.Emit("Event", "Hangup", "Uniqueid", "1.1", "Cause", "16")

	select {
	case m := <-sub.C:
		require.Equal(t, "Hangup", m.Event())
		require.Equal(t, "16", m.Get("Cause"))
	case <-time.After(time.Second):
		t.Fatal("no hangup event")
	}

	for _, want := range []string{"Newstate", "Hangup"} {
		select {
		case m := <-all.C:
			require.Equal(t, want, m.Event())
		case <-time.After(time.Second):
			t.Fatalf("no %s event", want)
		}
	}
}

func TestConnectionLossFailsPendingAndAllowsReconnect(t *testing.T) {
	srv := amitest.NewServer(t, "dialer", "s3cret")
	s := connect(t, srv)

	states := make(chan ami.State, 8)
	s.OnStateChange(func(st ami.State, _ error) { states <- st })

	srv.Silence("Originate", true)
	errc := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), ami.NewAction("Originate"))
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(srv.Actions("Originate")) == 1 }, time.Second, 5*time.Millisecond)

	srv.DropConnections()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ami.ErrConnectionLost)
		require.ErrorIs(t, err, ami.ErrUnacknowledged)
	case <-time.After(time.Second):
		t.Fatal("pending submit not failed")
	}
	require.Equal(t, ami.StateDisconnected, <-states)

	srv.Silence("Originate", false)
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, 2, srv.Logins())

	resp, err := s.Submit(context.Background(), ami.NewAction("Originate"))
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	srv := amitest.NewServer(t, "dialer", "s3cret")
	s := connect(t, srv)

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Connect(context.Background()), ami.ErrClosed)
	require.Eventually(t, func() bool { return len(srv.Actions("Logoff")) == 1 }, time.Second, 5*time.Millisecond)
}
