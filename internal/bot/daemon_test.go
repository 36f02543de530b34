package bot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/config"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/db"
)

type fakeListener struct {
	*chat.MockNotifier
	connectErr error
	handlers   chan chat.Handler

	mu     sync.Mutex
	closed bool
}

func newFakeListener() *fakeListener {
	return &fakeListener{MockNotifier: chat.NewMockNotifier(), handlers: make(chan chat.Handler, 1)}
}

func (l *fakeListener) Connect(ctx context.Context) error { return l.connectErr }

func (l *fakeListener) Listen(ctx context.Context, h chat.Handler) error {
	l.handlers <- h
	<-ctx.Done()
	return nil
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
slack:
  bot_token: xoxb-test
  app_token: xapp-test
  mentor_channel: C0MENTOR
reservation:
  timezone: UTC
`))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Redis.Addr = ""
	cfg.HTTP.Port = freePort(t)
	return cfg
}

func TestNewDaemon_Validation(t *testing.T) {
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close(gdb)
	cfg := testConfig(t)

	tests := []struct {
		name string
		opts DaemonOpts
		want string
	}{
		{"config", DaemonOpts{DB: gdb, Listener: newFakeListener()}, "config is required"},
		{"db", DaemonOpts{Config: cfg, Listener: newFakeListener()}, "db is required"},
		{"listener", DaemonOpts{Config: cfg, DB: gdb}, "listener is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDaemon(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("NewDaemon() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestDaemon_ConnectError(t *testing.T) {
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close(gdb)
	listener := newFakeListener()
	listener.connectErr = errors.New("invalid_auth")

	d, err := NewDaemon(DaemonOpts{Config: testConfig(t), DB: gdb, Listener: listener})
	if err != nil {
		t.Fatal(err)
	}
	err = d.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid_auth") {
		t.Fatalf("Run() error = %v, want connect failure", err)
	}
	if listener.isClosed() {
		t.Error("listener closed without a connection")
	}
}

func TestDaemon_RunAndShutdown(t *testing.T) {
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close(gdb)
	cfg := testConfig(t)
	listener := newFakeListener()

	d, err := NewDaemon(DaemonOpts{Config: cfg, DB: gdb, Listener: listener, Clock: clockwork.NewFakeClock()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	var h chat.Handler
	select {
	case h = <-listener.handlers:
	case err := <-errc:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("listener never received a handler")
	}
	<-d.ready

	h.HandleCommand(ctx, chat.Command{Name: CommandHelp, UserID: "U1", ChannelID: "C0DEV", TriggerRef: "t1"})
	if forms := listener.Forms(); len(forms) != 1 || forms[0].Form.CallbackID != CallbackQuestionType {
		t.Errorf("forms = %+v, want the question wizard", forms)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.HTTP.Port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("healthz = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("http server not reachable: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() = %v, want nil after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !listener.isClosed() {
		t.Error("listener not closed on shutdown")
	}
}
