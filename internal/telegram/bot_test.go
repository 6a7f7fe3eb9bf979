package telegram

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "intercheck/pkg/logx"
)

// deadURL returns an address nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return "http://" + addr
}

func TestNewWorksWithoutNetwork(t *testing.T) {
	b, err := New(Config{Token: "123:abc", APIURL: deadURL(t)}, NewCommands(Deps{}, 0), logx.Nop())
	if err != nil {
		t.Fatalf("New with unreachable API: %v", err)
	}
	if b.bot.Me == nil || b.bot.Me.ID != 0 {
		t.Fatalf("identity must not be fetched by New: %+v", b.bot.Me)
	}
}

func TestStartRetriesUnreachableAPIAndStops(t *testing.T) {
	b, err := New(Config{Token: "123:abc", APIURL: deadURL(t)}, NewCommands(Deps{}, 0), logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		tasks := b.supervisor().Tasks()
		if len(tasks) == 1 && strings.Contains(tasks[0].LastErr, "getMe") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("identity failure not recorded: %+v", tasks)
		}
		time.Sleep(20 * time.Millisecond)
	}

	start := time.Now()
	b.Stop(context.Background())
	if d := time.Since(start); d > 3*time.Second {
		t.Fatalf("Stop took %v", d)
	}
	if b.supervisor() != nil {
		t.Fatalf("supervisor not cleared")
	}
}

func TestIdentify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getMe") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"username":"intercheck_bot"}}`))
	}))
	defer srv.Close()

	b, err := New(Config{Token: "123:abc", APIURL: srv.URL}, NewCommands(Deps{}, 0), logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.identify(context.Background()); err != nil {
		t.Fatalf("identify: %v", err)
	}
	if b.bot.Me.ID != 42 || b.bot.Me.Username != "intercheck_bot" {
		t.Fatalf("Me=%+v", b.bot.Me)
	}
}

func TestIdentifyHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	b, err := New(Config{Token: "123:abc", APIURL: srv.URL}, NewCommands(Deps{}, 0), logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.identify(ctx); err == nil {
		t.Fatalf("identify should fail when ctx ends first")
	}
}
