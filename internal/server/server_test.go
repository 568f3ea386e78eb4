package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/tabrelay/internal/config"
	"github.com/neboloop/tabrelay/internal/lifecycle"
)

func TestRunServesAndShutsDown(t *testing.T) {
	hooks := lifecycle.NewManager()
	started := make(chan struct{}, 1)
	stopping := make(chan struct{}, 1)
	hooks.OnServerStarted(func() { started <- struct{}{} })
	hooks.OnShutdown(func() { stopping <- struct{}{} })

	addrCh := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, config.Config{Host: "127.0.0.1"}, ServerOptions{
			Hooks: hooks,
			Quiet: true,
			Ready: func(addr string) { addrCh <- addr },
		})
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(3 * time.Second):
		t.Fatal("server never became ready")
	}
	<-started

	resp, err := http.Get("http://" + addr + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-stopping
}

func TestRunFailsOnBadSchedule(t *testing.T) {
	c := config.Config{Host: "127.0.0.1"}
	c.Stats.Schedule = "not a schedule"
	err := Run(context.Background(), c, ServerOptions{Quiet: true})
	assert.Error(t, err)
}
