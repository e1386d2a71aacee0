package afdexit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeString(t *testing.T) {
	cases := []struct {
		c    Code
		want string
	}{
		{TransferSuccess, "TRANSFER_SUCCESS"},
		{ConnectError, "CONNECT_ERROR"},
		{GotKilled, "GOT_KILLED"},
		{Code(999), "UNKNOWN_EXIT_CODE"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.c.String())
	}
}

func TestGuardRunsCleanupInLIFOOrder(t *testing.T) {
	g := &Guard{}
	var order []int
	g.OnExit(func() { order = append(order, 1) })
	g.OnExit(func() { order = append(order, 2) })
	g.OnExit(func() { order = append(order, 3) })

	g.Run()
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestGuardRunIsIdempotent(t *testing.T) {
	g := &Guard{}
	calls := 0
	g.OnExit(func() { calls++ })

	g.Run()
	g.Run()
	g.Run()

	assert.Equal(t, 1, calls)
}

func TestNewGuardReturnsUsableChannel(t *testing.T) {
	g, requested := NewGuard()
	assert.NotNil(t, g)
	select {
	case <-requested:
		t.Fatal("no signal was sent, channel should be empty")
	default:
	}
}
