package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estancias/internal/app/commands"
	"estancias/internal/app/middleware"
	"estancias/internal/app/uow"
	"estancias/internal/infra/storage/memory"
)

type echoCommand struct {
	KeyV   string
	Value  string
	IdemV  string
	FailV  bool
	UseUoW bool
}

func (c echoCommand) Key() string            { return c.KeyV }
func (c echoCommand) IdempotencyKey() string { return c.IdemV }
func (c echoCommand) ResultPrototype() any   { return &echoResult{} }

type echoResult struct {
	Value string `json:"value"`
	Calls int    `json:"calls"`
}

func newEchoBus(t *testing.T, calls *int) *commands.InMemoryBus {
	t.Helper()
	bus := commands.NewInMemoryBus()
	bus.RegisterRaw("echo", func(ctx context.Context, raw commands.Command) (any, error) {
		cmd := raw.(echoCommand)
		*calls++
		if cmd.FailV {
			return nil, errors.New("handler exploded")
		}
		if cmd.UseUoW {
			unit, ok := uow.FromContext(ctx)
			require.True(t, ok, "transaction middleware should inject a unit of work")
			require.NotNil(t, unit)
		}
		return &echoResult{Value: cmd.Value, Calls: *calls}, nil
	})
	return bus
}

func TestIdempotencyReplaysStoredResult(t *testing.T) {
	calls := 0
	bus := middleware.ChainCommands(newEchoBus(t, &calls),
		middleware.Idempotency(memory.NewIdempotencyStore(), nil))

	cmd := echoCommand{KeyV: "echo", Value: "hola", IdemV: "key-1"}
	first, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus, cmd)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Calls)

	second, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus, cmd)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Calls, "replay must not re-execute the handler")
	assert.Equal(t, "hola", second.Value)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyReplaysStoredError(t *testing.T) {
	calls := 0
	bus := middleware.ChainCommands(newEchoBus(t, &calls),
		middleware.Idempotency(memory.NewIdempotencyStore(), nil))

	cmd := echoCommand{KeyV: "echo", IdemV: "key-err", FailV: true}
	_, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus, cmd)
	require.EqualError(t, err, "handler exploded")

	_, err = commands.Dispatch[echoCommand, *echoResult](context.Background(), bus, cmd)
	require.EqualError(t, err, "handler exploded")
	assert.Equal(t, 1, calls)
}

func TestIdempotencySkipsCommandsWithoutKey(t *testing.T) {
	calls := 0
	bus := middleware.ChainCommands(newEchoBus(t, &calls),
		middleware.Idempotency(memory.NewIdempotencyStore(), nil))

	cmd := echoCommand{KeyV: "echo", Value: "x"}
	for i := 0; i < 3; i++ {
		_, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus, cmd)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

// trackingUnit wraps a memory unit to observe commit/rollback decisions.
type trackingFactory struct {
	inner      uow.Factory
	commits    int
	rollbacks  int
	lastIsRead bool
}

type trackingUnit struct {
	uow.UnitOfWork
	f *trackingFactory
}

func (f *trackingFactory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	f.lastIsRead = opts.ReadOnly
	unit, err := f.inner.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &trackingUnit{UnitOfWork: unit, f: f}, nil
}

func (u *trackingUnit) Commit(ctx context.Context) error {
	u.f.commits++
	return u.UnitOfWork.Commit(ctx)
}

func (u *trackingUnit) Rollback(ctx context.Context) error {
	u.f.rollbacks++
	return u.UnitOfWork.Rollback(ctx)
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	calls := 0
	factory := &trackingFactory{inner: memory.Factory{Store: memory.NewStore()}}
	bus := middleware.ChainCommands(newEchoBus(t, &calls),
		middleware.Transaction(factory, nil))

	_, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus,
		echoCommand{KeyV: "echo", Value: "ok", UseUoW: true})
	require.NoError(t, err)
	assert.Equal(t, 1, factory.commits)
	assert.Zero(t, factory.rollbacks)
}

func TestTransactionRollsBackOnHandlerError(t *testing.T) {
	calls := 0
	factory := &trackingFactory{inner: memory.Factory{Store: memory.NewStore()}}
	bus := middleware.ChainCommands(newEchoBus(t, &calls),
		middleware.Transaction(factory, nil))

	_, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus,
		echoCommand{KeyV: "echo", FailV: true})
	require.Error(t, err)
	assert.Zero(t, factory.commits)
	assert.Equal(t, 1, factory.rollbacks)
}

func TestTransactionHonorsOptionsProvider(t *testing.T) {
	calls := 0
	factory := &trackingFactory{inner: memory.Factory{Store: memory.NewStore()}}
	bus := middleware.ChainCommands(newEchoBus(t, &calls),
		middleware.Transaction(factory, func(cmd commands.Command) uow.TxOptions {
			return uow.TxOptions{ReadOnly: true}
		}))

	_, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus,
		echoCommand{KeyV: "echo", Value: "ro"})
	require.NoError(t, err)
	assert.True(t, factory.lastIsRead)
}
