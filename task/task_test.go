package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCode int

const errBroken testCode = 1

func (testCode) Error() string { return "broken" }
func (testCode) Category() Category { return CategoryInstallFailed }

type noopTask struct{}

func (noopTask) Name() string { return "noop" }
func (noopTask) Step() Step { return StepInstall }
func (noopTask) Run(ctx context.Context, userID int, cb Callback) { cb.OnSuccess(noopTask{}) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSink_DeliversFirstResultOnly(t *testing.T) {
	sink := NewSink(discardLogger())

	sink.OnSuccess(noopTask{})
	sink.OnError(noopTask{}, errBroken)
	sink.OnSuccess(noopTask{})

	res := <-sink.Results()
	assert.IsType(t, Success{}, res)

	select {
	case extra := <-sink.Results():
		t.Fatalf("unexpected second result %v", extra)
	default:
	}
}

func TestSink_ConcurrentCallbacks(t *testing.T) {
	sink := NewSink(discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				sink.OnSuccess(noopTask{})
			} else {
				sink.OnError(noopTask{}, errBroken)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, sink.Results(), 1)
}

func TestSink_Failure(t *testing.T) {
	sink := NewSink(discardLogger())
	sink.OnError(noopTask{}, errBroken)

	res := <-sink.Results()
	failure, ok := res.(Failure)
	require.True(t, ok)
	assert.Equal(t, CategoryInstallFailed, failure.Code.Category())
	assert.Equal(t, "noop", failure.Task.Name())
}

func TestCategory_Text(t *testing.T) {
	b, err := CategoryHashMismatch.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "hash_mismatch", string(b))

	_, err = Category(99).MarshalText()
	assert.Error(t, err)
	assert.NotEmpty(t, Category(99).Message())

	var c Category
	require.NoError(t, c.UnmarshalText([]byte("user_limit_reached")))
	assert.Equal(t, CategoryUserLimitReached, c)
	assert.Error(t, c.UnmarshalText([]byte("meltdown")))
}

func TestStatusLine(t *testing.T) {
	handler := NewStatusHandler()
	line := NewStatusLine("download", discardLogger(), handler)

	line.Set("downloading")
	assert.Equal(t, "downloading", handler.Get("download"))

	line.Fail(errBroken)
	assert.Equal(t, "❌ broken", handler.Get("download"))

	all := handler.All()
	all["download"] = "mutated"
	assert.Equal(t, "❌ broken", handler.Get("download"))

	var nilLine *StatusLine
	assert.NotPanics(t, func() { nilLine.Set("ignored") })
}
