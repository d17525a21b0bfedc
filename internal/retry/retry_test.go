package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/logger"
)

// instantPolicy records requested delays instead of sleeping.
func instantPolicy(maxRetries int, slept *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.MaxRetries = maxRetries
	p.Jitter = 0
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return p
}

func TestDo_AlwaysTransientExhaustsAttempts(t *testing.T) {
	var slept []time.Duration
	p := instantPolicy(3, &slept)
	transient := &googleapi.Error{Code: 503, Message: "backend unavailable"}

	calls := 0
	err := Do(context.Background(), p, "list folders", func(ctx context.Context) error {
		calls++
		return transient
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls, "max_retries+1 attempts")
	assert.Len(t, slept, 3)

	var gerr *googleapi.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, 503, gerr.Code)
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	var slept []time.Duration
	p := instantPolicy(5, &slept)

	tests := []struct {
		name string
		err  error
	}{
		{name: "not found", err: &googleapi.Error{Code: 404}},
		{name: "forbidden", err: &googleapi.Error{Code: 403}},
		{name: "validation", err: fmt.Errorf("%w: bad input", domain.ErrValidation)},
		{name: "content", err: domain.ErrNoTransactions},
		{name: "grpc invalid argument", err: status.Error(codes.InvalidArgument, "bad")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), p, "op", func(ctx context.Context) error {
				calls++
				return tt.err
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.Empty(t, slept)
}

func TestDo_RecoversAfterTransient(t *testing.T) {
	var slept []time.Duration
	p := instantPolicy(5, &slept)

	calls := 0
	got, err := DoValue(context.Background(), p, "read cell", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &googleapi.Error{Code: 429}
		}
		return "42", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "42", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := Do(ctx, p, "move", func(ctx context.Context) error {
		calls++
		return MarkTransient(errors.New("flaky"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(3), "capped")

	p.Jitter = 500 * time.Millisecond
	for i := 0; i < 20; i++ {
		d := p.Delay(0)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, time.Second+500*time.Millisecond)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "503", err: &googleapi.Error{Code: 503}, want: true},
		{name: "500 wrapped", err: fmt.Errorf("download: %w", &googleapi.Error{Code: 500}), want: true},
		{name: "429", err: &googleapi.Error{Code: 429}, want: true},
		{name: "400", err: &googleapi.Error{Code: 400}, want: false},
		{name: "genai 503", err: genai.APIError{Code: 503}, want: true},
		{name: "genai 400", err: genai.APIError{Code: 400}, want: false},
		{name: "grpc unavailable", err: status.Error(codes.Unavailable, "down"), want: true},
		{name: "grpc resource exhausted", err: status.Error(codes.ResourceExhausted, "quota"), want: true},
		{name: "grpc not found", err: status.Error(codes.NotFound, "missing"), want: false},
		{name: "conn reset", err: &net.OpError{Op: "read", Err: syscall.ECONNRESET}, want: true},
		{name: "conn refused", err: syscall.ECONNREFUSED, want: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "url timeout", err: &url.Error{Op: "Get", URL: "https://x", Err: timeoutErr{}}, want: true},
		{name: "dns not found", err: &net.DNSError{Err: "no such host", IsNotFound: true}, want: false},
		{name: "marked", err: MarkTransient(errors.New("custom")), want: true},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestDo_LogsEachRetryWithContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(&buf))

	var slept []time.Duration
	calls := 0
	err := Do(ctx, instantPolicy(3, &slept), "append rows", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &googleapi.Error{Code: 503}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("Transient failure, retrying")))
	assert.Contains(t, buf.String(), `"op":"append rows"`)
	assert.Contains(t, buf.String(), `"attempt":1`)
}
