package upstream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewTimeout_Defaults(t *testing.T) {
	to := NewTimeout(TimeoutConfig{})

	if to.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", to.config.Timeout)
	}
}

func TestTimeout_Success(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Second})

	err := to.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
}

func TestTimeout_AttemptDeadline(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: 10 * time.Millisecond})

	err := to.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if !errors.Is(err, ErrAttemptTimeout) {
		t.Errorf("Execute() error = %v, want ErrAttemptTimeout", err)
	}
	if !Retryable(err) {
		t.Error("attempt timeout must be retryable")
	}
}

func TestTimeout_CallerCancellation(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := to.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Execute() error = %v, want ErrCancelled", err)
	}
	if errors.Is(err, ErrAttemptTimeout) {
		t.Error("caller cancellation must not surface as attempt timeout")
	}
}

func TestTimeout_OperationError(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Second})

	testErr := NewTransportError(FailureServer, errors.New("boom"))
	err := to.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if !errors.Is(err, testErr) {
		t.Errorf("Execute() error = %v, want operation error unchanged", err)
	}
}
