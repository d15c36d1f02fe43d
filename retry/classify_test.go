package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type namedErr struct{ status string }

func (e namedErr) Error() string      { return "rpc failed" }
func (e namedErr) StatusName() string { return e.status }

// dialRefused is the error shape net/http returns for a closed port.
func dialRefused() error {
	return &url.Error{
		Op:  "Post",
		URL: "http://127.0.0.1:1/v1/chat/completions",
		Err: &net.OpError{
			Op:  "dial",
			Net: "tcp",
			Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED},
		},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Permanent},
		{"503", codedErr{code: 503}, Overloaded},
		{"429", codedErr{code: 429}, RateLimited},
		{"500", codedErr{code: 500}, Transient},
		{"400", codedErr{code: 400}, Permanent},
		{"401", codedErr{code: 401}, Permanent},
		{"code wins over status", codedErr{code: 400, status: "UNAVAILABLE"}, Permanent},
		{"wrapped 503", fmt.Errorf("send: %w", codedErr{code: 503}), Overloaded},
		{"status unavailable", namedErr{"UNAVAILABLE"}, Overloaded},
		{"status exhausted", namedErr{"RESOURCE_EXHAUSTED"}, RateLimited},
		{"status other", namedErr{"INVALID_ARGUMENT"}, Permanent},
		{"network text", errors.New("Network connection reset"), Transient},
		{"timeout text", errors.New("request TIMEOUT"), Transient},
		{"unavailable text", errors.New("Service Unavailable"), Overloaded},
		{"overloaded text", errors.New("the model is Overloaded"), Overloaded},
		{"plain", errors.New("bad request"), Permanent},
		{"cancelled", context.Canceled, Permanent},
		{"deadline is a timeout", fmt.Errorf("send: %w", context.DeadlineExceeded), Transient},
		{"connection refused", dialRefused(), Transient},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), Transient},
		{"unexpected eof", &url.Error{Op: "Post", URL: "http://x", Err: io.ErrUnexpectedEOF}, Transient},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.invalid"}, Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			assert.Equal(t, tt.want != Permanent, DefaultShouldRetry(tt.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "overloaded", Overloaded.String())
	assert.Equal(t, "rate_limited", RateLimited.String())
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "permanent", Permanent.String())
}
