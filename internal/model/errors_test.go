package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"transport", &TransportError{Err: context.DeadlineExceeded}, ClassTransport},
		{"wrapped remote", fmt.Errorf("respond: %w", &RemoteError{StatusCode: 500}), ClassRemote},
		{"malformed", &MalformedResponseError{Reason: "empty choices"}, ClassMalformed},
		{"other", errors.New("boom"), ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestTransportError_Unwraps(t *testing.T) {
	err := fmt.Errorf("respond: %w", &TransportError{Err: context.DeadlineExceeded})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMalformedResponseError_Message(t *testing.T) {
	assert.Equal(t, "malformed completion response: empty choices",
		(&MalformedResponseError{Reason: "empty choices"}).Error())
	assert.Contains(t, (&MalformedResponseError{Reason: "invalid json", Body: "<html>"}).Error(), "body=<html>")
}
