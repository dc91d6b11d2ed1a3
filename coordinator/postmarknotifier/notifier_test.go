package postmarknotifier_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwrig/testbed/core/email"
	"github.com/hwrig/testbed/coordinator"
	"github.com/hwrig/testbed/coordinator/postmarknotifier"
)

type fakeSender struct {
	sent []email.SendEmailParams
	err  error
}

func (f *fakeSender) SendEmail(_ context.Context, params email.SendEmailParams) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, params)
	return nil
}

type fakeDirectory struct {
	addresses map[int64]string
	err       error
}

func (f *fakeDirectory) Email(_ context.Context, userID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.addresses[userID], nil
}

func TestNotifier_SendsToResolvedAddress(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	users := &fakeDirectory{addresses: map[int64]string{9: "alice@example.com"}}
	n := postmarknotifier.New(sender, users)

	require.NoError(t, n.NotifyJobStatus(context.Background(), 9, 42, coordinator.JobSuccessful))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "alice@example.com", sender.sent[0].SendTo)
	assert.Contains(t, sender.sent[0].Subject, "42")
	assert.Contains(t, sender.sent[0].BodyHTML, "Successful")
	assert.Equal(t, "job-status", sender.sent[0].Tag)
}

func TestNotifier_PropagatesDirectoryError(t *testing.T) {
	t.Parallel()

	users := &fakeDirectory{err: errors.New("lookup failed")}
	n := postmarknotifier.New(&fakeSender{}, users)

	err := n.NotifyJobStatus(context.Background(), 1, 1, coordinator.JobFailed)
	assert.Error(t, err)
}

func TestNotifier_PropagatesSendError(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: errors.New("postmark down")}
	users := &fakeDirectory{addresses: map[int64]string{1: "a@example.com"}}
	n := postmarknotifier.New(sender, users)

	err := n.NotifyJobStatus(context.Background(), 1, 1, coordinator.JobRunning)
	assert.Error(t, err)
}
