// Package postmarknotifier implements coordinator.Notifier over Postmark.
package postmarknotifier

import (
	"context"
	"fmt"

	"github.com/hwrig/testbed/core/email"
	"github.com/hwrig/testbed/coordinator"
)

// Notifier sends a transactional email per job status change. It resolves
// the recipient address through a UserDirectory rather than embedding its
// own user lookup.
type Notifier struct {
	sender email.EmailSender
	users  coordinator.UserDirectory
}

func New(sender email.EmailSender, users coordinator.UserDirectory) *Notifier {
	return &Notifier{sender: sender, users: users}
}

func (n *Notifier) NotifyJobStatus(ctx context.Context, userID, jobID int64, status coordinator.JobStatus) error {
	addr, err := n.users.Email(ctx, userID)
	if err != nil {
		return fmt.Errorf("postmarknotifier: resolving recipient: %w", err)
	}

	params := email.SendEmailParams{
		SendTo:   addr,
		Subject:  fmt.Sprintf("Job #%d is %s", jobID, status),
		BodyHTML: bodyHTML(jobID, status),
		Tag:      "job-status",
	}
	if err := n.sender.SendEmail(ctx, params); err != nil {
		return fmt.Errorf("postmarknotifier: sending: %w", err)
	}
	return nil
}

func bodyHTML(jobID int64, status coordinator.JobStatus) string {
	return fmt.Sprintf("<p>Your job <strong>#%d</strong> is now <strong>%s</strong>.</p>", jobID, status)
}
