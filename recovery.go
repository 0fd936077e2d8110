package accounts

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"

	"github.com/samber/oops"
)

// RecoveryState is the position of a password recovery in its lifecycle:
// Idle -> RequestSent -> Resetting -> Completed
type RecoveryState int

const (
	RecoveryIdle RecoveryState = iota
	RecoveryRequestSent
	RecoveryResetting
	RecoveryCompleted
)

func (s RecoveryState) String() string {
	switch s {
	case RecoveryIdle:
		return "idle"
	case RecoveryRequestSent:
		return "request_sent"
	case RecoveryResetting:
		return "resetting"
	case RecoveryCompleted:
		return "completed"
	}
	return fmt.Sprintf("RecoveryState(%d)", int(s))
}

// ResetRequest is a submitted reset form.  It is never persisted.
type ResetRequest struct {
	Email    string
	Code     string
	Password string
}

// RecoveryOutcome is the result of a reset submission.  Errors are rendered
// "<code> <description>" and are only set when State is RecoveryResetting.
type RecoveryOutcome struct {
	State  RecoveryState
	Errors []string
}

// RecoveryStore is the part of the UserManager the recovery flow needs
type RecoveryStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	IsEmailConfirmed(ctx context.Context, user *User) (bool, error)
	GeneratePasswordResetToken(ctx context.Context, user *User) (string, error)
	ResetPassword(ctx context.Context, user *User, token, newPassword string) (IdentityResult, error)
}

// Subject of the password reset email
const ResetEmailSubject = "Reset Password"

// RecoveryFlow drives forgot-password and reset-password.  Neither operation reveals
// whether an email belongs to an account: unknown and unconfirmed addresses get the
// same outcome as known ones.
type RecoveryFlow struct {
	Users RecoveryStore
	Email EmailSender

	// Builds the absolute link placed in the reset email
	ResetLink func(userID, token string) string

	// Optional.  Requests over the limit are dropped silently.
	Limiter RateLimiter

	Metrics *Metrics
	Logger  *slog.Logger
}

// ResetLinkFunc returns a ResetLink builder pointing at baseURL/Account/ResetPassword
func ResetLinkFunc(baseURL string) func(userID, token string) string {
	return func(userID, token string) string {
		q := url.Values{}
		q.Set("userId", userID)
		q.Set("code", token)
		return baseURL + "/Account/ResetPassword?" + q.Encode()
	}
}

// ResetEmailBody renders the HTML body of the password reset email
func ResetEmailBody(link string) string {
	return `Please reset your password by clicking here: <a href="` + html.EscapeString(link) + `">link</a>`
}

func (f *RecoveryFlow) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

// RequestReset starts a recovery for the email.  The returned state is RecoveryRequestSent
// whenever err is nil, whether or not a message went out.  Errors come only from the
// store or the email transport and are not retried.
func (f *RecoveryFlow) RequestReset(ctx context.Context, email string) (RecoveryState, error) {
	user, err := f.Users.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		f.Metrics.resetRequest("suppressed")
		return RecoveryRequestSent, nil
	}
	if err != nil {
		return RecoveryIdle, err
	}

	confirmed, err := f.Users.IsEmailConfirmed(ctx, user)
	if err != nil {
		return RecoveryIdle, err
	}
	if !confirmed {
		f.Metrics.resetRequest("suppressed")
		return RecoveryRequestSent, nil
	}

	if f.Limiter != nil {
		allowed, err := f.Limiter.Allow(ctx, "reset:"+user.NormalizedEmail)
		if err != nil {
			f.logger().Warn("reset rate limiter failed, allowing request", "user_id", user.ID, "error", err)
		} else if !allowed {
			f.logger().Info("reset request rate limited", "user_id", user.ID)
			f.Metrics.resetRequest("limited")
			return RecoveryRequestSent, nil
		}
	}

	token, err := f.Users.GeneratePasswordResetToken(ctx, user)
	if err != nil {
		return RecoveryIdle, err
	}

	link := f.ResetLink(user.ID, token)
	msg := &Message{
		To:      []string{user.Email},
		Subject: ResetEmailSubject,
		Content: ResetEmailBody(link),
	}
	if err := f.Email.Send(ctx, msg); err != nil {
		f.Metrics.email("failed")
		return RecoveryIdle, oops.Code("EMAIL_SEND_FAILED").With("user_id", user.ID).Wrap(err)
	}
	f.Metrics.email("sent")
	f.Metrics.resetRequest("sent")
	f.logger().Info("password reset requested", "user_id", user.ID)
	return RecoveryRequestSent, nil
}

// ResetPassword submits a new password.  An unknown email completes exactly like a
// successful reset.  Rejections leave the flow in RecoveryResetting with the messages set.
func (f *RecoveryFlow) ResetPassword(ctx context.Context, req ResetRequest) (RecoveryOutcome, error) {
	user, err := f.Users.FindByEmail(ctx, req.Email)
	if errors.Is(err, ErrUserNotFound) {
		f.Metrics.passwordReset("unknown")
		return RecoveryOutcome{State: RecoveryCompleted}, nil
	}
	if err != nil {
		return RecoveryOutcome{State: RecoveryResetting}, err
	}

	result, err := f.Users.ResetPassword(ctx, user, req.Code, req.Password)
	if err != nil {
		return RecoveryOutcome{State: RecoveryResetting}, err
	}
	if !result.Succeeded {
		f.Metrics.passwordReset("rejected")
		return RecoveryOutcome{State: RecoveryResetting, Errors: result.Messages()}, nil
	}
	f.Metrics.passwordReset("succeeded")
	return RecoveryOutcome{State: RecoveryCompleted}, nil
}
