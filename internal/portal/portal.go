// Package portal defines the MARx eligibility lookup collaborator and ships an
// HTTP client for the lookup sidecar that drives the portal.
package portal

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
)

var (
	// ErrInvalidMBI means the portal rejected the Medicare Beneficiary Identifier.
	ErrInvalidMBI = eris.New("portal: invalid medicare number")
	// ErrBeneficiaryNotFound means the portal has no beneficiary for the MBI.
	ErrBeneficiaryNotFound = eris.New("portal: beneficiary not found")
	// ErrNoVerificationCode means sign-in could not find the MFA code. No
	// further lookups are possible.
	ErrNoVerificationCode = eris.New("portal: no verification code")
)

// Row is the first row of the eligibility table as cell text, left to right.
type Row []string

// Session is an authenticated portal session. Sessions are used by a single
// worker and are not safe for concurrent use.
type Session interface {
	Lookup(ctx context.Context, mbi string) (Row, error)
	Close(ctx context.Context) error
}

// Opener signs in to the portal. Partition i (1-based) uses credential set i.
type Opener interface {
	Open(ctx context.Context, partition int) (Session, error)
}

// Credential is one portal account.
type Credential struct {
	Username string
	Password string
	Mailbox  string
}

// IsFatal reports whether err stops the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoVerificationCode)
}
