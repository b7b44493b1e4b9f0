// Package session holds the console's authentication state: who is logged
// in, the pending second factor, persistence of the logged-in user across
// restarts, and change notification for UI observers.
//
// State machine:
//
//	LoggedOut            --Authenticate (no 2FA)-->          LoggedIn
//	LoggedOut            --Authenticate (2FA required)-->    AwaitingSecondFactor
//	AwaitingSecondFactor --VerifySecondFactor ok-->          LoggedIn
//	AwaitingSecondFactor --VerifySecondFactor failed-->      AwaitingSecondFactor
//	AwaitingSecondFactor --CancelSecondFactor-->             LoggedOut
//	LoggedIn             --Logout-->                         LoggedOut
package session

import "jesi.ai/console/internal/auth"

// Session is a snapshot of the authentication state.
// Authenticated implies User is set and any second factor was completed.
type Session struct {
	User          *auth.User `json:"user"`
	Authenticated bool       `json:"authenticated"`
	Loading       bool       `json:"loading"`
}

func (s Session) clone() Session {
	if s.User != nil {
		u := s.User.Clone()
		s.User = &u
	}
	return s
}

// HasPermission reports whether s may perform capability. Unauthenticated
// sessions may do nothing; SuperAdmin may do everything.
func HasPermission(s Session, capability string) bool {
	if !s.Authenticated || s.User == nil {
		return false
	}
	return auth.RoleAllows(s.User.Role, capability)
}

// Stage is the position in the login flow.
type Stage string

const (
	StageLoggedOut            Stage = "logged_out"
	StageAwaitingSecondFactor Stage = "awaiting_second_factor"
	StageLoggedIn             Stage = "logged_in"
)

// Status is the kind of result an authentication step produced.
type Status string

const (
	StatusSuccess              Status = "success"
	StatusSecondFactorRequired Status = "second_factor_required"
	StatusFailure              Status = "failure"
)

// User-facing failure reasons.
const (
	ReasonInvalidCredentials = "Invalid credentials"
	ReasonInvalidCode        = "Invalid verification code"
)

// Outcome is what Authenticate and VerifySecondFactor return. Failures are
// values, not errors, so callers always have something to render.
type Outcome struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (o Outcome) OK() bool { return o.Status == StatusSuccess }

func failure(reason string) Outcome {
	return Outcome{Status: StatusFailure, Reason: reason}
}

// Listener receives the full session after every change.
type Listener func(Session)
