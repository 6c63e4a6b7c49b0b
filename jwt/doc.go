// Package jwt signs and verifies the short-lived ticket handed to a client
// between a successful password check and the second-factor step.
//
// A ticket only names the user, the organization, and the factors that may
// complete the sign-in. It is never a session credential: the route
// middleware does not accept it, and single use is enforced separately by
// the challenge store keyed on the ticket ID.
package jwt
