// Package authz answers "may user U do A on R in organization O".
//
// [Checker] evaluates the static role matrix, resolving the role cache first
// and falling back to the membership store. [DynamicService] runs a fixed
// five-stage pipeline on top of it: minimum role, feature flag, resource
// ownership, business hours, IP policy. The first failing stage denies.
//
// Both fail closed: a store error during evaluation is logged and turned into
// a deny decision, never an error returned past the caller.
package authz
