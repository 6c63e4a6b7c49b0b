// Package permission defines the closed role hierarchy, the closed set of
// resource:action permissions, and the static matrix that maps one to the other.
//
// # Roles
//
// Five levels, strictly ordered: owner(5) > admin(4) > manager(3) > producer(2) > member(1).
// [RoleNone] is the zero value and is granted nothing. Hierarchy checks compare
// [Role.Level] values only.
//
// # Matrix
//
// [Grants] is a total function over (Role, Permission). Each role owns a
// [Mask64] built once at package initialization from a declarative table;
// nothing at runtime can widen it.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import orgauth, cache, authz, or session.
//   - Mutate role masks after initialization.
package permission
