// Package store defines the domain records and the ports through which the
// authorization core reads and writes the relational data service.
//
// Adapters live in sub-packages: [github.com/MrEthical07/orgauth/store/memory]
// for tests and single-process deployments, and
// [github.com/MrEthical07/orgauth/store/postgres] for production. Every adapter
// calls its [Invalidator] synchronously after a successful write so cache
// eviction is ordered before the write returns.
package store
