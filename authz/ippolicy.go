package authz

import (
	"context"
	"net/netip"
	"strings"

	"github.com/MrEthical07/orgauth/store"
)

// IP policy reasons.
const (
	ReasonIPDenied     = "ip_denied"
	ReasonIPNotAllowed = "ip_not_allowed"
	ReasonIPUnknown    = "ip_unparseable"
)

// IPPolicy decides whether a client address may act on behalf of an organization.
type IPPolicy interface {
	Allow(ctx context.Context, settings store.OrgSettings, ip string) (bool, string)
}

// EdgeIPPolicy allows everything. Use it when allow/deny lists are enforced at the network edge.
type EdgeIPPolicy struct{}

func (EdgeIPPolicy) Allow(context.Context, store.OrgSettings, string) (bool, string) {
	return true, ""
}

// ListIPPolicy enforces the organization's allow and deny lists in process.
// Entries are addresses or CIDR prefixes. The deny list wins; a non-empty
// allow list rejects everything it does not match.
type ListIPPolicy struct{}

func (ListIPPolicy) Allow(_ context.Context, settings store.OrgSettings, ip string) (bool, string) {
	if len(settings.IPAllowList) == 0 && len(settings.IPDenyList) == 0 {
		return true, ""
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false, ReasonIPUnknown
	}
	addr = addr.Unmap()

	if matchAny(settings.IPDenyList, addr) {
		return false, ReasonIPDenied
	}
	if len(settings.IPAllowList) > 0 && !matchAny(settings.IPAllowList, addr) {
		return false, ReasonIPNotAllowed
	}
	return true, ""
}

func matchAny(entries []string, addr netip.Addr) bool {
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if strings.Contains(e, "/") {
			if p, err := netip.ParsePrefix(e); err == nil && p.Contains(addr) {
				return true
			}
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil && a.Unmap() == addr {
			return true
		}
	}
	return false
}
