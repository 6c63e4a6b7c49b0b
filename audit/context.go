package audit

import "context"

type requestInfoContextKey struct{}

// RequestInfo is the caller metadata attached to events emitted while serving a request.
type RequestInfo struct {
	IPAddress string
	UserAgent string
	SessionID string
}

// WithRequestInfo attaches request metadata to ctx. Events emitted with this
// context pick it up for any field the caller left empty.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey{}, info)
}

// RequestInfoFrom returns the metadata attached by [WithRequestInfo].
func RequestInfoFrom(ctx context.Context) RequestInfo {
	if ctx == nil {
		return RequestInfo{}
	}
	info, _ := ctx.Value(requestInfoContextKey{}).(RequestInfo)
	return info
}

func (f Fields) withRequest(ctx context.Context) Fields {
	info := RequestInfoFrom(ctx)
	if f.IPAddress == "" {
		f.IPAddress = info.IPAddress
	}
	if f.UserAgent == "" {
		f.UserAgent = info.UserAgent
	}
	if f.SessionID == "" {
		f.SessionID = info.SessionID
	}
	return f
}
