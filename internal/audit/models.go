package audit

import (
	"context"

	"portalquejas/pkg/requestcontext"
)

// AnonymousActor is recorded when a mutation has no authenticated caller.
const AnonymousActor = "anonymous"

// Metadata is the provenance attached to every audit event.
type Metadata struct {
	Actor     string
	ClientIP  string
	UserAgent string
}

// MetadataFromContext reads the caller and client details set by the
// HTTP middleware.
func MetadataFromContext(ctx context.Context) Metadata {
	return Metadata{
		Actor:     requestcontext.Actor(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	}
}

func (m Metadata) actor() string {
	if m.Actor == "" {
		return AnonymousActor
	}
	return m.Actor
}
