package reputation

import "context"

// SourceChecker answers whether external verification sources vouch for an
// asset. The verification sweep consults it for every tracked asset.
type SourceChecker interface {
	// RegistryListed reports whether the asset appears in the curated registry.
	RegistryListed(ctx context.Context, code, issuer string) (bool, error)

	// IssuerMetadataValid reports whether the issuer's published metadata
	// names the asset.
	IssuerMetadataValid(ctx context.Context, code, issuer string) (bool, error)
}

// StaticSourceChecker resolves both sources from fixed tables keyed by
// "CODE:ISSUER". Used for local mode and tests; production deployments plug
// in a client for the real registry.
type StaticSourceChecker struct {
	registry map[string]bool
	metadata map[string]bool
}

func NewStaticSourceChecker(registry, metadata map[string]bool) *StaticSourceChecker {
	if registry == nil {
		registry = map[string]bool{}
	}
	if metadata == nil {
		metadata = map[string]bool{}
	}
	return &StaticSourceChecker{registry: registry, metadata: metadata}
}

func (c *StaticSourceChecker) RegistryListed(_ context.Context, code, issuer string) (bool, error) {
	return c.registry[code+":"+issuer], nil
}

func (c *StaticSourceChecker) IssuerMetadataValid(_ context.Context, code, issuer string) (bool, error) {
	return c.metadata[code+":"+issuer], nil
}
