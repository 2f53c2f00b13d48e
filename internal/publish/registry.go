package publish

import (
	"context"
	"fmt"
	"strings"
)

// Platform-name spelling differs between this system and the Publishing
// Provider in exactly one place today. The table is fixed and bidirectional;
// unknown names pass through untouched.
var platformToProvider = map[string]string{
	"twitter": "x",
}

var providerToPlatform = map[string]string{
	"x": "twitter",
}

func toProviderPlatform(p string) string {
	if v, ok := platformToProvider[p]; ok {
		return v
	}
	return p
}

func fromProviderPlatform(p string) string {
	if v, ok := providerToPlatform[p]; ok {
		return v
	}
	return p
}

// FromProviderPlatform translates a provider platform name into local
// vocabulary. Exported for result reconciliation.
func FromProviderPlatform(p string) string {
	return fromProviderPlatform(strings.ToLower(strings.TrimSpace(p)))
}

// Registry resolves which of a client's requested platforms have a connected
// account at the Publishing Provider.
type Registry struct {
	Provider Provider
}

// ResolveAccounts returns a map of platform (our vocabulary) to provider
// account id for every requested platform that has a connected account.
// Platforms with no connected account are silently dropped so one missing
// connection does not block publishing to the others. A provider failure is
// fatal: no accounts could be verified at all.
func (r *Registry) ResolveAccounts(ctx context.Context, externalRef string, requested []string) (map[string]string, error) {
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: requested platforms must be non-empty", ErrValidation)
	}

	accounts, err := r.Provider.ListAccounts(ctx, externalRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	connected := make(map[string]string, len(accounts))
	for _, a := range accounts {
		if !strings.EqualFold(strings.TrimSpace(a.Status), "connected") {
			continue
		}
		platform := fromProviderPlatform(strings.ToLower(strings.TrimSpace(a.Platform)))
		if platform == "" || strings.TrimSpace(a.ID) == "" {
			continue
		}
		connected[platform] = a.ID
	}

	resolved := make(map[string]string)
	for _, p := range requested {
		pp := strings.ToLower(strings.TrimSpace(p))
		if id, ok := connected[pp]; ok {
			resolved[pp] = id
		}
	}
	return resolved, nil
}
