// File: internal/collectors/resolver_test.go
package collectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDNSResolverExplicitServer(t *testing.T) {
	r := NewDNSResolver("10.0.0.1:5353")
	require.NotNil(t, r)
	assert.Equal(t, "10.0.0.1:5353", r.server)
}

func TestNewDNSResolverSystemFallback(t *testing.T) {
	// Resolves via resolv.conf when readable, else the public fallback;
	// either way the resolver must come up with a usable server address.
	r := NewDNSResolver("")
	require.NotNil(t, r)
	assert.NotEmpty(t, r.server)
	assert.Contains(t, r.server, ":")
}
