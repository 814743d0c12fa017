package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ms-commerce-sync/internal/identity"
)

func TestHashPIIDeterministic(t *testing.T) {
	r := identity.NewResolver("test-key")

	// Case and surrounding whitespace never change the hash.
	assert.Equal(t, r.HashPII("A@B.com"), r.HashPII(" a@b.com "))
	assert.NotEmpty(t, r.HashPII("a@b.com"))
	assert.NotEqual(t, r.HashPII("a@b.com"), r.HashPII("c@d.com"))
}

func TestHashPIIEmptyInput(t *testing.T) {
	r := identity.NewResolver("test-key")

	assert.Equal(t, "", r.HashPII(""))
	assert.Equal(t, "", r.HashPII("   "))
}

func TestHashPIIKeyed(t *testing.T) {
	a := identity.NewResolver("key-a")
	b := identity.NewResolver("key-b")

	assert.NotEqual(t, a.HashPII("a@b.com"), b.HashPII("a@b.com"))
}

func TestResolveCustomer(t *testing.T) {
	r := identity.NewResolver("test-key")

	// Email preferred over phone.
	assert.Equal(t, r.HashPII("a@b.com"), r.ResolveCustomer("a@b.com", "+1 555 0100"))

	// Phone fallback.
	assert.Equal(t, r.HashPII("+1 555 0100"), r.ResolveCustomer("", "+1 555 0100"))

	// Neither: anonymous.
	assert.Equal(t, "", r.ResolveCustomer("", ""))
}
