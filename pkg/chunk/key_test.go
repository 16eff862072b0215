package chunk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	start := time.Date(2026, 1, 5, 23, 59, 59, 123456789, time.UTC)

	key := ObjectKey("prod", "ORDERS", "orders.created", start, 42)
	assert.Equal(t,
		"prod/ORDERS/orders.created/2026/01/05/1767657599123456789-42.chunk",
		key)
}

func TestObjectKeyNoPrefix(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	key := ObjectKey("", "ORDERS", "orders.created", start, 1)
	assert.Equal(t,
		"ORDERS/orders.created/2026/01/05/1767571200000000000-1.chunk",
		key)
}

func TestObjectKeySanitizesWildcards(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	key := ObjectKey("p", "ORDERS", "orders.>", start, 1)
	assert.Contains(t, key, "/orders._/")
	assert.NotContains(t, key, ">")

	key = ObjectKey("p", "ORDERS", "orders.*.shipped", start, 1)
	assert.Contains(t, key, "/orders._.shipped/")
}

func TestObjectKeyUsesUTC(t *testing.T) {
	zone := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2026, 1, 6, 2, 0, 0, 0, zone) // 2026-01-05 21:00 UTC

	key := ObjectKey("", "S", "a", local, 1)
	assert.Contains(t, key, "/2026/01/05/")
}
