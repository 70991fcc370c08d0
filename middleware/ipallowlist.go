package middleware

import (
	"net/http"
	"net/netip"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IPAllowlist restricts a route group to the given addresses or CIDR
// ranges. An empty list admits everyone. Entries that fail to parse are
// logged and skipped rather than silently opening the route.
func IPAllowlist(entries []string, log *zap.Logger) gin.HandlerFunc {
	var (
		addrs    = make(map[netip.Addr]bool)
		prefixes []netip.Prefix
	)
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			prefixes = append(prefixes, p)
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			addrs[a] = true
			continue
		}
		log.Warn("unparseable allowlist entry skipped", zap.String("entry", e))
	}

	allowed := func(a netip.Addr) bool {
		if addrs[a] {
			return true
		}
		for _, p := range prefixes {
			if p.Contains(a) {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		if len(addrs) == 0 && len(prefixes) == 0 {
			c.Next()
			return
		}
		a, err := netip.ParseAddr(c.ClientIP())
		if err != nil || !allowed(a.Unmap()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}
