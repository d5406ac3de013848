package lists

import (
	"github.com/nexshop/nexid/internal/config"
	"github.com/nexshop/nexid/internal/risk"
)

// FromConfig returns the comma separated lists read from the environment.
func FromConfig(cfg *config.Config) *Static {
	return NewStatic("env").
		Add(Trusted, risk.KindIP, cfg.TrustedIPs...).
		Add(Blocked, risk.KindIP, cfg.BlockedIPs...).
		Add(Trusted, risk.KindEmailHash, cfg.TrustedEmailHashes...).
		Add(Blocked, risk.KindEmailHash, cfg.BlockedEmailHashes...).
		Add(Trusted, risk.KindUserID, cfg.TrustedUserIDs...).
		Add(Blocked, risk.KindUserID, cfg.BlockedUserIDs...)
}
