// Package sites implements the check-in clients for the supported reward
// sites. Each client performs a full session: login (with an optional TOTP
// second step), the check-in call, and a balance read, then renders a
// user-facing report.
package sites

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	SiteAcck  = "acck"
	SiteAkile = "akile"

	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36"
)

var ErrUnknownSite = errors.New("unknown site")

// Credentials is one decrypted set of site credentials.
type Credentials struct {
	Email      string
	Password   string
	TOTPSecret string
}

// Balance is the post-check-in account balance. Money is in yuan, already
// converted from the API's cent representation.
type Balance struct {
	AKCoin string
	Money  float64
}

// Result is the outcome of one check-in run. Success covers the
// already-checked-in-today case as well as a fresh check-in.
type Result struct {
	Success bool
	Message string
	Balance *Balance
}

// Report renders the result the way users see it in chat.
func (r Result) Report() string {
	var b strings.Builder
	if r.Success {
		b.WriteString("签到结果: 成功\n")
	} else {
		b.WriteString("签到结果: 失败\n")
	}
	b.WriteString("信息: " + r.Message)
	if r.Balance != nil {
		fmt.Fprintf(&b, "\nAK币: %s，现金: ¥%.2f", r.Balance.AKCoin, r.Balance.Money)
	}
	return b.String()
}

// Client is one site's check-in flow. Implementations never return an error
// for a failed check-in; that is reported through Result. Errors are reserved
// for transport and protocol failures.
type Client interface {
	Name() string
	CheckIn(ctx context.Context, creds Credentials) (Result, error)
}

// DisplayName maps a site key to the capitalized form used in task IDs and
// chat messages.
func DisplayName(site string) string {
	switch site {
	case SiteAcck:
		return "Acck"
	case SiteAkile:
		return "Akile"
	default:
		return site
	}
}

// Normalize lowercases and validates a site key.
func Normalize(site string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(site)) {
	case SiteAcck:
		return SiteAcck, nil
	case SiteAkile:
		return SiteAkile, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSite, site)
	}
}
