// Package loginrisk computes the heuristic risk score attached to every
// new-token login event and feeds privchat_login_logs. This scoring
// step has no counterpart in spec.md's data model beyond the column
// names (status, risk_score, is_new_device, is_new_location) — the
// logic itself is supplemented from the Rust original this spec was
// distilled from.
package loginrisk

import (
	"context"
	"fmt"
	"time"

	"github.com/privchat/privchat/internal/cache"
	"github.com/privchat/privchat/internal/store"
)

const (
	newDeviceScore   = 30
	newLocationScore = 40

	suspiciousThreshold = 30
	blockedThreshold    = 70

	recentLocationWindow = 30 * 24 * time.Hour

	// recentLoginsLimit bounds the history scan; far more than enough
	// distinct IPs to matter for the heuristic, and avoids LIMIT 0's
	// Postgres meaning of "zero rows" rather than "unbounded".
	recentLoginsLimit = 1000

	// tokenLoggedCacheSize/TTL mirror the Rust original's moka L1-only
	// cache in front of is_token_logged, absorbing reconnect storms that
	// would otherwise hit the DB once per retry.
	tokenLoggedCacheSize = 10_000
	tokenLoggedCacheTTL  = 30 * time.Second
)

// Result is the scored outcome of one login attempt.
type Result struct {
	Score         int
	Status        store.LoginStatus
	IsNewDevice   bool
	IsNewLocation bool
	Factors       []string
}

// Scorer computes Result from a user's device and login history.
type Scorer struct {
	devices     store.DeviceRepository
	logins      store.LoginLogRepository
	tokenLogged *cache.Cache
}

// New builds a Scorer. devices and logins back the new-device and
// new-location heuristics respectively.
func New(devices store.DeviceRepository, logins store.LoginLogRepository) *Scorer {
	tokenLogged, _ := cache.New(tokenLoggedCacheSize, nil, tokenLoggedCacheTTL)
	return &Scorer{devices: devices, logins: logins, tokenLogged: tokenLogged}
}

// Score evaluates a login attempt for user userID from deviceID and ip.
// A device absent from the user's known device list, or an IP absent
// from the user's recent (30 day) login history, each add to the score;
// the first login ever for a user doesn't count an empty history as a
// new location, since everything would otherwise look suspicious.
func (s *Scorer) Score(ctx context.Context, userID uint64, deviceID, ip string) (Result, error) {
	var factors []string
	score := 0

	isNewDevice, err := s.isNewDevice(ctx, userID, deviceID)
	if err != nil {
		return Result{}, fmt.Errorf("loginrisk: check device history: %w", err)
	}
	if isNewDevice {
		score += newDeviceScore
		factors = append(factors, "new_device")
	}

	recentIPs, err := s.recentLoginIPs(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("loginrisk: check location history: %w", err)
	}
	isNewLocation := len(recentIPs) > 0 && !contains(recentIPs, ip)
	if isNewLocation {
		score += newLocationScore
		factors = append(factors, "new_location")
	}

	status := store.LoginSuccess
	switch {
	case score >= blockedThreshold:
		status = store.LoginBlocked
	case score >= suspiciousThreshold:
		status = store.LoginSuspicious
	}

	return Result{
		Score:         score,
		Status:        status,
		IsNewDevice:   isNewDevice,
		IsNewLocation: isNewLocation,
		Factors:       factors,
	}, nil
}

func (s *Scorer) isNewDevice(ctx context.Context, userID uint64, deviceID string) (bool, error) {
	devices, err := s.devices.ListForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, d := range devices {
		if d.DeviceID == deviceID {
			return false, nil
		}
	}
	return true, nil
}

func (s *Scorer) recentLoginIPs(ctx context.Context, userID uint64) ([]string, error) {
	since := time.Now().Add(-recentLocationWindow)
	logs, err := s.logins.ListByUser(ctx, userID, since, recentLoginsLimit)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(logs))
	var ips []string
	for _, l := range logs {
		if l.IPAddress == "" {
			continue
		}
		if _, ok := seen[l.IPAddress]; ok {
			continue
		}
		seen[l.IPAddress] = struct{}{}
		ips = append(ips, l.IPAddress)
	}
	return ips, nil
}

// IsTokenLogged reports whether jti already has a login log row,
// checking a short-TTL cache before falling through to storage so a
// client's reconnect retries don't each round-trip the DB.
func (s *Scorer) IsTokenLogged(ctx context.Context, jti string) (bool, error) {
	key := "loginrisk:jti:" + jti
	if _, ok, err := s.tokenLogged.Get(ctx, key); err == nil && ok {
		return true, nil
	}

	logged, err := s.logins.IsTokenLogged(ctx, jti)
	if err != nil {
		return false, fmt.Errorf("loginrisk: is token logged: %w", err)
	}
	if logged {
		_ = s.tokenLogged.Set(ctx, key, []byte("1"))
	}
	return logged, nil
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
