// Package devicestate implements the device side of component F: the
// Active/Kicked state machine and the verification predicate used by the
// auth handler, plus the token revocation paths that act on devices.
package devicestate

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/privchat/privchat/internal/auth/jwttoken"
	"github.com/privchat/privchat/internal/store"
)

// VerifyOutcome classifies the result of verifying a device session,
// matching AuthorizationResponse's failure codes in spec §6.
type VerifyOutcome string

const (
	Valid               VerifyOutcome = "VALID"
	InvalidToken        VerifyOutcome = "INVALID_TOKEN"
	TokenRevoked        VerifyOutcome = "TOKEN_REVOKED"
	DeviceIDMismatch    VerifyOutcome = "DEVICE_ID_MISMATCH"
	DeviceNotFound      VerifyOutcome = "DEVICE_NOT_FOUND"
	SessionInactive     VerifyOutcome = "SESSION_INACTIVE"
	TokenVersionMismatch VerifyOutcome = "TOKEN_VERSION_MISMATCH"
)

// Manager coordinates the device repository and the token authenticator to
// implement the five-step verification in spec §4.F.
type Manager struct {
	devices store.DeviceRepository
	tokens  *jwttoken.TokenAuth
}

// New builds a Manager.
func New(devices store.DeviceRepository, tokens *jwttoken.TokenAuth) *Manager {
	return &Manager{devices: devices, tokens: tokens}
}

// VerifyConnection implements spec §4.F's five verification steps for an
// AuthorizationRequest: signature/iss/aud/exp (delegated to tokens.Verify),
// jti revocation, device existence + session_version, device session
// state, and device_id match.
func (m *Manager) VerifyConnection(ctx context.Context, tokenString, declaredDeviceID string) (VerifyOutcome, *jwttoken.Claims, error) {
	claims, err := m.tokens.Verify(tokenString)
	if err != nil {
		switch err {
		case jwttoken.ErrRevoked:
			return TokenRevoked, nil, nil
		case jwttoken.ErrExpired, jwttoken.ErrInvalidSignature, jwttoken.ErrMalformed:
			return InvalidToken, nil, nil
		default:
			return InvalidToken, nil, fmt.Errorf("devicestate: verify token: %w", err)
		}
	}

	if claims.DeviceID != declaredDeviceID {
		return DeviceIDMismatch, nil, nil
	}

	userID, err := parseUserID(claims.Subject)
	if err != nil {
		return InvalidToken, nil, nil
	}

	result, err := m.devices.VerifyDeviceSession(ctx, userID, claims.DeviceID, claims.SessionVersion)
	if err != nil {
		return "", nil, fmt.Errorf("devicestate: verify device session: %w", err)
	}
	if result.DeviceNotFound {
		return DeviceNotFound, nil, nil
	}
	if result.SessionInactive {
		return SessionInactive, nil, nil
	}
	if result.VersionMismatch {
		return TokenVersionMismatch, nil, nil
	}
	return Valid, claims, nil
}

// KickDevice implements the "soft kick" path: bump session_version so
// existing tokens fail with TokenVersionMismatch at their next use.
func (m *Manager) KickDevice(ctx context.Context, deviceID string) (newVersion uint64, err error) {
	return m.devices.BumpSessionVersion(ctx, deviceID)
}

// BanDevice implements the "kicked" device-state transition (as opposed to
// a version bump): the device rejects all connections until a new token is
// issued, at which point ReactivateDevice must be called.
func (m *Manager) BanDevice(ctx context.Context, deviceID, reason string) error {
	return m.devices.SetSessionState(ctx, deviceID, store.SessionKicked, reason)
}

// ReactivateDevice transitions Kicked back to Active, called when a new
// token is issued for a previously kicked device.
func (m *Manager) ReactivateDevice(ctx context.Context, deviceID string) error {
	return m.devices.SetSessionState(ctx, deviceID, store.SessionActive, "")
}

// RevokeDevice revokes the single device's current token and deletes its
// device record.
func (m *Manager) RevokeDevice(ctx context.Context, deviceID string) error {
	d, err := m.devices.Get(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("devicestate: revoke device: %w", err)
	}
	if d.TokenJTI != "" {
		m.tokens.Revoke(d.TokenJTI)
	}
	return m.devices.Delete(ctx, deviceID)
}

// RevokeAllDevices revokes every token and deletes every device record for
// a user.
func (m *Manager) RevokeAllDevices(ctx context.Context, userID uint64) error {
	devices, err := m.devices.ListForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("devicestate: revoke all devices: list: %w", err)
	}
	for _, d := range devices {
		if d.TokenJTI != "" {
			m.tokens.Revoke(d.TokenJTI)
		}
	}
	return m.devices.DeleteAllForUser(ctx, userID)
}

// NewDeviceID generates a server-side device ID for legacy clients that
// don't supply their own UUID.
func NewDeviceID() string {
	return uuid.NewString()
}

func parseUserID(subject string) (uint64, error) {
	var id uint64
	_, err := fmt.Sscanf(subject, "%d", &id)
	return id, err
}
