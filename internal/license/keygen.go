// internal/license/keygen.go
package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/keygen-sh/keygen-go/v3"
	"go.uber.org/zap"
)

// KeygenValidator gates startup on a valid Keygen.sh license.
type KeygenValidator struct {
	logger    *zap.Logger
	accountID string
	productID string
}

// NewKeygenValidator configures the global Keygen client and returns a
// validator.
func NewKeygenValidator(accountID, productToken, productID string, logger *zap.Logger) *KeygenValidator {
	keygen.Account = accountID
	keygen.Product = productID
	keygen.Token = productToken
	keygen.PublicKey = ""

	return &KeygenValidator{
		logger:    logger.Named("license"),
		accountID: accountID,
		productID: productID,
	}
}

// ValidateLicense validates the key against this machine, activating it when
// the machine is not yet registered.
func (kv *KeygenValidator) ValidateLicense(ctx context.Context, licenseKey string) error {
	if len(licenseKey) < 8 {
		return fmt.Errorf("license key is too short")
	}
	kv.logger.Info("Validating license: " + licenseKey[:8] + "...")

	fingerprint, err := kv.generateFingerprint()
	if err != nil {
		return fmt.Errorf("failed to generate machine fingerprint: %w", err)
	}

	keygen.LicenseKey = licenseKey

	license, err := keygen.Validate(ctx, fingerprint)
	switch {
	case err == keygen.ErrLicenseNotActivated:
		kv.logger.Info("License not activated, attempting activation")
		machine, activateErr := license.Activate(ctx, fingerprint)
		if activateErr != nil {
			return fmt.Errorf("failed to activate license: %w", activateErr)
		}
		kv.logger.Info("License activated",
			zap.String("machine_id", machine.ID),
			zap.String("fingerprint", fingerprint))

	case err == keygen.ErrLicenseExpired:
		return fmt.Errorf("license has expired")

	case err != nil:
		return fmt.Errorf("license validation failed: %w", err)
	}

	if license == nil {
		return fmt.Errorf("license not found")
	}

	kv.logger.Info("License valid", zap.String("license_id", license.ID))
	return nil
}

// HeartbeatLicense re-validates to keep the machine activation alive.
func (kv *KeygenValidator) HeartbeatLicense(ctx context.Context, licenseKey string) error {
	keygen.LicenseKey = licenseKey

	fingerprint, err := kv.generateFingerprint()
	if err != nil {
		return fmt.Errorf("failed to generate machine fingerprint: %w", err)
	}

	if _, err := keygen.Validate(ctx, fingerprint); err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}

	kv.logger.Debug("License heartbeat sent")
	return nil
}

// generateFingerprint hashes hostname, primary MAC address and OS into a
// stable machine identity.
func (kv *KeygenValidator) generateFingerprint() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	var macAddresses []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			macAddresses = append(macAddresses, iface.HardwareAddr.String())
		}
	}
	if len(macAddresses) == 0 {
		return "", fmt.Errorf("no network interfaces found")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	data := fmt.Sprintf("%s-%s-%s", hostname, macAddresses[0], runtime.GOOS)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash), nil
}
