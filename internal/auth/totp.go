package auth

import (
	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret creates a new TOTP secret for enrolling 2FA. The
// returned URL is rendered as a QR code by the client.
func GenerateTOTPSecret(username string) (secret string, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Dockge",
		AccountName: username,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP checks a 6-digit code against a secret.
func ValidateTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}
