package auth

import (
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/griffithind/dockge/internal/errors"
)

// TokenPayload is the claim set carried by a bearer token. Tokens do not
// expire; they are revoked by rotating the signing secret or changing the
// password (which changes the fingerprint).
type TokenPayload struct {
	Username string
	// PasswordFingerprint is the SHAKE256-128 hex digest of the stored
	// password hash at issue time.
	PasswordFingerprint string
}

// CreateToken signs a bearer token for a user. passwordHash is the
// stored bcrypt hash, not the plaintext.
func CreateToken(username, passwordHash, secret string) (string, error) {
	token, err := jwt.NewBuilder().
		Claim("username", username).
		Claim("h", Shake256(passwordHash, Shake256Length)).
		Build()
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryAuth, errors.CodeInternal, "token build failed")
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(secret)))
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryAuth, errors.CodeInternal, "token sign failed")
	}
	return string(signed), nil
}

// VerifyToken checks the signature and extracts the payload.
func VerifyToken(tokenString, secret string) (*TokenPayload, error) {
	token, err := jwt.Parse([]byte(tokenString),
		jwt.WithKey(jwa.HS256, []byte(secret)),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, errors.InvalidToken().WithCause(err)
	}

	username, ok := token.Get("username")
	if !ok {
		return nil, errors.InvalidToken()
	}
	fingerprint, ok := token.Get("h")
	if !ok {
		return nil, errors.InvalidToken()
	}

	usernameStr, ok := username.(string)
	if !ok {
		return nil, errors.InvalidToken()
	}
	fingerprintStr, ok := fingerprint.(string)
	if !ok {
		return nil, errors.InvalidToken()
	}

	return &TokenPayload{
		Username:            usernameStr,
		PasswordFingerprint: fingerprintStr,
	}, nil
}
