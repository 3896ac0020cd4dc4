package account

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/kinga-app/kinga/internal/datastore/entities"
)

const (
	otpMin   = 100000
	otpRange = 900000
)

// GenerateOTP returns a uniformly random 6 digit code in [100000, 999999].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpRange))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

// codeMatches reports whether otp is outstanding, unexpired at now and equal to code.
func codeMatches(otp entities.OTP, code string, now time.Time) bool {
	if !otp.Present() || otp.Expired(now) {
		return false
	}
	code = strings.TrimSpace(code)
	return subtle.ConstantTimeCompare([]byte(*otp.Code), []byte(code)) == 1
}
