// README: Delivery confirmation OTP generation.
package order

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// newDeliveryOTP returns a uniform 4-digit code ("0000".."9999").
// Collisions across orders are allowed; the OTP is only compared against its
// own shop-order.
func newDeliveryOTP() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	n := binary.BigEndian.Uint64(b[:]) % 10000
	return fmt.Sprintf("%04d", n)
}

// validOTPFormat rejects anything that is not exactly four ASCII digits
// before the stored code is even consulted.
func validOTPFormat(otp string) bool {
	if len(otp) != 4 {
		return false
	}
	for _, c := range otp {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
