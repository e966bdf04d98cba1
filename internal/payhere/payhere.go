// Package payhere implements the PayHere checkout and notification
// signatures and the gateway's amount and status conventions.
package payhere

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Status codes posted to the notify URL.
const (
	StatusSuccess     = "2"
	StatusPending     = "0"
	StatusCancelled   = "-1"
	StatusFailed      = "-2"
	StatusChargedBack = "-3"
)

// Credentials identify the merchant account.
type Credentials struct {
	MerchantID string
	Secret     string
}

// Configured reports whether both merchant id and secret are set.
func (c Credentials) Configured() bool {
	return c.MerchantID != "" && c.Secret != ""
}

// CheckoutHash signs a checkout session:
// UPPER(MD5(merchant_id + order_id + amount + currency + UPPER(MD5(secret)))).
func (c Credentials) CheckoutHash(orderID, amount, currency string) string {
	return upperMD5(c.MerchantID + orderID + amount + currency + upperMD5(c.Secret))
}

// NotificationSignature is the md5sig PayHere attaches to a notification.
func (c Credentials) NotificationSignature(orderID, amount, currency, statusCode string) string {
	return upperMD5(c.MerchantID + orderID + amount + currency + statusCode + upperMD5(c.Secret))
}

// Verify checks a notification's merchant id and md5sig. The signature is
// compared in constant time.
func (c Credentials) Verify(merchantID, orderID, amount, currency, statusCode, md5sig string) bool {
	if !c.Configured() {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(merchantID), []byte(c.MerchantID)) != 1 {
		return false
	}
	want := c.NotificationSignature(orderID, amount, currency, statusCode)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToUpper(strings.TrimSpace(md5sig)))) == 1
}

func upperMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// FormatAmount renders cents the way PayHere expects, with two decimals.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseAmount converts a decimal amount such as "1500.00" or "1500" to cents.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("payhere: empty amount")
	}
	neg := strings.HasPrefix(raw, "-")
	if neg {
		raw = raw[1:]
	}
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("payhere: invalid amount %q", raw)
		}
		if len(frac) == 1 {
			frac += "0"
		}
	} else {
		frac = "00"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("payhere: invalid amount %q: %w", raw, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, fmt.Errorf("payhere: invalid amount %q", raw)
	}
	total := units*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}
