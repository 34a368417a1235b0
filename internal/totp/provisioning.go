package totp

import (
	"bytes"
	"fmt"
	"image/png"
	"net/url"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// ProvisioningURI builds otpauth://totp/{label}?secret={secret}&issuer={issuer}
// with every component percent-encoded on its own.
func ProvisioningURI(secret, accountLabel, issuer string) string {
	return "otpauth://totp/" + escapeComponent(accountLabel) +
		"?secret=" + escapeComponent(secret) +
		"&issuer=" + escapeComponent(issuer)
}

// spaces become %20 rather than '+', which is valid in both the path and the
// query of the URI.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// QRCodePNG renders uri as a size x size PNG QR code.
func QRCodePNG(uri string, size int) ([]byte, error) {
	code, err := qr.Encode(uri, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("totp: encode qr: %w", err)
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("totp: scale qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("totp: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
