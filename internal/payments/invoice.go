package payments

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

var ErrInvalidInvoice = errors.New("invalid lightning invoice")

// ValidateInvoice checks that a BOLT11 payment request is well-formed bech32
// and that its human-readable part targets network ("bc", "tb", "bcrt"...).
func ValidateInvoice(invoice, network string) error {
	invoice = strings.ToLower(strings.TrimSpace(invoice))
	invoice = strings.TrimPrefix(invoice, "lightning:")
	hrp, _, err := bech32.DecodeNoLimit(invoice)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}
	if network == "" {
		network = "bc"
	}
	rest, ok := strings.CutPrefix(hrp, "ln"+network)
	if !ok || (rest != "" && (rest[0] < '0' || rest[0] > '9')) {
		return fmt.Errorf("%w: prefix %q does not match network %q", ErrInvalidInvoice, hrp, network)
	}
	return nil
}
