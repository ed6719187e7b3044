package liquidity

import (
	"strconv"
	"strings"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// ParseInvoiceAmountMsats extracts the millisatoshi amount encoded in a
// BOLT-11 invoice's human-readable part, or returns ok=false for an
// amountless invoice. Only the amount suffix is parsed; this is not a
// general BOLT-11 decoder (see DESIGN.md for why the full zpay32 decoder
// from the pack was not wired in for this one extraction).
//
// Grounded on zpay32.Decode's HRP handling (pkg/zpay32/invoice.go in the
// lnd example repo): the HRP is "ln" + network prefix, optionally
// followed by a decimal amount and a single-letter multiplier (m, u, n,
// p for milli/micro/nano/pico bitcoin).
func ParseInvoiceAmountMsats(invoice string) (amountMsats int64, ok bool, err error) {
	hrp, err := bolt11HRP(invoice)
	if err != nil {
		return 0, false, err
	}

	idx := strings.IndexFunc(hrp, func(r rune) bool { return r >= '0' && r <= '9' })
	if idx < 0 {
		return 0, false, nil // amountless invoice
	}

	amountPart := hrp[idx:]
	multiplier := byte(0)
	digits := amountPart
	if last := amountPart[len(amountPart)-1]; last < '0' || last > '9' {
		multiplier = last
		digits = amountPart[:len(amountPart)-1]
	}

	value, convErr := strconv.ParseInt(digits, 10, 64)
	if convErr != nil {
		return 0, false, errs.Wrap(errs.KindInvalidRequest, convErr, "liquidity: invalid invoice amount digits")
	}

	// BOLT-11: amount is in units of the multiplier applied to 1 BTC
	// (100_000_000_000 msat). m=milli(1e-3), u=micro(1e-6), n=nano(1e-9),
	// p=pico(1e-12).
	const oneBTCMsats = 100_000_000_000
	switch multiplier {
	case 'm':
		amountMsats = value * oneBTCMsats / 1_000
	case 'u':
		amountMsats = value * oneBTCMsats / 1_000_000
	case 'n':
		amountMsats = value * oneBTCMsats / 1_000_000_000
	case 'p':
		amountMsats = value * oneBTCMsats / 1_000_000_000_000
	case 0:
		amountMsats = value * oneBTCMsats
	default:
		return 0, false, errs.Newf(errs.KindInvalidRequest, "liquidity: unknown invoice amount multiplier %q", multiplier)
	}

	return amountMsats, true, nil
}

// bolt11HRP extracts the bech32 human-readable part (everything before
// the last '1' separator), lowercased, without decoding the data part.
func bolt11HRP(invoice string) (string, error) {
	invoice = strings.ToLower(strings.TrimSpace(invoice))
	sep := strings.LastIndexByte(invoice, '1')
	if sep < 4 || !strings.HasPrefix(invoice, "ln") {
		return "", errs.New(errs.KindInvalidRequest, "liquidity: not a bolt11 invoice")
	}
	return invoice[:sep], nil
}
