package lightning

import (
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcutil/bech32"
)

// Invoice is the condensed decode of a BOLT11 payment request: just the
// fields the swap engine needs to validate and pay an invoice, rather than
// the full encode/decode round trip a wallet needs. Grounded on
// lnd's zpay32.Invoice, trimmed to the fields that matter here and
// rebuilt against the currently maintained bech32 codec rather than the
// legacy fork the original file imports.
type Invoice struct {
	PaymentHash      [32]byte
	MilliSat         uint64
	Destination      *btcec.PublicKey
	Description      string
	Expiry           time.Duration
	MinFinalCLTVDelta uint64
	Timestamp        time.Time
}

const (
	mSatPerBTC = 100_000_000_000

	fieldTypeP = 1
	fieldTypeD = 13
	fieldTypeN = 19
	fieldTypeH = 23
	fieldTypeX = 6
	fieldTypeC = 24

	defaultExpiry           = 3600 * time.Second
	defaultMinFinalCLTVDelta = 18
)

// DecodeInvoice parses a BOLT11 payment request string down to the fields
// this system needs: payment hash, amount, destination node, description,
// expiry, and minimum final CLTV delta.
func DecodeInvoice(invoice string) (*Invoice, error) {
	hrp, data, err := decodeBech32(invoice)
	if err != nil {
		return nil, fmt.Errorf("invalid bolt11 invoice: %w", err)
	}

	milliSat, err := parseAmount(hrp)
	if err != nil {
		return nil, err
	}

	if len(data) < 7 {
		return nil, fmt.Errorf("invoice data too short")
	}
	timestamp := parseTimestamp(data[:7])

	sigStart := len(data) - 104
	if sigStart < 7 {
		return nil, fmt.Errorf("invoice missing signature")
	}
	taggedFields := data[7:sigStart]

	inv := &Invoice{
		MilliSat:          milliSat,
		Timestamp:         timestamp,
		Expiry:            defaultExpiry,
		MinFinalCLTVDelta: defaultMinFinalCLTVDelta,
	}

	if err := parseTaggedFields(inv, taggedFields); err != nil {
		return nil, err
	}

	return inv, nil
}

// decodeBech32 decodes invoice with bech32's standard-length restriction
// lifted: BOLT11 invoices routinely exceed the 90-character limit BIP173
// addresses are held to, so the BIP173 decoder can't be used directly.
func decodeBech32(invoice string) (string, []byte, error) {
	lower := strings.ToLower(invoice)
	if !strings.HasPrefix(lower, "ln") {
		return "", nil, fmt.Errorf("not a lightning invoice")
	}

	hrp, data, err := bech32.DecodeNoLimit(invoice)
	if err != nil {
		return "", nil, err
	}
	return hrp, data, nil
}

// parseAmount extracts the amount in millisatoshis from the human-readable
// part (e.g. "lnbc2500u" => 2500 * 100 sat => 250,000,000 msat). A bare
// "lnbc" with no amount is a valid "any amount" invoice, returned as 0.
func parseAmount(hrp string) (uint64, error) {
	prefix := "ln"
	for _, currency := range []string{"bc", "tb", "ltc", "tltc"} {
		if strings.HasPrefix(hrp[len(prefix):], currency) {
			prefix += currency
			break
		}
	}
	amountPart := hrp[len(prefix):]
	if amountPart == "" {
		return 0, nil
	}

	multiplier := amountPart[len(amountPart)-1]
	digits := amountPart[:len(amountPart)-1]

	var divisor uint64
	switch multiplier {
	case 'm':
		divisor = 1_000
	case 'u':
		divisor = 1_000_000
	case 'n':
		divisor = 1_000_000_000
	case 'p':
		divisor = 1_000_000_000_000
	default:
		digits = amountPart
		divisor = 1
	}

	var value uint64
	if _, err := fmt.Sscanf(digits, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid invoice amount %q: %w", amountPart, err)
	}

	return value * mSatPerBTC / divisor, nil
}

func parseTimestamp(data []byte) time.Time {
	value := base32ToUint64(data)
	return time.Unix(int64(value), 0)
}

func parseTaggedFields(inv *Invoice, fields []byte) error {
	for len(fields) > 0 {
		if len(fields) < 3 {
			return fmt.Errorf("truncated tagged field")
		}

		fieldType := fields[0]
		dataLen := int(base32ToUint64(fields[1:3]))
		fields = fields[3:]

		if len(fields) < dataLen {
			return fmt.Errorf("truncated tagged field data")
		}
		fieldData := fields[:dataLen]
		fields = fields[dataLen:]

		switch fieldType {
		case fieldTypeP:
			hash, err := base32ToBytes(fieldData, 32)
			if err != nil {
				return fmt.Errorf("invalid payment hash field: %w", err)
			}
			copy(inv.PaymentHash[:], hash)

		case fieldTypeN:
			pubKeyBytes, err := base32ToBytes(fieldData, 33)
			if err != nil {
				return fmt.Errorf("invalid destination field: %w", err)
			}
			pubKey, err := btcec.ParsePubKey(pubKeyBytes)
			if err != nil {
				return fmt.Errorf("invalid destination pubkey: %w", err)
			}
			inv.Destination = pubKey

		case fieldTypeD:
			desc, err := bech32.ConvertBits(fieldData, 5, 8, false)
			if err != nil {
				return fmt.Errorf("invalid description field: %w", err)
			}
			inv.Description = string(desc)

		case fieldTypeH:
			// description hash: not needed for swap validation,
			// skip.

		case fieldTypeX:
			inv.Expiry = time.Duration(base32ToUint64(fieldData)) * time.Second

		case fieldTypeC:
			inv.MinFinalCLTVDelta = base32ToUint64(fieldData)
		}
	}

	return nil
}

func base32ToBytes(data []byte, expectedLen int) ([]byte, error) {
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(converted) < expectedLen {
		return nil, fmt.Errorf("expected %d bytes, got %d", expectedLen, len(converted))
	}
	return converted[:expectedLen], nil
}

func base32ToUint64(data []byte) uint64 {
	var value uint64
	for _, group := range data {
		value = value<<5 | uint64(group)
	}
	return value
}
