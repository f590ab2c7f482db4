package units

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcutil"
)

// Unit identifies how bitcoin amounts are displayed.
type Unit string

const (
	UnitBitcoin      Unit = "bitcoin"
	UnitMilliBitcoin Unit = "milliBitcoin"
	UnitBit          Unit = "bit"
	UnitSatoshi      Unit = "satoshi"
)

type unitInfo struct {
	nice     string
	amtUnit  btcutil.AmountUnit
	decimals int
}

var knownUnits = map[Unit]unitInfo{
	UnitBitcoin:      {nice: "BTC", amtUnit: btcutil.AmountBTC, decimals: 8},
	UnitMilliBitcoin: {nice: "mBTC", amtUnit: btcutil.AmountMilliBTC, decimals: 5},
	UnitBit:          {nice: "bits", amtUnit: btcutil.AmountMicroBTC, decimals: 2},
	UnitSatoshi:      {nice: "sats", amtUnit: btcutil.AmountSatoshi, decimals: 0},
}

// ParseUnit resolves a configured unit name. Matching is case-insensitive.
func ParseUnit(raw string) (Unit, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UnitSatoshi, nil
	}
	for unit := range knownUnits {
		if strings.EqualFold(string(unit), trimmed) {
			return unit, nil
		}
	}
	return "", fmt.Errorf("units: unknown bitcoin unit %q", raw)
}

// Nice returns the short label for the unit.
func (u Unit) Nice() string {
	if info, ok := knownUnits[u]; ok {
		return info.nice
	}
	return knownUnits[UnitSatoshi].nice
}

// FormatBitcoin renders a satoshi amount in the requested unit without a
// trailing label.
func FormatBitcoin(sat int64, unit Unit) string {
	info, ok := knownUnits[unit]
	if !ok {
		info = knownUnits[UnitSatoshi]
	}
	value := btcutil.Amount(sat).ToUnit(info.amtUnit)
	formatted := strconv.FormatFloat(value, 'f', info.decimals, 64)
	if info.decimals > 0 {
		formatted = strings.TrimRight(strings.TrimRight(formatted, "0"), ".")
	}
	return formatted
}

// FormatFiat converts a satoshi amount to fiat using a per-BTC rate and
// renders it with two decimals.
func FormatFiat(sat int64, ratePerBTC float64) string {
	value := btcutil.Amount(sat).ToBTC() * ratePerBTC
	return strconv.FormatFloat(value, 'f', 2, 64)
}
