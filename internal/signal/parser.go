// Package signal classifies inbound records into initial signals and
// follow-up alerts, parses their content, and routes them to the trade and
// alert coordinators.
package signal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

// ParseTimestamp parses a millisecond-precision ISO-8601 instant. The
// trailing Z is normalized off before parsing so "2025-08-01T12:30:45.123Z"
// and "2025-08-01T12:30:45.123" bind to the same row.
func ParseTimestamp(value string) (time.Time, error) {
	normalized := strings.TrimSuffix(strings.TrimSpace(value), "Z")
	for _, layout := range []string{
		"2006-01-02T15:04:05.000",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
	} {
		if t, err := time.ParseInLocation(layout, normalized, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

// ParseStructured parses the pipe-delimited structured form:
//
//	LIMIT|HYPE|Entry:|32.2-31.5|SL:|30.7|TP:|34.0
//
// Segment tags (Entry:, SL:, TP:) are followed by their value segment.
func ParseStructured(structured string) (*domain.ParsedSignal, error) {
	parts := strings.Split(structured, "|")
	if len(parts) < 2 {
		return nil, fmt.Errorf("structured signal %q has too few segments", structured)
	}

	parsed := &domain.ParsedSignal{
		OrderType:  domain.OrderType(strings.ToUpper(strings.TrimSpace(parts[0]))),
		CoinSymbol: strings.ToUpper(strings.TrimSpace(parts[1])),
	}
	if parsed.OrderType != domain.OrderTypeMarket && parsed.OrderType != domain.OrderTypeLimit {
		return nil, fmt.Errorf("unknown order type %q in structured signal", parts[0])
	}
	if parsed.CoinSymbol == "" {
		return nil, fmt.Errorf("structured signal %q missing coin symbol", structured)
	}

	for i := 2; i < len(parts)-1; i++ {
		tag := strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(parts[i]), ":"))
		value := strings.TrimSpace(parts[i+1])
		switch tag {
		case "ENTRY":
			prices, err := parsePriceList(value)
			if err != nil {
				return nil, fmt.Errorf("bad entry prices %q: %w", value, err)
			}
			parsed.EntryPrices = prices
			i++
		case "SL":
			sl, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("bad stop loss %q: %w", value, err)
			}
			parsed.StopLoss = &sl
			i++
		case "TP":
			tps, err := parsePriceList(value)
			if err != nil {
				return nil, fmt.Errorf("bad take profits %q: %w", value, err)
			}
			parsed.TakeProfits = tps
			i++
		case "X":
			mult, err := strconv.Atoi(value)
			if err != nil || mult < 1 {
				return nil, fmt.Errorf("bad quantity multiplier %q", value)
			}
			parsed.QuantityMultiplier = mult
			i++
		}
	}

	if len(parsed.EntryPrices) == 0 {
		return nil, fmt.Errorf("structured signal %q has no entry prices", structured)
	}

	// Direction: a range lists the aggressive bound first; SL below entry
	// means long, above means short. Default long.
	parsed.PositionType = inferDirection(parsed)
	return parsed, nil
}

// ParseContent extracts a signal from free text, e.g.
// "HYPE long 32.2-31.5 SL 30.7". Used when no structured form arrived.
func ParseContent(content string) (*domain.ParsedSignal, error) {
	fields := strings.Fields(content)
	if len(fields) < 2 {
		return nil, fmt.Errorf("signal content %q too short to parse", content)
	}

	parsed := &domain.ParsedSignal{
		CoinSymbol: strings.ToUpper(strings.Trim(fields[0], "$#")),
		OrderType:  domain.OrderTypeLimit,
	}

	expectSL, expectTP := false, false
	for _, f := range fields[1:] {
		lower := strings.ToLower(strings.Trim(f, ",:"))
		switch {
		case lower == "long":
			parsed.PositionType = domain.Long
		case lower == "short":
			parsed.PositionType = domain.Short
		case lower == "market":
			parsed.OrderType = domain.OrderTypeMarket
		case lower == "limit":
			parsed.OrderType = domain.OrderTypeLimit
		case lower == "sl" || lower == "stop" || lower == "stoploss":
			expectSL = true
		case lower == "tp" || lower == "target" || lower == "targets":
			expectTP = true
		default:
			prices, err := parsePriceList(lower)
			if err != nil {
				continue // free text noise
			}
			switch {
			case expectSL && len(prices) == 1:
				parsed.StopLoss = &prices[0]
				expectSL = false
			case expectTP:
				parsed.TakeProfits = append(parsed.TakeProfits, prices...)
			case len(parsed.EntryPrices) == 0:
				parsed.EntryPrices = prices
			default:
				parsed.TakeProfits = append(parsed.TakeProfits, prices...)
			}
		}
	}

	if parsed.CoinSymbol == "" || len(parsed.EntryPrices) == 0 {
		return nil, fmt.Errorf("signal content %q missing coin or entry prices", content)
	}
	if parsed.PositionType == "" {
		parsed.PositionType = inferDirection(parsed)
	}
	return parsed, nil
}

// parsePriceList parses "32.2" or a range "32.2-31.5" into 1 or 2 values.
func parsePriceList(value string) ([]float64, error) {
	parts := strings.Split(value, "-")
	if len(parts) > 2 {
		return nil, fmt.Errorf("more than two prices in %q", value)
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("non-positive price in %q", value)
		}
		out = append(out, v)
	}
	return out, nil
}

func inferDirection(p *domain.ParsedSignal) domain.PositionType {
	if p.StopLoss != nil && len(p.EntryPrices) > 0 {
		low := p.EntryPrices[0]
		for _, e := range p.EntryPrices[1:] {
			if e < low {
				low = e
			}
		}
		if *p.StopLoss > low {
			return domain.Short
		}
	}
	return domain.Long
}
