package geocoding

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Precision records which address tier produced a match.
type Precision string

const (
	PrecisionExact  Precision = "exact"
	PrecisionStreet Precision = "street"
	PrecisionCity   Precision = "city"
)

// Match is one geocoder hit.
type Match struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
}

// Geocoder looks up a free-form address. A nil match with a nil error means no hit.
type Geocoder interface {
	Lookup(ctx context.Context, address string) (*Match, error)
}

// GeocoderFunc adapts a function to Geocoder.
type GeocoderFunc func(ctx context.Context, address string) (*Match, error)

// Lookup calls f.
func (f GeocoderFunc) Lookup(ctx context.Context, address string) (*Match, error) {
	return f(ctx, address)
}

// Result is a resolved address.
type Result struct {
	Match
	Precision Precision
}

var streetNumber = regexp.MustCompile(`\s+\d+.*$`)

type attempt struct {
	address   string
	precision Precision
}

// Resolve tries the full address, then the street without its number, then the trailing city
// parts. Lookup errors count as a miss for their tier.
func Resolve(ctx context.Context, geocoder Geocoder, address string) (*Result, error) {
	return resolve(ctx, geocoder, address, zap.NewNop())
}

func resolve(ctx context.Context, geocoder Geocoder, address string, logger *zap.Logger) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	for _, candidate := range fallbackAttempts(address) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		match, err := geocoder.Lookup(ctx, candidate.address)
		if err != nil {
			logger.Debug("geocoding lookup failed",
				zap.String("precision", string(candidate.precision)),
				zap.String("address", candidate.address),
				zap.Error(err))
			continue
		}
		if match == nil {
			logger.Debug("geocoding lookup missed",
				zap.String("precision", string(candidate.precision)),
				zap.String("address", candidate.address))
			continue
		}
		return &Result{Match: *match, Precision: candidate.precision}, nil
	}
	return nil, nil
}

func fallbackAttempts(address string) []attempt {
	attempts := []attempt{{address: address, precision: PrecisionExact}}
	parts := strings.Split(address, ",")
	for index := range parts {
		parts[index] = strings.TrimSpace(parts[index])
	}
	if len(parts) < 2 {
		return attempts
	}

	street := strings.TrimSpace(streetNumber.ReplaceAllString(parts[0], ""))
	if street != "" && street != parts[0] {
		withoutNumber := append([]string{street}, parts[1:]...)
		attempts = append(attempts, attempt{address: strings.Join(withoutNumber, ", "), precision: PrecisionStreet})
	}

	tail := parts[len(parts)-2:]
	if len(parts) >= 3 {
		tail = parts[len(parts)-3:]
	}
	attempts = append(attempts, attempt{address: strings.Join(tail, ", "), precision: PrecisionCity})
	return attempts
}
