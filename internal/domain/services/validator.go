package services

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"threatpulse/internal/domain/models"
)

// MaxIndicatorLength caps any indicator string accepted from a feed
const MaxIndicatorLength = 500

// Validation errors
var (
	ErrInvalidIndicator  = errors.New("invalid indicator")
	ErrEmptyIndicator    = fmt.Errorf("%w: empty", ErrInvalidIndicator)
	ErrIndicatorTooLong  = fmt.Errorf("%w: too long", ErrInvalidIndicator)
	ErrIndicatorCharset  = fmt.Errorf("%w: control or whitespace characters", ErrInvalidIndicator)
	ErrIndicatorMismatch = fmt.Errorf("%w: does not match declared type", ErrInvalidIndicator)
	ErrIndicatorShape    = fmt.Errorf("%w: unrecognized shape", ErrInvalidIndicator)
)

var domainPattern = regexp.MustCompile(`^[a-z0-9_]([a-z0-9_-]*[a-z0-9])?(\.[a-z0-9_]([a-z0-9_-]*[a-z0-9])?)*\.[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Validator rejects malformed or unsafe indicator strings
type Validator struct {
	maxLength int
}

// NewValidator creates a Validator with the default length cap
func NewValidator() *Validator {
	return &Validator{maxLength: MaxIndicatorLength}
}

// Validate checks an indicator against its declared type. An empty or
// "unknown" type accepts any recognized shape.
func (v *Validator) Validate(indicator string, t models.IndicatorType) error {
	if indicator == "" {
		return ErrEmptyIndicator
	}
	if len(indicator) > v.maxLength {
		return ErrIndicatorTooLong
	}
	for _, r := range indicator {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ErrIndicatorCharset
		}
	}

	switch t {
	case "", models.IndicatorTypeUnknown:
		if InferType(indicator) == models.IndicatorTypeUnknown {
			return ErrIndicatorShape
		}
		return nil
	default:
		if !matchesType(indicator, t) {
			return ErrIndicatorMismatch
		}
		return nil
	}
}

func matchesType(indicator string, t models.IndicatorType) bool {
	switch t {
	case models.IndicatorTypeIP:
		return net.ParseIP(indicator) != nil
	case models.IndicatorTypeIPv4:
		ip := net.ParseIP(indicator)
		return ip != nil && ip.To4() != nil && !strings.Contains(indicator, ":")
	case models.IndicatorTypeIPv6:
		return net.ParseIP(indicator) != nil && strings.Contains(indicator, ":")
	case models.IndicatorTypeDomain, models.IndicatorTypeHost:
		return isValidDomain(strings.ToLower(indicator))
	case models.IndicatorTypeURL:
		return isValidURL(indicator)
	case models.IndicatorTypeMD5:
		return len(indicator) == 32 && isHexString(indicator)
	case models.IndicatorTypeSHA1:
		return len(indicator) == 40 && isHexString(indicator)
	case models.IndicatorTypeSHA256:
		return len(indicator) == 64 && isHexString(indicator)
	default:
		return false
	}
}

// InferType guesses the type of an undeclared indicator
func InferType(indicator string) models.IndicatorType {
	if ip := net.ParseIP(indicator); ip != nil {
		if strings.Contains(indicator, ":") {
			return models.IndicatorTypeIPv6
		}
		return models.IndicatorTypeIPv4
	}
	if isHexString(indicator) {
		switch len(indicator) {
		case 32:
			return models.IndicatorTypeMD5
		case 40:
			return models.IndicatorTypeSHA1
		case 64:
			return models.IndicatorTypeSHA256
		}
	}
	if isValidURL(indicator) {
		return models.IndicatorTypeURL
	}
	if isValidDomain(strings.ToLower(indicator)) {
		return models.IndicatorTypeDomain
	}
	return models.IndicatorTypeUnknown
}

// isValidDomain checks hostname grammar; at least two labels, alphabetic TLD
func isValidDomain(domain string) bool {
	if len(domain) < 3 || len(domain) > 253 {
		return false
	}
	if !strings.Contains(domain, ".") || strings.Contains(domain, "..") {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 {
			return false
		}
	}
	return domainPattern.MatchString(domain)
}

func isValidURL(raw string) bool {
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Hostname() != ""
}

// isHexString checks if a string contains only hex characters
func isHexString(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
