package validation

import (
	"net/url"
	"slices"
	"strings"

	apperrors "github.com/vouchersnap/vouchersnap/internal/errors"
)

// DefaultSchemes are the remote source schemes accepted by default.
var DefaultSchemes = []string{"http", "https", "azblob"}

// URLValidator checks remote image references before they are fetched.
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
}

// NewURLValidator accepts http, https and azblob references from any host.
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedSchemes: slices.Clone(DefaultSchemes),
		allowedHosts:   []string{}, // empty means all hosts allowed
	}
}

// NewURLValidatorWithOptions creates a URL validator with custom options.
// hosts restricts http(s) references only; azblob references name a
// container rather than a host.
func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	return &URLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// ValidateSource validates a remote image reference.
func (v *URLValidator) ValidateSource(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return apperrors.NewValidationError("URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(ref)
	if err != nil {
		return apperrors.NewValidationError("Invalid URL format", err)
	}

	if !v.isSchemeAllowed(parsedURL.Scheme) {
		return apperrors.NewValidationError("URL scheme not allowed", nil)
	}

	if parsedURL.Host == "" {
		return apperrors.NewValidationError("URL must have a valid host", nil)
	}

	if parsedURL.Scheme == "azblob" {
		if strings.Trim(parsedURL.Path, "/") == "" {
			return apperrors.NewValidationError("Blob reference must name a blob", nil)
		}
		return nil
	}

	if !v.isHostAllowed(parsedURL.Hostname()) {
		return apperrors.NewValidationError("URL host not allowed", nil)
	}

	return nil
}

// isSchemeAllowed checks if the URL scheme is in the allowed list
func (v *URLValidator) isSchemeAllowed(scheme string) bool {
	return slices.Contains(v.allowedSchemes, strings.ToLower(scheme))
}

// isHostAllowed checks if the URL host is in the allowed list
// Returns true if no host restrictions are set (empty allowedHosts)
func (v *URLValidator) isHostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	return slices.ContainsFunc(v.allowedHosts, func(allowed string) bool {
		return strings.EqualFold(host, allowed)
	})
}
