package validation

import (
	"testing"

	apperrors "github.com/vouchersnap/vouchersnap/internal/errors"
)

func expectMessage(t *testing.T, ref string, err error, want string) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected '%s' to fail validation", ref)
		return
	}
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		t.Errorf("Expected AppError, got: %T", err)
		return
	}
	if appErr.Message != want {
		t.Errorf("Expected '%s' error for '%s', got: %s", want, ref, appErr.Message)
	}
}

func TestNewURLValidator(t *testing.T) {
	validator := NewURLValidator()
	if validator == nil {
		t.Fatal("Expected non-nil URL validator")
	}

	expectedSchemes := []string{"http", "https", "azblob"}
	if len(validator.allowedSchemes) != len(expectedSchemes) {
		t.Errorf("Expected %d schemes, got %d", len(expectedSchemes), len(validator.allowedSchemes))
	}
	for i, scheme := range expectedSchemes {
		if validator.allowedSchemes[i] != scheme {
			t.Errorf("Expected scheme %s, got %s", scheme, validator.allowedSchemes[i])
		}
	}

	// Mutating the package default must not leak into existing validators
	validator.allowedSchemes[0] = "gopher"
	if DefaultSchemes[0] != "http" {
		t.Error("Expected DefaultSchemes to be copied")
	}
}

func TestValidateSource_Valid(t *testing.T) {
	validator := NewURLValidator()

	validRefs := []string{
		"http://example.com/voucher.jpg",
		"https://static.inaturalist.org/photos/1/original.jpeg",
		"HTTPS://Example.com/IMG_0001.JPG",
		"http://192.168.1.1:8080/image.jpg",
		"azblob://vouchers/2024/05/IMG_0001.jpg",
	}

	for _, ref := range validRefs {
		if err := validator.ValidateSource(ref); err != nil {
			t.Errorf("Expected '%s' to pass validation, got error: %v", ref, err)
		}
	}
}

func TestValidateSource_Empty(t *testing.T) {
	validator := NewURLValidator()
	for _, ref := range []string{"", "   ", "\t\n"} {
		expectMessage(t, ref, validator.ValidateSource(ref), "URL cannot be empty")
	}
}

func TestValidateSource_InvalidFormat(t *testing.T) {
	validator := NewURLValidator()
	for _, ref := range []string{"not-a-url", "://missing-scheme", "/tmp/local.jpg"} {
		if err := validator.ValidateSource(ref); err == nil {
			t.Errorf("Expected invalid reference '%s' to fail validation", ref)
		}
	}
}

func TestValidateSource_NoHost(t *testing.T) {
	validator := NewURLValidator()
	for _, ref := range []string{"http://", "https://", "http:///path", "azblob:///blob.jpg"} {
		expectMessage(t, ref, validator.ValidateSource(ref), "URL must have a valid host")
	}
}

func TestValidateSource_BlobWithoutName(t *testing.T) {
	validator := NewURLValidator()
	for _, ref := range []string{"azblob://vouchers", "azblob://vouchers/"} {
		expectMessage(t, ref, validator.ValidateSource(ref), "Blob reference must name a blob")
	}
}

func TestValidateSource_InvalidScheme(t *testing.T) {
	validator := NewURLValidator()

	refs := []string{
		"ftp://example.com/image.jpg",
		"file://local/path/image.jpg",
		"s3://bucket/image.jpg",
	}
	for _, ref := range refs {
		expectMessage(t, ref, validator.ValidateSource(ref), "URL scheme not allowed")
	}
}

func TestValidateSource_RestrictedHosts(t *testing.T) {
	validator := NewURLValidatorWithOptions(DefaultSchemes, []string{"example.com", "static.inaturalist.org"})

	for _, ref := range []string{
		"http://example.com/image.jpg",
		"https://EXAMPLE.com:443/image.jpg",
		"https://static.inaturalist.org/photos/1/large.jpg",
		"azblob://anycontainer/blob.jpg",
	} {
		if err := validator.ValidateSource(ref); err != nil {
			t.Errorf("Expected allowed reference '%s' to pass validation, got error: %v", ref, err)
		}
	}

	for _, ref := range []string{"http://malicious.com/image.jpg", "https://example.com.evil.org/image.png"} {
		expectMessage(t, ref, validator.ValidateSource(ref), "URL host not allowed")
	}
}

func TestIsSchemeAllowed(t *testing.T) {
	validator := NewURLValidatorWithOptions([]string{"https"}, nil)

	if !validator.isSchemeAllowed("https") {
		t.Error("Expected https scheme to be allowed")
	}
	if validator.isSchemeAllowed("http") {
		t.Error("Expected http scheme to be disallowed")
	}
	if validator.isSchemeAllowed("azblob") {
		t.Error("Expected azblob scheme to be disallowed")
	}
}

func TestIsHostAllowed(t *testing.T) {
	validator := NewURLValidator()
	if !validator.isHostAllowed("example.com") {
		t.Error("Expected any host to be allowed when no restrictions")
	}

	restricted := NewURLValidatorWithOptions(DefaultSchemes, []string{"example.com"})
	if !restricted.isHostAllowed("Example.COM") {
		t.Error("Expected host comparison to ignore case")
	}
	if restricted.isHostAllowed("malicious.com") {
		t.Error("Expected malicious.com to be disallowed")
	}
}
