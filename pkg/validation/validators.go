package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Field length and size limits enforced across registration, profile
// updates and uploads.
const (
	MinNameLength = 2
	MaxNameLength = 50
	MaxBioLength  = 500

	// MaxImageSize caps profile picture uploads at 5MB.
	MaxImageSize int64 = 5 * 1024 * 1024

	MinPasswordLength = 8
)

// emailPattern accepts local@domain.tld with no whitespace and exactly
// one @ separator. Deliverability is not checked here.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// allowedImageTypes is the MIME allowlist for profile pictures.
// image/jpg is not a registered type but browsers still send it.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ValidateEmail reports whether email is a plausible address.
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePassword reports whether password meets the strength policy:
// at least 8 characters with 1 uppercase, 1 lowercase and 1 digit. The
// charset is closed — only letters, digits and @$!%*?& are accepted, so
// a password containing any other character fails even when the three
// class requirements are met.
func ValidatePassword(password string) bool {
	if len(password) < MinPasswordLength {
		return false
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune("@$!%*?&", r):
			// allowed symbol, counts toward no class
		default:
			return false
		}
	}
	return hasUpper && hasLower && hasDigit
}

// ValidateName reports whether the trimmed name is between 2 and 50
// characters.
func ValidateName(name string) bool {
	trimmed := strings.TrimSpace(name)
	return len(trimmed) >= MinNameLength && len(trimmed) <= MaxNameLength
}

// ValidateBio reports whether bio fits the length limit. Empty is valid;
// the field is optional.
func ValidateBio(bio string) bool {
	return len(bio) <= MaxBioLength
}

// ValidateURL reports whether raw is an absolute http(s) URL.
func ValidateURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidateImageType reports whether mimeType is an accepted profile
// picture format. Matching is case-insensitive.
func ValidateImageType(mimeType string) bool {
	return allowedImageTypes[strings.ToLower(mimeType)]
}

// ValidateFileSize reports whether size is positive and within the
// upload cap.
func ValidateFileSize(size int64) bool {
	return size > 0 && size <= MaxImageSize
}

// Result carries the outcome of a multi-field validation. Errors holds
// one user-facing message per failed field, in field order.
type Result struct {
	Valid  bool
	Errors []string
}

func (r *Result) add(message string) {
	r.Valid = false
	r.Errors = append(r.Errors, message)
}

// RegistrationInput is the field set checked before creating an account.
type RegistrationInput struct {
	Name     string
	Email    string
	Password string
}

// ValidateUserRegistration checks every registration field and collects
// all failures rather than stopping at the first one.
func ValidateUserRegistration(in RegistrationInput) Result {
	res := Result{Valid: true}
	if !ValidateName(in.Name) {
		res.add(fmt.Sprintf("Name must be between %d and %d characters", MinNameLength, MaxNameLength))
	}
	if !ValidateEmail(in.Email) {
		res.add("Invalid email format")
	}
	if !ValidatePassword(in.Password) {
		res.add("Password must be at least 8 characters with 1 uppercase, 1 lowercase, and 1 number")
	}
	return res
}

// UpdateInput is the field set checked before a profile update. Nil
// pointers mean the field is not being changed and is skipped.
type UpdateInput struct {
	Name  *string
	Email *string
	Bio   *string
}

// ValidateUserUpdate checks only the fields present in the update.
func ValidateUserUpdate(in UpdateInput) Result {
	res := Result{Valid: true}
	if in.Name != nil && !ValidateName(*in.Name) {
		res.add(fmt.Sprintf("Name must be between %d and %d characters", MinNameLength, MaxNameLength))
	}
	if in.Email != nil && !ValidateEmail(*in.Email) {
		res.add("Invalid email format")
	}
	if in.Bio != nil && !ValidateBio(*in.Bio) {
		res.add(fmt.Sprintf("Bio must be less than %d characters", MaxBioLength))
	}
	return res
}
