package stk

import (
	"regexp"

	"github.com/pkg/errors"
)

// The strict rule set: https-only callback URLs and phone numbers
// carrying the 2547 mobile prefix. Checks run in a fixed order and the
// first failure wins.
var (
	shortCodeRegexp = regexp.MustCompile(`^\d{5,6}$`)
	amountRegexp    = regexp.MustCompile(`^[1-9]\d*$`)
	phoneRegexp     = regexp.MustCompile(`^2547\d{8}$`)
	callbackRegexp  = regexp.MustCompile(`^https://([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}/[a-zA-Z0-9._~:/?#\[\]@!$&'()*+,;=-]*$`)
)

// Validate checks a PushRequest against the API's format rules, returning
// a single human-readable reason on the first violation.
func Validate(req PushRequest) error {
	if !shortCodeRegexp.MatchString(req.BusinessShortCode) {
		return errors.New("invalid BusinessShortCode format, must be 5-6 digits")
	}

	if !amountRegexp.MatchString(req.Amount) {
		return errors.New("invalid Amount format, must be a positive integer")
	}

	if !phoneRegexp.MatchString(req.PartyA) {
		return errors.New("invalid PartyA phone number, must be 12 digits starting with 2547")
	}

	if !phoneRegexp.MatchString(req.PhoneNumber) {
		return errors.New("invalid PhoneNumber, must be 12 digits starting with 2547")
	}

	if req.PartyB != req.BusinessShortCode {
		return errors.New("PartyB must match BusinessShortCode")
	}

	if !callbackRegexp.MatchString(req.CallBackURL) {
		return errors.New("invalid CallBackURL, must be an https URL with a valid domain and path")
	}

	if len(req.AccountReference) == 0 || len(req.AccountReference) > 12 {
		return errors.New("AccountReference must be between 1 and 12 characters")
	}

	if len(req.TransactionDesc) == 0 || len(req.TransactionDesc) > 13 {
		return errors.New("TransactionDesc must be between 1 and 13 characters")
	}

	return nil
}
