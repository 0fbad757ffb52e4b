package stk

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// TransactionType selects how the payment is routed on the merchant side.
type TransactionType string

const (
	// CustomerPayBillOnline targets a business PayBill account.
	CustomerPayBillOnline TransactionType = "CustomerPayBillOnline"
	// CustomerBuyGoodsOnline targets a business Till number.
	CustomerBuyGoodsOnline TransactionType = "CustomerBuyGoodsOnline"
)

// PushRequest carries the STK push parameters. Field names mirror the
// Daraja API exactly. Password and Timestamp are generated by the client
// right before submission; caller-supplied values are always overwritten.
type PushRequest struct {
	BusinessShortCode string          `json:"BusinessShortCode"`
	Password          string          `json:"Password"`
	Timestamp         string          `json:"Timestamp"`
	TransactionType   TransactionType `json:"TransactionType"`
	Amount            string          `json:"Amount"`
	PartyA            string          `json:"PartyA"`
	PartyB            string          `json:"PartyB"`
	PhoneNumber       string          `json:"PhoneNumber"`
	CallBackURL       string          `json:"CallBackURL"`
	AccountReference  string          `json:"AccountReference"`
	TransactionDesc   string          `json:"TransactionDesc"`
}

// FormatPhoneNumber normalizes a Kenyan phone number to the 12-digit
// 254XXXXXXXXX form the API requires. It strips non-digit characters and
// accepts 254..., 0... and bare 9-digit inputs.
func FormatPhoneNumber(phone string) (string, error) {
	var digits strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	formatted := digits.String()

	switch {
	case strings.HasPrefix(formatted, "254"):
		// Already in international format.
	case strings.HasPrefix(formatted, "0"):
		formatted = "254" + formatted[1:]
	case len(formatted) == 9:
		formatted = "254" + formatted
	default:
		return "", errors.Errorf("invalid phone number %q, expected format 254XXXXXXXXX", phone)
	}

	if len(formatted) != 12 {
		return "", errors.Errorf("invalid phone number length for %q, must be 12 digits in format 254XXXXXXXXX", phone)
	}

	return formatted, nil
}

// RequestFromFile loads a PushRequest from a JSON file, normalizing both
// phone number fields. Password and Timestamp are not expected in the
// file; the client fills them in on submission. TransactionType defaults
// to CustomerPayBillOnline.
func RequestFromFile(path string) (PushRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PushRequest{}, errors.Wrapf(err, "reading request file %s", path)
	}

	var req PushRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return PushRequest{}, errors.Wrapf(err, "parsing request file %s", path)
	}

	if req.PartyA, err = FormatPhoneNumber(req.PartyA); err != nil {
		return PushRequest{}, errors.Wrap(err, "formatting PartyA")
	}
	if req.PhoneNumber, err = FormatPhoneNumber(req.PhoneNumber); err != nil {
		return PushRequest{}, errors.Wrap(err, "formatting PhoneNumber")
	}

	if req.TransactionType != CustomerBuyGoodsOnline {
		req.TransactionType = CustomerPayBillOnline
	}

	return req, nil
}
