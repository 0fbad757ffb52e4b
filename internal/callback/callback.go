// Package callback decodes the asynchronous STK push result the provider
// posts back after the customer acts on the PIN prompt.
package callback

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ResultCode is the provider's final verdict on a push transaction.
type ResultCode int

const (
	ResultSuccess            ResultCode = 0
	ResultInsufficientFunds  ResultCode = 1
	ResultUnableToLockSubscr ResultCode = 1001
	ResultTransactionExpired ResultCode = 1019
	ResultInvalidInitiator   ResultCode = 1025
	ResultRequestCancelled   ResultCode = 1032
	ResultTimeout            ResultCode = 1037
	ResultInvalidRequest     ResultCode = 2001
	ResultPushFailure        ResultCode = 9999
)

var resultDescriptions = map[ResultCode]string{
	ResultSuccess:            "The service request is processed successfully",
	ResultInsufficientFunds:  "The balance is insufficient for the transaction",
	ResultUnableToLockSubscr: "Unable to lock subscriber, a transaction is already in process for the current subscriber",
	ResultTransactionExpired: "Transaction has expired",
	ResultInvalidInitiator:   "An error occurred while sending a push request",
	ResultRequestCancelled:   "Request cancelled by user",
	ResultTimeout:            "DS timeout, user cannot be reached",
	ResultInvalidRequest:     "The initiator information is invalid",
	ResultPushFailure:        "Push request failed",
}

// Description returns the provider's wording for known codes and a
// generic fallback otherwise.
func (c ResultCode) Description() string {
	if desc, ok := resultDescriptions[c]; ok {
		return desc
	}
	return fmt.Sprintf("Unknown result code %d", int(c))
}

// Known reports whether the code is one the provider documents.
func (c ResultCode) Known() bool {
	_, ok := resultDescriptions[c]
	return ok
}

// Success reports whether the transaction completed.
func (c ResultCode) Success() bool {
	return c == ResultSuccess
}

// ValueKind tags the dynamic type of a metadata item value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
)

// Value holds one metadata item value. The provider mixes strings,
// integers and decimals in the same list, so the concrete type is kept
// alongside the raw fields.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
}

// UnmarshalJSON keeps integers exact instead of forcing everything
// through float64.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return errors.Wrap(err, "decoding metadata value")
	}

	switch val := raw.(type) {
	case string:
		v.Kind = KindString
		v.Str = val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			v.Kind = KindInt
			v.Int = i
			return nil
		}
		f, err := val.Float64()
		if err != nil {
			return errors.Wrapf(err, "unparseable metadata number %q", val.String())
		}
		v.Kind = KindFloat
		v.Float = f
	default:
		return errors.Errorf("unsupported metadata value type %T", raw)
	}
	return nil
}

// String renders the value for logs regardless of kind.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	default:
		return v.Str
	}
}

// MetadataItem is one named value from the success metadata list.
type MetadataItem struct {
	Name  string `json:"Name"`
	Value Value  `json:"Value"`
}

// Callback is the decoded body of one provider notification.
// Metadata is nil when the provider omitted CallbackMetadata, which it
// does on every failed transaction.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        ResultCode
	ResultDesc        string
	Metadata          []MetadataItem
}

type envelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string     `json:"MerchantRequestID"`
			CheckoutRequestID string     `json:"CheckoutRequestID"`
			ResultCode        ResultCode `json:"ResultCode"`
			ResultDesc        string     `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []MetadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// Parse decodes a raw notification body.
func Parse(data []byte) (*Callback, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decoding callback payload")
	}

	inner := env.Body.StkCallback
	if inner.MerchantRequestID == "" && inner.CheckoutRequestID == "" {
		return nil, errors.New("callback payload missing stkCallback body")
	}

	cb := &Callback{
		MerchantRequestID: inner.MerchantRequestID,
		CheckoutRequestID: inner.CheckoutRequestID,
		ResultCode:        inner.ResultCode,
		ResultDesc:        inner.ResultDesc,
	}
	if inner.CallbackMetadata != nil {
		cb.Metadata = inner.CallbackMetadata.Item
	}
	return cb, nil
}

// Item returns the metadata value with the given name.
func (c *Callback) Item(name string) (Value, bool) {
	for _, item := range c.Metadata {
		if item.Name == name {
			return item.Value, true
		}
	}
	return Value{}, false
}

// Amount returns the transaction amount from the metadata.
func (c *Callback) Amount() (float64, bool) {
	v, ok := c.Item("Amount")
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInt:
		return float64(v.Int), true
	default:
		return 0, false
	}
}

// MpesaReceiptNumber returns the M-Pesa receipt from the metadata.
func (c *Callback) MpesaReceiptNumber() (string, bool) {
	v, ok := c.Item("MpesaReceiptNumber")
	if !ok || v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// TransactionDate returns the completion timestamp in YYYYMMDDHHMMSS
// form.
func (c *Callback) TransactionDate() (int64, bool) {
	v, ok := c.Item("TransactionDate")
	if !ok || v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

// PhoneNumber returns the paying customer's number.
func (c *Callback) PhoneNumber() (int64, bool) {
	v, ok := c.Item("PhoneNumber")
	if !ok || v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}
