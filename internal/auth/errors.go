package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
)

// ErrorCode classifies authentication failures into flat categories.
type ErrorCode string

const (
	CodeOK ErrorCode = ""

	// Network and connection errors.
	CodeNetworkError    ErrorCode = "network_error"
	CodeDNSError        ErrorCode = "dns_error"
	CodeConnectionError ErrorCode = "connection_error"
	CodeTimeoutError    ErrorCode = "timeout_error"
	CodeTLSError        ErrorCode = "tls_error"

	// Provider application errors.
	CodeInvalidCredentials ErrorCode = "invalid_credentials"
	CodeInvalidGrantType   ErrorCode = "invalid_grant_type"
	CodeInvalidAuthType    ErrorCode = "invalid_auth_type"
	CodeServerError        ErrorCode = "server_error"
	CodeAPIError           ErrorCode = "api_error"

	// Protocol and local errors.
	CodeHTTPError   ErrorCode = "http_error"
	CodeParseError  ErrorCode = "parse_error"
	CodeConfigError ErrorCode = "config_error"
)

// Error is an authentication failure carrying its classification.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// mapProviderCode maps Daraja errorCode values to categories. Codes not
// in the table collapse to the generic API error.
func mapProviderCode(code string) ErrorCode {
	switch code {
	case "400.008.02":
		return CodeInvalidGrantType
	case "400.008.01":
		return CodeInvalidAuthType
	case "401.002.01":
		return CodeInvalidCredentials
	case "500.001.1001":
		return CodeServerError
	default:
		return CodeAPIError
	}
}

// classifyTransportError inspects a failed round trip and buckets it into
// dns, tls, timeout, connection or generic network failure.
func classifyTransportError(err error) ErrorCode {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeDNSError
	}

	var certVerifyErr *tls.CertificateVerificationError
	if errors.As(err, &certVerifyErr) {
		return CodeTLSError
	}
	var unknownAuthorityErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthorityErr) {
		return CodeTLSError
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return CodeTLSError
	}
	var certInvalidErr x509.CertificateInvalidError
	if errors.As(err, &certInvalidErr) {
		return CodeTLSError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeoutError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeoutError
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return CodeConnectionError
	}

	return CodeNetworkError
}
