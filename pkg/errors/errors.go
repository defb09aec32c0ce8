// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreInvalidInput       Code = "store.invalid_input"
	CodeStoreMigrateFailure     Code = "store.migrate.failure"
	CodeStoreMessageNotFound    Code = "store.message.get.not_found"
	CodeStoreAuditAppendFailure Code = "store.audit.append.failure"

	CodeArchiveRequestInvalid Code = "archive.request.invalid_input"
	CodeSearchRequestInvalid  Code = "search.request.invalid_input"
	CodeSearchCursorInvalid   Code = "search.cursor.invalid_input"

	CodeSummarizeRequestInvalid Code = "summarize.request.invalid_input"

	CodeProviderRequestInvalid  Code = "provider.request.invalid_input"
	CodeProviderResponseInvalid Code = "provider.response.invalid_input"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderBreakerOpen     Code = "provider.breaker.open"
	CodeProviderTimeout         Code = "provider.call.timeout"

	CodePermissionArchiveDenied Code = "permission.archive.denied"
	CodePermissionSearchDenied  Code = "permission.search.denied"

	CodeRetentionSweepFailure Code = "retention.sweep.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeSecretInvalidInput   Code = "secret.uri.invalid_input"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeServerRequestInvalid   Code = "server.request.invalid_input"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerAuthForbidden    Code = "server.auth.forbidden"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerStartFailure     Code = "server.start.failure"

	CodeCLIRequestFailure Code = "cli.request.failure"
	CodeCLISetupFailure   Code = "cli.setup.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldTenantID(value string) Attr {
	return Field("tenant_id", value)
}

func FieldMessageID(value string) Attr {
	return Field("message_id", value)
}

func FieldActorID(value string) Attr {
	return Field("actor_id", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid_input" || r == "invalid_value"
}

func IsPermissionDenied(err error) bool {
	r := reason(CodeOf(err))
	return r == "denied" || r == "forbidden" || r == "unauthorized"
}

// IsRetryable reports whether the caller may safely re-issue the request.
// Only provider-path failures qualify: upstream exhaustion, an open breaker,
// and call timeouts. Store failures are deliberately non-retryable so a
// data-layer outage is not masked by caller retries.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeProviderUpstreamFailure, CodeProviderBreakerOpen, CodeProviderTimeout:
		return true
	default:
		return false
	}
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsPermissionDenied(err):
		if reason(CodeOf(err)) == "unauthorized" {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case HasCode(err, CodeProviderBreakerOpen):
		return http.StatusServiceUnavailable
	case HasCode(err, CodeProviderTimeout):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
