// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

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
	CodeStoreResourceGetNotFound        Code = "store.resource.get.not_found"
	CodeStoreResourceTransitionConflict Code = "store.resource.transition.conflict"
	CodeStoreResourceTransitionInvalid  Code = "store.resource.transition.invalid"
	CodeStoreResourceDeleteConflict     Code = "store.resource.delete.conflict"
	CodeStoreVectorDimensionInvalid     Code = "store.vector.dimension.invalid_input"
	CodeStoreDatabaseFailure            Code = "store.database.failure"
	CodeStoreBackendUnsupported         Code = "store.backend.unsupported"
	CodeStoreInvalidInput               Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigWriteConflict        Code = "config.write.conflict"
	CodeConfigWriteFailure         Code = "config.write.failure"

	CodeIngestFetchFailure              Code = "ingest.fetch.failure"
	CodeIngestFetchLocatorInvalid       Code = "ingest.fetch.locator.invalid"
	CodeIngestParseUnsupportedMediaType Code = "ingest.parse.unsupported_media_type"
	CodeIngestParseEmptyContent         Code = "ingest.parse.empty_content"
	CodeIngestParsePolicyInvalid        Code = "ingest.parse.policy.invalid"
	CodeIngestIndexFailure              Code = "ingest.index.failure"
	CodeIngestSchedulerClosed           Code = "ingest.scheduler.closed.unavailable"
	CodeIngestWaitTimeout               Code = "ingest.wait.timeout"
	CodeIngestInternalFailure           Code = "ingest.internal.failure"

	CodeEmbeddingUnavailable     Code = "embedding.request.unavailable"
	CodeEmbeddingResponseInvalid Code = "embedding.response.invalid"
	CodeEmbeddingRequestInvalid  Code = "embedding.request.invalid"
	CodeEmbeddingUpstreamFailure Code = "embedding.upstream.failure"

	CodeSummaryUpstreamFailure Code = "summary.upstream.failure"
	CodeSummaryResponseInvalid Code = "summary.response.invalid"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderKeyInvalid      Code = "provider.key.invalid"
	CodeProviderKeyCheckFailure Code = "provider.key.check.failure"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"

	CodeNamespaceURIInvalid   Code = "namespace.uri.invalid"
	CodeNamespaceListNotFound Code = "namespace.list.not_found"

	CodeSearchQueryInvalid Code = "search.query.invalid"

	CodeSecurityScannerRuleInvalid Code = "security.scanner.rule.invalid"
	CodeSecurityScannerFailure     Code = "security.scanner.failure"

	CodeSecretResolveFailure Code = "secret.resolve.failure"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretURIInvalid     Code = "secret.uri.invalid"
	CodeSecretBackendFailure Code = "secret.backend.failure"
	CodeSecretInvalidInput   Code = "secret.input.invalid"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerEntityNotFound   Code = "server.entity.not_found"
	CodeServerConfigInvalid    Code = "server.config.invalid"
	CodeServerStartFailure     Code = "server.start.failure"
	CodeServerShutdownFailure  Code = "server.shutdown.failure"

	CodeCLIServerNotRunning Code = "cli.server.not_running"
	CodeCLIRequestFailure   Code = "cli.request.failure"
	CodeCLIResponseInvalid  Code = "cli.response.invalid"
	CodeCLISetupFailure     Code = "cli.setup.failure"
	CodeCLIInputInvalid     Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// FieldValue creates a structured error field.
func FieldValue(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// Field is kept as the primary helper for terse callsites.
func Field(key string, value any) Attr {
	return FieldValue(key, value)
}

func FieldURI(value string) Attr {
	return Field("uri", value)
}

func FieldLocator(value string) Attr {
	return Field("locator", value)
}

func FieldStage(value string) Attr {
	return Field("stage", value)
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

// CodeOf returns the innermost code in the chain. oops walks to the deepest
// coded error, so re-wrapping never hides the original classification.
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

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsUnauthorized(err error) bool {
	return reason(CodeOf(err)) == "unauthorized"
}

func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

// IsPermanent reports whether a pipeline failure cannot be fixed by
// retrying the same input.
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case CodeIngestParseUnsupportedMediaType, CodeIngestParseEmptyContent, CodeIngestFetchLocatorInvalid:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	case IsTimeout(err):
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
