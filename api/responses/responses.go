package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/petstore-backend/pkg/errors"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

// clientMessageCodes may surface their own message instead of the generic one.
var clientMessageCodes = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:     true,
	pkgerrors.CodeNotFound:       true,
	pkgerrors.CodeConflict:       true,
	pkgerrors.CodeInvalidPayload: true,
	pkgerrors.CodeUnknownCommand: true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteError renders err as an ErrorEnvelope. Untyped errors become
// INTERNAL_ERROR; the full chain only goes to the log.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	status, apiErr := toAPIError(err)
	if logg != nil {
		logFailure(ctx, logg, status, err)
	}
	writeJSON(w, status, ErrorEnvelope{Error: apiErr})
}

func toAPIError(err error) (int, APIError) {
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	apiErr := APIError{Code: string(typed.Code()), Message: meta.PublicMessage}
	if clientMessageCodes[typed.Code()] && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}
	return meta.HTTPStatus, apiErr
}

func logFailure(ctx context.Context, logg *logger.Logger, status int, err error) {
	dump := pkgerrors.Dump(err)
	fields := map[string]any{
		"status":      status,
		"error":       dump.TopMessage,
		"error_code":  dump.Code,
		"error_chain": dump.Chain,
		"retryable":   dump.Retryable,
	}
	if dump.PGCode != "" {
		fields["pg_code"] = dump.PGCode
		fields["pg_message"] = dump.PGMessage
		fields["pg_detail"] = dump.PGDetail
		fields["pg_table"] = dump.PGTable
		fields["pg_column"] = dump.PGColumn
		fields["pg_constraint"] = dump.PGConstraint
	}
	ctx = logg.WithFields(ctx, fields)
	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(ctx, "request.rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
