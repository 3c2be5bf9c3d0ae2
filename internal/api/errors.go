package api

import (
	"errors"
	"net/http"

	"zapis/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func httpStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRule:
		return http.StatusUnprocessableEntity
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindExternal:
		return http.StatusBadGateway
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func grpcStatus(err error) error {
	var code codes.Code
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		code = codes.NotFound
	case domain.KindRule:
		code = codes.FailedPrecondition
	case domain.KindConflict:
		code = codes.Aborted
	case domain.KindInvalid:
		code = codes.InvalidArgument
	case domain.KindExternal:
		code = codes.Unavailable
	case domain.KindUnauthorized:
		code = codes.Unauthenticated
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, publicMessage(err))
}

func publicMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Msg
	}
	return "internal error"
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), errorBody{Error: domain.CodeOf(err), Message: publicMessage(err)})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{Error: code, Message: message})
}
