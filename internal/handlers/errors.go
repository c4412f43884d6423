package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/services"
	"github.com/huangang/tracer/pkg/logger"
	"github.com/huangang/tracer/pkg/response"
)

type errorMapping struct {
	target error
	build  func(string) *response.AppError
}

// Service sentinels and the envelope they are reported with. Anything not
// listed is an infrastructure failure.
var errorMappings = []errorMapping{
	{services.ErrInvalidCredentials, response.NewUnauthorized},
	{services.ErrUserNotFound, response.NewNotFound},
	{services.ErrUsernameTaken, response.NewConflict},
	{services.ErrEmailTaken, response.NewConflict},
	{services.ErrMobileTaken, response.NewConflict},
	{services.ErrWrongOldPassword, response.NewBadRequest},

	{services.ErrPolicyNotFound, response.NewNotFound},
	{services.ErrPolicyNotForSale, response.NewBadRequest},
	{services.ErrInvalidQuantity, response.NewBadRequest},
	{services.ErrNothingToPay, response.NewBadRequest},
	{services.ErrQuoteExpired, response.NewConflict},
	{services.ErrOrderNotFound, response.NewNotFound},
	{services.ErrInvalidSignature, response.NewBadRequest},
	{services.ErrMissingOrderID, response.NewBadRequest},
	{services.ErrGatewayUnavailable, response.NewUnavailable},

	{services.ErrNotProjectCreator, response.NewForbidden},
	{services.ErrInvalidPeriod, response.NewBadRequest},
	{services.ErrInvalidMaxCount, response.NewBadRequest},
	{services.ErrMemberNotFound, response.NewNotFound},
	{services.ErrCreatorCannotLeave, response.NewBadRequest},

	{services.ErrProjectLimitReached, response.NewForbidden},
	{services.ErrProjectNameTaken, response.NewConflict},
	{services.ErrProjectNameRequired, response.NewBadRequest},
	{services.ErrProjectNameMismatch, response.NewBadRequest},
	{services.ErrProjectNotFound, response.NewNotFound},
	{services.ErrInvalidStarKind, response.NewBadRequest},
	{services.ErrInvalidFileSize, response.NewBadRequest},
	{services.ErrFileTooLarge, response.NewBadRequest},
	{services.ErrSpaceExceeded, response.NewForbidden},
	{services.ErrStorageUnavailable, response.NewUnavailable},
}

func translate(err error) *response.AppError {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.build(m.target.Error())
		}
	}
	return nil
}

// fail writes err as an envelope. Unmapped errors are logged with the
// request path and reported as a generic 500.
func fail(c *gin.Context, err error) {
	if appErr := translate(err); appErr != nil {
		response.Error(c, appErr)
		return
	}
	logger.Error().
		Err(err).
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Msg("[Handler] request failed")
	response.Error(c, response.NewServerError("internal server error, please retry"))
}
