package services

import (
	"net/http"

	"mongobridge/pkg/dataaccess"
)

// httpStatus maps a data access failure to the status code handlers return.
func httpStatus(err error) uint {
	switch dataaccess.KindOf(err) {
	case dataaccess.KindNotFound:
		return http.StatusNotFound
	case dataaccess.KindDuplicateKey, dataaccess.KindOptimisticLocking:
		return http.StatusConflict
	case dataaccess.KindInvalidQuery, dataaccess.KindShardKey:
		return http.StatusBadRequest
	case dataaccess.KindQueryTimeout:
		return http.StatusGatewayTimeout
	case dataaccess.KindTransientTransaction, dataaccess.KindUnknownCommitResult, dataaccess.KindResourceFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
