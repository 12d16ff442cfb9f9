// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package fault

import "net/http"

// HTTPStatus maps a tagged error to the response status the HTTP edge
// reports for it. Upstream faults relay 429 and 504 and collapse
// everything else to 503. Unrecognized errors are internal failures.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case InvalidURL:
		return http.StatusBadRequest
	case Inaccessible:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case Shape:
		return http.StatusBadGateway
	case Parse:
		return http.StatusUnprocessableEntity
	case Config, Budget, Internal:
		return http.StatusInternalServerError
	case OutputValidation:
		return http.StatusBadGateway
	case Upstream:
		switch StatusOf(err) {
		case http.StatusTooManyRequests:
			return http.StatusTooManyRequests
		case http.StatusGatewayTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}
