// SPDX-FileCopyrightText: 2020 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package httpclient

import "net/http"

// Client abstracts http.Client for injection in tests
type Client interface {
	Do(req *http.Request) (resp *http.Response, err error)
}
