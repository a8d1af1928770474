/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package srv

import (
	"errors"
	"net/http"

	"jinr.ru/greenlab/go-npx/pkg/probe"
)

// ErrMonitorBusy returned when the sample stream already has a consumer
type ErrMonitorBusy struct{}

func (e ErrMonitorBusy) Error() string {
	return "Monitor is already attached to the sample stream"
}

// ErrUnknownOperation returned when the action in the request path is not supported
type ErrUnknownOperation struct {
	What string
}

func (e ErrUnknownOperation) Error() string {
	return "Unknown operation: " + e.What
}

// ErrStoreDisabled returned by the probe store endpoints when the server
// runs without a database
type ErrStoreDisabled struct{}

func (e ErrStoreDisabled) Error() string {
	return "Settings store is disabled"
}

// StatusCode maps errors of the probe package to HTTP status codes
func StatusCode(err error) int {
	var (
		outOfRange probe.ErrOutOfRange
		invalid    probe.ErrInvalidSetting
		format     probe.ErrCalibrationFormat
		noOutputs  probe.ErrNoOutputs
		unknown    ErrUnknownOperation
		wrongState probe.ErrWrongState
		busy       ErrMonitorBusy
		notConn    probe.ErrNotConnected
		disabled   ErrStoreDisabled
	)
	switch {
	case errors.As(err, &outOfRange), errors.As(err, &invalid), errors.As(err, &format),
		errors.As(err, &noOutputs), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.As(err, &wrongState), errors.As(err, &busy):
		return http.StatusConflict
	case errors.As(err, &notConn), errors.As(err, &disabled):
		return http.StatusNotFound
	}
	// connection, transport and partially failed writes
	return http.StatusBadGateway
}
