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

package udp

import (
	"fmt"
)

// ErrStatus returned when the basestation rejects a request
type ErrStatus struct {
	Type   string
	Status uint16
}

func (e ErrStatus) Error() string {
	return fmt.Sprintf("Basestation rejected %s request with status %d", e.Type, e.Status)
}

// ErrUnexpectedReply returned when the reply does not carry the expected layer
type ErrUnexpectedReply struct {
	Want string
}

func (e ErrUnexpectedReply) Error() string {
	return fmt.Sprintf("Unexpected reply: %s layer is missing", e.Want)
}

// ErrRequestTimeout returned when no reply arrived for a request
type ErrRequestTimeout struct {
	Type string
	Seq  uint16
}

func (e ErrRequestTimeout) Error() string {
	return fmt.Sprintf("No reply to %s request %d", e.Type, e.Seq)
}
