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

package command

import (
	"io"
	"time"

	"github.com/theckman/yacspin"
)

// Spin runs fn behind a terminal spinner showing message. When the spinner
// can not be drawn fn still runs.
func Spin(out io.Writer, message string, fn func() error) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		Writer:            out,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           message,
		StopCharacter:     "✓",
		StopMessage:       message,
		StopFailCharacter: "✗",
		StopFailMessage:   message,
	})
	if err != nil {
		return fn()
	}
	if err := spinner.Start(); err != nil {
		return fn()
	}
	if err := fn(); err != nil {
		spinner.StopFail()
		return err
	}
	spinner.Stop()
	return nil
}
