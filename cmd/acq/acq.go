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

package acq

import (
	"errors"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-npx/pkg/command"
	"jinr.ru/greenlab/go-npx/pkg/config"
)

func NewCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:       "acq start|stop",
		Short:     "Start/stop acquisition",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"start", "stop"},
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			switch args[0] {
			case "start":
				return command.Spin(cmd.OutOrStdout(), "starting acquisition", func() error {
					return apiClient.Acquisition("start")
				})
			case "stop":
				return apiClient.Acquisition("stop")
			default:
				return errors.New("Wrong acquisition command. Must be one of start/stop")
			}
		},
	}
	return cmd
}
