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

package simulate

import (
	"time"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-npx/pkg/command"
	"jinr.ru/greenlab/go-npx/pkg/config"
)

const (
	ListenOptionName       = "listen"
	TriggerAfterOptionName = "trigger-after"
	OptionOptionName       = "option"
)

func NewCommand() *cobra.Command {
	var listen string
	var triggerAfter time.Duration
	var option int
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated basestation speaking the UDP link protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if option != 0 {
				cfg.Simulator.Option = option
			}
			return command.StartSimulator(cfg, listen, triggerAfter)
		},
	}
	cmd.Flags().StringVar(&listen, ListenOptionName, config.DefaultDeviceAddress, "UDP address to listen on")
	cmd.Flags().DurationVar(&triggerAfter, TriggerAfterOptionName, 0, "Raise the external trigger line after this delay; zero means no trigger line")
	cmd.Flags().IntVar(&option, OptionOptionName, 0, "Probe option, 1 to 4")

	return cmd
}
