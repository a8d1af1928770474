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

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-npx/cmd/acq"
	"jinr.ru/greenlab/go-npx/cmd/calibrate"
	"jinr.ru/greenlab/go-npx/cmd/completion"
	"jinr.ru/greenlab/go-npx/cmd/config"
	"jinr.ru/greenlab/go-npx/cmd/probe"
	"jinr.ru/greenlab/go-npx/cmd/serve"
	"jinr.ru/greenlab/go-npx/cmd/set"
	"jinr.ru/greenlab/go-npx/cmd/simulate"
	pkgconfig "jinr.ru/greenlab/go-npx/pkg/config"
	"jinr.ru/greenlab/go-npx/pkg/log"
)

const (
	LogLevelOptionName = "log-level"
)

func NewRootCommand(out io.Writer) *cobra.Command {
	var logLevel string
	cfg := pkgconfig.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:          "go-npx",
		Short:        "Tool to acquire data from Neuropixels probes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return log.Init(cmd.ErrOrStderr(), cfg.LogLevel)
		},
	}
	cmd.SetOut(out)
	cmd.AddCommand(config.NewCommand())
	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(simulate.NewCommand())
	for _, c := range probe.NewCommands() {
		cmd.AddCommand(c)
	}
	cmd.AddCommand(acq.NewCommand())
	cmd.AddCommand(set.NewCommand())
	cmd.AddCommand(calibrate.NewCommand())
	cmd.AddCommand(completion.NewCommand())
	cmd.PersistentFlags().StringVar(&logLevel, LogLevelOptionName, "", fmt.Sprintf("Log level. %s", log.HelpLevels))
	return cmd
}
