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

package calibrate

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-npx/pkg/command"
	"jinr.ru/greenlab/go-npx/pkg/config"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Load gain calibration",
	}
	cmd.AddCommand(NewDeviceCommand())
	cmd.AddCommand(NewFileCommand())
	return cmd
}

func NewDeviceCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Read calibration stored on the probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			return command.Spin(cmd.OutOrStdout(), "reading probe calibration", apiClient.CalibrateFromDevice)
		},
	}
	return cmd
}

func NewFileCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "file PATH",
		Short: "Load a gain calibration CSV readable by the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return command.NewApiClient(cfg).CalibrateFromFile(path)
		},
	}
	return cmd
}
