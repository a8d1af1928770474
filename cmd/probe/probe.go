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

package probe

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-npx/pkg/command"
	"jinr.ru/greenlab/go-npx/pkg/config"
)

const (
	ForgetOptionName = "forget"
	KindOptionName   = "kind"
)

// NewCommands returns the top level commands talking to a running server
// about its probe.
func NewCommands() []*cobra.Command {
	return []*cobra.Command{
		NewConnectCommand(),
		NewDisconnectCommand(),
		NewInfoCommand(),
		NewStatusCommand(),
		NewChannelsCommand(),
		NewSettingsCommand(),
		NewProbesCommand(),
	}
}

func printYaml(out io.Writer, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func NewConnectCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open the basestation link and detect the probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			return command.Spin(cmd.OutOrStdout(), "connecting to basestation", apiClient.Connect)
		},
	}
	return cmd
}

func NewDisconnectCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Stop acquisition and close the basestation link",
		RunE: func(cmd *cobra.Command, args []string) error {
			return command.NewApiClient(cfg).Disconnect()
		},
	}
	return cmd
}

func NewInfoCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show hardware versions and probe identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := command.NewApiClient(cfg).Info()
			if err != nil {
				return err
			}
			return printYaml(cmd.OutOrStdout(), info)
		},
	}
	return cmd
}

func NewStatusCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show acquisition state and counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := command.NewApiClient(cfg).Status()
			if err != nil {
				return err
			}
			return printYaml(cmd.OutOrStdout(), status)
		},
	}
	return cmd
}

func NewChannelsCommand() *cobra.Command {
	var kind string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List continuous channels as published to the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := command.NewApiClient(cfg).Channels()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-6s %-8s %-4s %-9s %-6s %-12s %s\n",
				"INDEX", "NAME", "KIND", "ELECTRODE", "GAIN", "BITVOLTS", "ENABLED")
			for _, info := range infos {
				if kind != "" && string(info.Kind) != kind {
					continue
				}
				fmt.Fprintf(out, "%-6d %-8s %-4s %-9d %-6d %-12.6g %t\n",
					info.Index, info.Name, info.Kind, info.Electrode, info.Gain, info.BitVolts, info.Enabled)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, KindOptionName, "", "Only show channels of this kind: ap, lfp, aux, adc")
	return cmd
}

func NewSettingsCommand() *cobra.Command {
	var reconcile bool
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show desired and applied channel settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			if reconcile {
				if err := apiClient.Reconcile(); err != nil {
					return err
				}
			}
			snapshot, err := apiClient.Settings()
			if err != nil {
				return err
			}
			return printYaml(cmd.OutOrStdout(), snapshot)
		},
	}
	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "Transmit pending settings first")
	return cmd
}

func NewProbesCommand() *cobra.Command {
	var forget string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "probes",
		Short: "List probes with stored settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			if forget != "" {
				return apiClient.ForgetProbe(forget)
			}
			serials, err := apiClient.Probes()
			if err != nil {
				return err
			}
			for _, serial := range serials {
				fmt.Fprintln(cmd.OutOrStdout(), serial)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&forget, ForgetOptionName, "", "Delete stored settings of the probe with this serial number")
	return cmd
}
