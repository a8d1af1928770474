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

package set

import (
	"strconv"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-npx/pkg/command"
	"jinr.ru/greenlab/go-npx/pkg/config"
	"jinr.ru/greenlab/go-npx/pkg/device"
)

const (
	TransmitOptionName = "transmit"
	ApOptionName       = "ap"
	LfpOptionName      = "lfp"
	BankOptionName     = "bank"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change probe settings",
	}
	cmd.AddCommand(NewElectrodeCommand())
	cmd.AddCommand(NewReferenceCommand())
	cmd.AddCommand(NewReferencesCommand())
	cmd.AddCommand(NewGainCommand())
	cmd.AddCommand(NewGainsCommand())
	cmd.AddCommand(NewFilterCommand())
	cmd.AddCommand(NewOutputCommand())
	cmd.AddCommand(NewBandsCommand())
	cmd.AddCommand(NewTriggerCommand())
	cmd.AddCommand(NewRecordCommand())
	return cmd
}

func ints(args []string) ([]int, error) {
	values := make([]int, len(args))
	for i, arg := range args {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func onOff(arg string) bool {
	return arg == "on"
}

func NewElectrodeCommand() *cobra.Command {
	var transmit bool
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "electrode CHANNEL ELECTRODE",
		Short: "Connect a channel to an electrode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := ints(args)
			if err != nil {
				return err
			}
			return command.NewApiClient(cfg).SetElectrode(v[0], v[1], transmit)
		},
	}
	cmd.Flags().BoolVar(&transmit, TransmitOptionName, true, "Write to the probe now")
	return cmd
}

func NewReferenceCommand() *cobra.Command {
	var transmit bool
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "reference CHANNEL REFERENCE",
		Short: "Select the reference of a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := ints(args)
			if err != nil {
				return err
			}
			return command.NewApiClient(cfg).SetReference(v[0], v[1], transmit)
		},
	}
	cmd.Flags().BoolVar(&transmit, TransmitOptionName, true, "Write to the probe now")
	return cmd
}

func NewReferencesCommand() *cobra.Command {
	var transmit bool
	var bank int
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "references REFERENCE",
		Short: "Select the reference of every channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := ints(args)
			if err != nil {
				return err
			}
			return command.NewApiClient(cfg).SetAllReferences(v[0], bank, transmit)
		},
	}
	cmd.Flags().BoolVar(&transmit, TransmitOptionName, true, "Write to the probe now")
	cmd.Flags().IntVar(&bank, BankOptionName, 0, "Shank bank for options 3 and 4")
	return cmd
}

func NewGainCommand() *cobra.Command {
	var transmit bool
	var ap, lfp int
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "gain CHANNEL",
		Short: "Set AP and/or LFP gain of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := ints(args)
			if err != nil {
				return err
			}
			return command.NewApiClient(cfg).SetGain(v[0], ap, lfp, transmit)
		},
	}
	cmd.Flags().BoolVar(&transmit, TransmitOptionName, true, "Write to the probe now")
	cmd.Flags().IntVar(&ap, ApOptionName, device.DefaultApGain, "AP gain, one of 50, 125, 250, 500, 1000, 1500, 2000, 3000")
	cmd.Flags().IntVar(&lfp, LfpOptionName, device.DefaultLfpGain, "LFP gain, one of 50, 125, 250, 500, 1000, 1500, 2000, 3000")
	return cmd
}

func NewGainsCommand() *cobra.Command {
	var transmit bool
	var ap, lfp int
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "gains",
		Short: "Set the gain of every channel; a band without a flag is left unchanged",
		RunE: func(cmd *cobra.Command, args []string) error {
			return command.NewApiClient(cfg).SetAllGains(ap, lfp, transmit)
		},
	}
	cmd.Flags().BoolVar(&transmit, TransmitOptionName, true, "Write to the probe now")
	cmd.Flags().IntVar(&ap, ApOptionName, 0, "AP gain, one of 50, 125, 250, 500, 1000, 1500, 2000, 3000")
	cmd.Flags().IntVar(&lfp, LfpOptionName, 0, "LFP gain, one of 50, 125, 250, 500, 1000, 1500, 2000, 3000")
	return cmd
}

func NewFilterCommand() *cobra.Command {
	var transmit bool
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "filter FILTER",
		Short: "Set the AP high-pass filter of every channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := ints(args)
			if err != nil {
				return err
			}
			return command.NewApiClient(cfg).SetFilter(v[0], transmit)
		},
	}
	cmd.Flags().BoolVar(&transmit, TransmitOptionName, true, "Write to the probe now")
	return cmd
}

func NewOutputCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:       "output CHANNEL on|off",
		Short:     "Enable/disable a channel output",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := ints(args[:1])
			if err != nil {
				return err
			}
			return command.NewApiClient(cfg).SetOutput(v[0], onOff(args[1]))
		},
	}
	return cmd
}

func NewBandsCommand() *cobra.Command {
	var ap, lfp bool
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "bands",
		Short: "Toggle the AP and LFP streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			var apPtr, lfpPtr *bool
			if cmd.Flags().Changed(ApOptionName) {
				apPtr = &ap
			}
			if cmd.Flags().Changed(LfpOptionName) {
				lfpPtr = &lfp
			}
			return command.NewApiClient(cfg).SetBands(apPtr, lfpPtr)
		},
	}
	cmd.Flags().BoolVar(&ap, ApOptionName, true, "Send the AP band")
	cmd.Flags().BoolVar(&lfp, LfpOptionName, true, "Send the LFP band")
	return cmd
}

func NewTriggerCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:       "trigger internal|external",
		Short:     "Select the acquisition trigger",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"internal", "external"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return command.NewApiClient(cfg).SetTrigger(args[0] == "external")
		},
	}
	return cmd
}

func NewRecordCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:       "record on|off",
		Short:     "Enable/disable the hardware recording sink",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return command.NewApiClient(cfg).SetRecord(onOff(args[0]))
		},
	}
	return cmd
}
