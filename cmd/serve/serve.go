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

package serve

import (
	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-npx/pkg/command"
	"jinr.ru/greenlab/go-npx/pkg/config"
)

const (
	TransportOptionName = "transport"
	AddressOptionName   = "address"
	ConnectOptionName   = "connect"
	PortOptionName      = "port"
)

func NewCommand() *cobra.Command {
	var transport, address string
	var port int
	var connect bool
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the acquisition API server for one probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			if transport != "" {
				cfg.Device.Transport = transport
			}
			if address != "" {
				cfg.Device.Address = address
			}
			if port != 0 {
				cfg.Api.Port = port
			}
			return command.StartApiServer(cfg, connect)
		},
	}
	cmd.Flags().StringVar(&transport, TransportOptionName, "", "Basestation transport. Must be one of: sim, udp")
	cmd.Flags().StringVar(&address, AddressOptionName, "", "Basestation address for the udp transport. E.g. "+config.DefaultDeviceAddress)
	cmd.Flags().IntVar(&port, PortOptionName, 0, "API port")
	cmd.Flags().BoolVar(&connect, ConnectOptionName, false, "Open the basestation link on startup")

	return cmd
}
