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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"gopkg.in/yaml.v2"
)

// ErrConfigFileExists returned by Persist when the file is already there and
// overwriting is not allowed
type ErrConfigFileExists struct {
	Path string
}

func (e ErrConfigFileExists) Error() string {
	return fmt.Sprintf("Config file already exists: %s", e.Path)
}

type ApiConfig struct {
	Address string `json:"address" yaml:"address" koanf:"address"`
	Port    int    `json:"port" yaml:"port" koanf:"port"`
}

type DeviceConfig struct {
	// Transport is one of sim, udp
	Transport           string        `json:"transport" yaml:"transport" koanf:"transport"`
	Address             string        `json:"address" yaml:"address" koanf:"address"`
	OpenTimeout         time.Duration `json:"open_timeout" yaml:"open_timeout" koanf:"open_timeout"`
	PullTimeout         time.Duration `json:"pull_timeout" yaml:"pull_timeout" koanf:"pull_timeout"`
	FaultThreshold      int           `json:"fault_threshold" yaml:"fault_threshold" koanf:"fault_threshold"`
	TriggerPollInterval time.Duration `json:"trigger_poll_interval" yaml:"trigger_poll_interval" koanf:"trigger_poll_interval"`
	TriggerDelay        time.Duration `json:"trigger_delay" yaml:"trigger_delay" koanf:"trigger_delay"`
	RecordDir           string        `json:"record_dir" yaml:"record_dir" koanf:"record_dir"`
	RingFrames          int           `json:"ring_frames" yaml:"ring_frames" koanf:"ring_frames"`
}

type SimulatorConfig struct {
	Option        int    `json:"option" yaml:"option" koanf:"option"`
	TotalChans    int    `json:"total_chans" yaml:"total_chans" koanf:"total_chans"`
	PacketSamples int    `json:"packet_samples" yaml:"packet_samples" koanf:"packet_samples"`
	Serial        uint64 `json:"serial" yaml:"serial" koanf:"serial"`
}

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level" koanf:"log_level"`
	DBPath    string          `json:"db_path" yaml:"db_path" koanf:"db_path"`
	Api       ApiConfig       `json:"api" yaml:"api" koanf:"api"`
	Device    DeviceConfig    `json:"device" yaml:"device" koanf:"device"`
	Simulator SimulatorConfig `json:"simulator" yaml:"simulator" koanf:"simulator"`
	filepath  string
}

func (c *Config) Path() string {
	return c.filepath
}

func (c *Config) SetPath(path string) {
	c.filepath = path
}

func (c *Config) ApiAddr() string {
	return fmt.Sprintf("%s:%d", c.Api.Address, c.Api.Port)
}

func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.filepath); err == nil && !overwrite {
		return ErrConfigFileExists{Path: c.filepath}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.filepath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	return os.WriteFile(c.filepath, data, 0644)
}

// Load layers the current values (defaults), the YAML file and NPX_*
// environment variables, in that order. A missing file is not an error.
// NPX_DEVICE__PULL_TIMEOUT=200ms sets device.pull_timeout.
func (c *Config) Load() error {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(*c, "koanf"), nil); err != nil {
		return err
	}
	if err := k.Load(file.Provider(c.filepath), kyaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading config %s: %w", c.filepath, err)
		}
	}
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(key, "__", ".", -1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return err
	}
	path := c.filepath
	if err := k.UnmarshalWithConf("", c, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return err
	}
	c.filepath = path
	return nil
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, ConfigFile)
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, DBFile)
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		DBPath:   DefaultDBPath(),
		Api: ApiConfig{
			Address: DefaultApiAddress,
			Port:    DefaultApiPort,
		},
		Device: DeviceConfig{
			Transport:           DefaultTransport,
			Address:             DefaultDeviceAddress,
			OpenTimeout:         DefaultOpenTimeout,
			PullTimeout:         DefaultPullTimeout,
			FaultThreshold:      DefaultFaultThreshold,
			TriggerPollInterval: DefaultTriggerPollInterval,
			TriggerDelay:        DefaultTriggerDelay,
			RecordDir:           DefaultRecordDir,
			RingFrames:          DefaultRingFrames,
		},
		Simulator: SimulatorConfig{
			Option:        DefaultSimOption,
			TotalChans:    DefaultSimTotalChans,
			PacketSamples: DefaultSimPacketSamples,
			Serial:        DefaultSimSerial,
		},
		filepath: DefaultConfigPath(),
	}
}
