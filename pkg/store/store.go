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

package store

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/log"
	"jinr.ru/greenlab/go-npx/pkg/probe"
)

const (
	BucketNamePrefix = "probe_"
	settingsKey      = "settings"
	calibrationKey   = "calibration"
)

// ErrBucketNotFound returned when nothing was stored for a probe yet
type ErrBucketNotFound struct {
	Name string
}

func (e ErrBucketNotFound) Error() string {
	return fmt.Sprintf("Bucket not found: %s", e.Name)
}

// ProbeState keeps the desired settings and the calibration of every probe
// ever connected, one bucket per probe serial number.
type ProbeState struct {
	context.Context
	DB *bbolt.DB
}

var _ probe.SettingsStore = &ProbeState{}

func NewProbeState(ctx context.Context, path string) (*ProbeState, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	return &ProbeState{
		Context: ctx,
		DB:      db,
	}, nil
}

func bucketName(serial string) string {
	return fmt.Sprintf("%s%s", BucketNamePrefix, serial)
}

// Close ...
func (s *ProbeState) Close() error {
	return s.DB.Close()
}

func (s *ProbeState) put(serial, key string, value interface{}) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName(serial)))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// get decodes the stored value into out. It reports false when the probe
// or the key is unknown.
func (s *ProbeState) get(serial, key string, out interface{}) (bool, error) {
	var data []byte
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName(serial)))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s of probe %s: %w", key, serial, err)
	}
	return true, nil
}

func (s *ProbeState) SaveSettings(serial string, t *probe.Table) error {
	log.Debug("Saving settings of probe %s", serial)
	return s.put(serial, settingsKey, t)
}

// LoadSettings returns nil without an error for an unknown probe.
func (s *ProbeState) LoadSettings(serial string) (*probe.Table, error) {
	t := &probe.Table{}
	ok, err := s.get(serial, settingsKey, t)
	if err != nil || !ok {
		return nil, err
	}
	return t, nil
}

func (s *ProbeState) SaveCalibration(serial string, coefs []device.Coefficient) error {
	log.Debug("Saving calibration of probe %s", serial)
	return s.put(serial, calibrationKey, coefs)
}

// LoadCalibration returns nil without an error for an unknown probe.
func (s *ProbeState) LoadCalibration(serial string) ([]device.Coefficient, error) {
	var coefs []device.Coefficient
	ok, err := s.get(serial, calibrationKey, &coefs)
	if err != nil || !ok {
		return nil, err
	}
	return coefs, nil
}

// Probes lists the serial numbers with stored state.
func (s *ProbeState) Probes() ([]string, error) {
	var serials []string
	err := s.DB.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if len(name) > len(BucketNamePrefix) && string(name[:len(BucketNamePrefix)]) == BucketNamePrefix {
				serials = append(serials, string(name[len(BucketNamePrefix):]))
			}
			return nil
		})
	})
	return serials, err
}

// Forget drops everything stored for a probe.
func (s *ProbeState) Forget(serial string) error {
	return s.DB.Update(func(tx *bbolt.Tx) error {
		name := []byte(bucketName(serial))
		if tx.Bucket(name) == nil {
			return ErrBucketNotFound{Name: bucketName(serial)}
		}
		return tx.DeleteBucket(name)
	})
}
