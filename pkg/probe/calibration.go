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
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"jinr.ru/greenlab/go-npx/pkg/device"
	"jinr.ru/greenlab/go-npx/pkg/log"
)

const (
	CalibrationNone   = "none"
	CalibrationDevice = "device"
	CalibrationFile   = "file"
	CalibrationStored = "stored"
)

type CalibrationStatus struct {
	Source   string `json:"source"`
	Path     string `json:"path,omitempty"`
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

// CalibrationController loads gain correction coefficients and keeps the
// last good set. A failed attempt never replaces it.
type CalibrationController struct {
	sh   *Shared
	conn *ConnectionManager

	// guarded by sh
	coefs   []device.Coefficient
	status  CalibrationStatus
	onApply func(coefs []device.Coefficient)
}

func NewCalibrationController(sh *Shared, conn *ConnectionManager) *CalibrationController {
	c := &CalibrationController{
		sh:     sh,
		conn:   conn,
		status: CalibrationStatus{Source: CalibrationNone, Degraded: true},
	}
	conn.AddHook(c.reset)
	return c
}

func (c *CalibrationController) reset(id *device.Identity) {
	c.coefs = nil
	c.status = CalibrationStatus{Source: CalibrationNone, Degraded: true}
}

// OnApply registers a callback run with the lock held after coefficients
// were applied.
func (c *CalibrationController) OnApply(fn func(coefs []device.Coefficient)) {
	c.sh.Lock()
	defer c.sh.Unlock()
	c.onApply = fn
}

// begin moves Connected to Configuring so acquisition can not start while
// the coefficients are being read.
func (c *CalibrationController) begin(op string) (int, error) {
	c.sh.Lock()
	defer c.sh.Unlock()
	if c.sh.identity == nil {
		return 0, ErrNotConnected{Op: op}
	}
	if c.sh.state != Connected {
		return 0, ErrWrongState{Op: op, State: c.sh.state}
	}
	c.sh.setState(Configuring)
	return c.sh.identity.TotalChans, nil
}

func (c *CalibrationController) finish(op, source, path string, coefs []device.Coefficient, err error) error {
	c.sh.Lock()
	defer c.sh.Unlock()
	if c.sh.state != Configuring {
		// closed while reading
		return ErrNotConnected{Op: op}
	}
	c.sh.setState(Connected)
	if err != nil {
		c.status.Degraded = true
		c.status.Error = err.Error()
		log.Warning("Calibration from %s failed, data accuracy is degraded: %s", source, err)
		return err
	}
	c.coefs = coefs
	c.status = CalibrationStatus{Source: source, Path: path}
	if c.onApply != nil {
		c.onApply(coefs)
	}
	log.Info("Calibration from %s applied to %d channels", source, len(coefs))
	return nil
}

// CalibrateFromDevice reads the coefficients stored on the probe EEPROM.
func (c *CalibrationController) CalibrateFromDevice() error {
	const op = "calibrate from device"
	total, err := c.begin(op)
	if err != nil {
		return err
	}
	coefs, err := c.conn.Transport().ReadCalibration()
	if err == nil {
		err = checkCoefficients(coefs, total)
	}
	return c.finish(op, CalibrationDevice, "", coefs, err)
}

// CalibrateFromFile reads a table with one "ap lfp" row per channel.
func (c *CalibrationController) CalibrateFromFile(path string) error {
	const op = "calibrate from file"
	total, err := c.begin(op)
	if err != nil {
		return err
	}
	var coefs []device.Coefficient
	f, err := os.Open(path)
	if err == nil {
		coefs, err = ParseCalibration(f, total)
		f.Close()
	}
	return c.finish(op, CalibrationFile, path, coefs, err)
}

// Restore applies coefficients kept from an earlier session.
func (c *CalibrationController) Restore(coefs []device.Coefficient) error {
	c.sh.Lock()
	defer c.sh.Unlock()
	if c.sh.identity == nil {
		return ErrNotConnected{Op: "restore calibration"}
	}
	if err := checkCoefficients(coefs, c.sh.identity.TotalChans); err != nil {
		return err
	}
	c.coefs = coefs
	c.status = CalibrationStatus{Source: CalibrationStored}
	return nil
}

func (c *CalibrationController) Status() CalibrationStatus {
	c.sh.Lock()
	defer c.sh.Unlock()
	return c.status
}

func (c *CalibrationController) Coefficients() []device.Coefficient {
	c.sh.Lock()
	defer c.sh.Unlock()
	return append([]device.Coefficient(nil), c.coefs...)
}

// coefficientLocked returns the correction for ch, 1 when uncalibrated.
func (c *CalibrationController) coefficientLocked(ch int) device.Coefficient {
	if ch < len(c.coefs) {
		return c.coefs[ch]
	}
	return device.Coefficient{Ap: 1, Lfp: 1}
}

func (c *CalibrationController) degradedLocked() bool {
	return c.status.Degraded
}

func checkCoefficients(coefs []device.Coefficient, total int) error {
	if len(coefs) != total {
		return ErrCalibrationFormat{What: fmt.Sprintf("%d rows for %d channels", len(coefs), total)}
	}
	for i, coef := range coefs {
		if !validFactor(coef.Ap) || !validFactor(coef.Lfp) {
			return ErrCalibrationFormat{What: fmt.Sprintf("channel %d has a non positive factor", i)}
		}
	}
	return nil
}

func validFactor(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func isSeparator(r rune) bool {
	return r == ',' || r == ';' || r == ' ' || r == '\t'
}

// ParseCalibration reads one row per channel with the AP and LFP correction
// factors. Blank lines and lines starting with # are skipped.
func ParseCalibration(r io.Reader, totalChans int) ([]device.Coefficient, error) {
	var coefs []device.Coefficient
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cols := strings.FieldsFunc(text, isSeparator)
		if len(cols) != 2 {
			return nil, ErrCalibrationFormat{Line: line, What: fmt.Sprintf("expected 2 columns, got %d", len(cols))}
		}
		ap, err := strconv.ParseFloat(cols[0], 64)
		if err != nil {
			return nil, ErrCalibrationFormat{Line: line, What: fmt.Sprintf("bad AP factor %q", cols[0])}
		}
		lfp, err := strconv.ParseFloat(cols[1], 64)
		if err != nil {
			return nil, ErrCalibrationFormat{Line: line, What: fmt.Sprintf("bad LFP factor %q", cols[1])}
		}
		if !validFactor(ap) || !validFactor(lfp) {
			return nil, ErrCalibrationFormat{Line: line, What: "factors must be positive"}
		}
		coefs = append(coefs, device.Coefficient{Ap: ap, Lfp: lfp})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(coefs) != totalChans {
		return nil, ErrCalibrationFormat{What: fmt.Sprintf("%d rows for %d channels", len(coefs), totalChans)}
	}
	return coefs, nil
}
