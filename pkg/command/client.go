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

package command

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/imroc/req"

	"jinr.ru/greenlab/go-npx/pkg/config"
	"jinr.ru/greenlab/go-npx/pkg/probe"
	"jinr.ru/greenlab/go-npx/pkg/srv"
)

// ErrApi returned when the server answers with a non 200 status
type ErrApi struct {
	Status  string
	Message string
}

func (e ErrApi) Error() string {
	if e.Message == "" {
		return e.Status
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

type ApiClient struct {
	*config.Config
	ApiPrefix string
}

func NewApiClient(cfg *config.Config) *ApiClient {
	return &ApiClient{
		Config:    cfg,
		ApiPrefix: fmt.Sprintf("http://%s/api", cfg.ApiAddr()),
	}
}

func (c *ApiClient) url(format string, a ...interface{}) string {
	return c.ApiPrefix + fmt.Sprintf(format, a...)
}

func check(r *req.Resp) error {
	if r.Response().StatusCode != http.StatusOK {
		return ErrApi{
			Status:  r.Response().Status,
			Message: strings.TrimSpace(r.String()),
		}
	}
	return nil
}

func (c *ApiClient) get(url string, v interface{}) error {
	r, err := req.Get(url)
	if err != nil {
		return err
	}
	if err := check(r); err != nil {
		return err
	}
	return r.ToJSON(v)
}

func (c *ApiClient) post(url string, body interface{}) error {
	var r *req.Resp
	var err error
	if body != nil {
		r, err = req.Post(url, req.BodyJSON(body))
	} else {
		r, err = req.Post(url)
	}
	if err != nil {
		return err
	}
	return check(r)
}

// Connect asks the server to open the basestation link
func (c *ApiClient) Connect() error {
	return c.post(c.url("/connect"), nil)
}

func (c *ApiClient) Disconnect() error {
	return c.post(c.url("/disconnect"), nil)
}

func (c *ApiClient) Info() (*probe.Info, error) {
	info := &probe.Info{}
	if err := c.get(c.url("/info"), info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *ApiClient) Status() (*probe.Status, error) {
	status := &probe.Status{}
	if err := c.get(c.url("/status"), status); err != nil {
		return nil, err
	}
	return status, nil
}

// Acquisition sends start or stop
func (c *ApiClient) Acquisition(action string) error {
	if action != "start" && action != "stop" {
		return errors.New("action must be one of start/stop")
	}
	return c.post(c.url("/acq/%s", action), nil)
}

func (c *ApiClient) Channels() ([]probe.ChannelInfo, error) {
	var infos []probe.ChannelInfo
	if err := c.get(c.url("/channels"), &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *ApiClient) Settings() (*probe.TableSnapshot, error) {
	snapshot := &probe.TableSnapshot{}
	if err := c.get(c.url("/settings"), snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (c *ApiClient) Reconcile() error {
	return c.post(c.url("/settings/reconcile"), nil)
}

func (c *ApiClient) SetElectrode(channel, electrode int, transmit bool) error {
	return c.post(c.url("/set/electrode"), &srv.ChannelValue{Channel: channel, Value: electrode, Transmit: transmit})
}

func (c *ApiClient) SetReference(channel, reference int, transmit bool) error {
	return c.post(c.url("/set/reference"), &srv.ChannelValue{Channel: channel, Value: reference, Transmit: transmit})
}

func (c *ApiClient) SetAllReferences(reference, bank int, transmit bool) error {
	return c.post(c.url("/set/references"), &srv.References{Reference: reference, Bank: bank, Transmit: transmit})
}

func (c *ApiClient) SetGain(channel, ap, lfp int, transmit bool) error {
	return c.post(c.url("/set/gain"), &srv.Gain{Channel: channel, Ap: ap, Lfp: lfp, Transmit: transmit})
}

// SetAllGains sets the gain of every channel; zero leaves a band unchanged
func (c *ApiClient) SetAllGains(ap, lfp int, transmit bool) error {
	return c.post(c.url("/set/gains"), &srv.AllGains{Ap: ap, Lfp: lfp, Transmit: transmit})
}

func (c *ApiClient) SetFilter(filter int, transmit bool) error {
	return c.post(c.url("/set/filter"), &srv.Filter{Filter: filter, Transmit: transmit})
}

func (c *ApiClient) SetOutput(channel int, on bool) error {
	return c.post(c.url("/set/output"), &srv.Output{Channel: channel, On: on})
}

func (c *ApiClient) SetBands(ap, lfp *bool) error {
	return c.post(c.url("/set/bands"), &srv.Bands{Ap: ap, Lfp: lfp})
}

func (c *ApiClient) SetTrigger(external bool) error {
	return c.post(c.url("/set/trigger"), &srv.Switch{On: external})
}

func (c *ApiClient) SetRecord(on bool) error {
	return c.post(c.url("/set/record"), &srv.Switch{On: on})
}

func (c *ApiClient) CalibrateFromDevice() error {
	return c.post(c.url("/calibrate/device"), nil)
}

func (c *ApiClient) CalibrateFromFile(path string) error {
	return c.post(c.url("/calibrate/file"), &srv.CalibrationFile{Path: path})
}

func (c *ApiClient) Probes() ([]string, error) {
	var serials []string
	if err := c.get(c.url("/probes"), &serials); err != nil {
		return nil, err
	}
	return serials, nil
}

func (c *ApiClient) ForgetProbe(serial string) error {
	r, err := req.Delete(c.url("/probes/%s", serial))
	if err != nil {
		return err
	}
	return check(r)
}
