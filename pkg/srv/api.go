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

// go-npx API
//
// # RESTful APIs to interact with the go-npx acquisition server
//
// Schemes: http
// Host: localhost:8010
// Version: 1.0.0
//
//	Consumes:
//	- application/json
//
//	Produces:
//	- application/json
//
// swagger:meta
package srv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"jinr.ru/greenlab/go-npx/pkg/config"
	"jinr.ru/greenlab/go-npx/pkg/log"
	"jinr.ru/greenlab/go-npx/pkg/probe"
	"jinr.ru/greenlab/go-npx/pkg/store"
)

// Success response
// swagger:response okResp
type RespOk struct {
	// in:body
	Body struct {
		// HTTP status code 200 - OK
		Code int `json:"code"`
	}
}

// Error Bad Request
// swagger:response badReq
type ReqBadRequest struct {
	// in:body
	Body struct {
		// HTTP status code 400 -  Bad Request
		Code int `json:"code"`
	}
}

type ApiServer struct {
	context.Context
	*config.Config
	*mux.Router
	src     *probe.Source
	state   *store.ProbeState
	monitor atomic.Bool
}

// NewApiServer serves src. state may be nil when settings are not persisted.
func NewApiServer(ctx context.Context, cfg *config.Config, src *probe.Source, state *store.ProbeState) (*ApiServer, error) {
	log.Info("Initializing API server with address: %s", cfg.ApiAddr())
	s := &ApiServer{
		Context: ctx,
		Config:  cfg,
		src:     src,
		state:   state,
	}
	if err := s.configureRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler wraps the router with access logging and panic recovery
func (s *ApiServer) Handler() http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(handlers.LoggingHandler(log.Writer(log.DebugLevel), s.Router))
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error("Panic while handling request: %v", v)
}

// Run serves the API until the context is done
func (s *ApiServer) Run() error {
	log.Info("Starting API server: %s", s.Config.ApiAddr())
	httpServer := &http.Server{
		Handler:           s.Handler(),
		Addr:              s.Config.ApiAddr(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-s.Context.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}()
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *ApiServer) configureRouter() error {
	s.Router = mux.NewRouter()
	subRouter := s.Router.PathPrefix("/api").Subrouter()
	// swagger:operation GET /api/info info
	// ---
	// summary: basestation and probe identity
	// responses:
	//   "200":
	//     "$ref": "#/responses/okResp"
	subRouter.HandleFunc("/info", s.handleInfo()).Methods("GET")
	subRouter.HandleFunc("/status", s.handleStatus()).Methods("GET")
	subRouter.HandleFunc("/{action:connect|disconnect}", s.handleConnection()).Methods("POST")
	// swagger:operation POST /api/acq/{action} acquisition
	// ---
	// summary: start or stop acquisition
	// responses:
	//   "200":
	//     "$ref": "#/responses/okResp"
	//   "409":
	//     "$ref": "#/responses/badReq"
	subRouter.HandleFunc("/acq/{action:start|stop}", s.handleAcquisition()).Methods("POST")
	subRouter.HandleFunc("/channels", s.handleChannels()).Methods("GET")
	subRouter.HandleFunc("/bitvolts/{index:[0-9]+}", s.handleBitVolts()).Methods("GET")
	subRouter.HandleFunc("/settings", s.handleSettings()).Methods("GET")
	subRouter.HandleFunc("/settings/reconcile", s.handleReconcile()).Methods("POST")
	subRouter.HandleFunc("/set/electrode", s.handleSetElectrode()).Methods("POST")
	subRouter.HandleFunc("/set/reference", s.handleSetReference()).Methods("POST")
	subRouter.HandleFunc("/set/references", s.handleSetReferences()).Methods("POST")
	subRouter.HandleFunc("/set/gain", s.handleSetGain()).Methods("POST")
	subRouter.HandleFunc("/set/gains", s.handleSetGains()).Methods("POST")
	subRouter.HandleFunc("/set/filter", s.handleSetFilter()).Methods("POST")
	subRouter.HandleFunc("/set/output", s.handleSetOutput()).Methods("POST")
	subRouter.HandleFunc("/set/bands", s.handleSetBands()).Methods("POST")
	subRouter.HandleFunc("/set/trigger", s.handleSetTrigger()).Methods("POST")
	subRouter.HandleFunc("/set/record", s.handleSetRecord()).Methods("POST")
	subRouter.HandleFunc("/calibrate/device", s.handleCalibrateDevice()).Methods("POST")
	subRouter.HandleFunc("/calibrate/file", s.handleCalibrateFile()).Methods("POST")
	subRouter.HandleFunc("/probes", s.handleProbes()).Methods("GET")
	subRouter.HandleFunc("/probes/{serial:[0-9a-f]+}", s.handleForgetProbe()).Methods("DELETE")
	subRouter.HandleFunc("/monitor", s.handleMonitor()).Methods("GET")
	return s.configureDocs()
}

func fail(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	log.Debug("Request failed with %d: %s", code, err)
	http.Error(w, err.Error(), code)
}

// decode reads the JSON body into v and answers 400 on failure
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// done answers 200 or maps err
func done(w http.ResponseWriter, err error) {
	if err != nil {
		fail(w, err)
		return
	}
	reply(w, map[string]int{"code": http.StatusOK})
}

func (s *ApiServer) handleInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := s.src.Info()
		if err != nil {
			fail(w, err)
			return
		}
		reply(w, info)
	}
}

func (s *ApiServer) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply(w, s.src.Status())
	}
}

func (s *ApiServer) handleConnection() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		log.Debug("Handling %s request", vars["action"])
		switch vars["action"] {
		case "connect":
			done(w, s.src.Open(r.Context()))
		case "disconnect":
			done(w, s.src.Close())
		}
	}
}

func (s *ApiServer) handleAcquisition() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		log.Debug("Handling acquisition request: action: %s", vars["action"])
		switch vars["action"] {
		case "start":
			done(w, s.src.StartAcquisition())
		case "stop":
			done(w, s.src.StopAcquisition())
		default:
			fail(w, ErrUnknownOperation{What: "acquisition action must be one of start/stop"})
		}
	}
}

func (s *ApiServer) handleChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := s.src.UpdateChannels()
		if infos == nil {
			fail(w, probe.ErrNotConnected{Op: "list channels"})
			return
		}
		reply(w, infos)
	}
}

func (s *ApiServer) handleBitVolts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(mux.Vars(r)["index"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		bv, err := s.src.BitVolts(index)
		if err != nil {
			fail(w, err)
			return
		}
		reply(w, BitVolts{Index: index, BitVolts: bv})
	}
}

func (s *ApiServer) handleSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := s.src.Channels.Snapshot()
		if err != nil {
			fail(w, err)
			return
		}
		reply(w, snapshot)
	}
}

func (s *ApiServer) handleReconcile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		done(w, s.src.Channels.Reconcile())
	}
}

func (s *ApiServer) handleSetElectrode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &ChannelValue{}
		if !decode(w, r, req) {
			return
		}
		done(w, s.src.Channels.SetElectrode(req.Channel, req.Value, req.Transmit))
	}
}

func (s *ApiServer) handleSetReference() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &ChannelValue{}
		if !decode(w, r, req) {
			return
		}
		done(w, s.src.Channels.SetReference(req.Channel, req.Value, req.Transmit))
	}
}

func (s *ApiServer) handleSetReferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &References{}
		if !decode(w, r, req) {
			return
		}
		done(w, s.src.Channels.SetAllReferences(req.Reference, req.Bank, req.Transmit))
	}
}

func (s *ApiServer) handleSetGain() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &Gain{}
		if !decode(w, r, req) {
			return
		}
		done(w, s.src.Channels.SetGain(req.Channel, req.Ap, req.Lfp, req.Transmit))
	}
}

func (s *ApiServer) handleSetGains() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &AllGains{}
		if !decode(w, r, req) {
			return
		}
		if req.Ap == 0 && req.Lfp == 0 {
			http.Error(w, "ap or lfp gain is required", http.StatusBadRequest)
			return
		}
		var errs []error
		if req.Ap != 0 {
			errs = append(errs, s.src.Channels.SetAllApGains(req.Ap, req.Transmit))
		}
		if req.Lfp != 0 {
			errs = append(errs, s.src.Channels.SetAllLfpGains(req.Lfp, req.Transmit))
		}
		done(w, errors.Join(errs...))
	}
}

func (s *ApiServer) handleSetFilter() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &Filter{}
		if !decode(w, r, req) {
			return
		}
		done(w, s.src.Channels.SetFilter(req.Filter, req.Transmit))
	}
}

func (s *ApiServer) handleSetOutput() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &Output{}
		if !decode(w, r, req) {
			return
		}
		done(w, s.src.Channels.SetOutput(req.Channel, req.On))
	}
}

func (s *ApiServer) handleSetBands() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &Bands{}
		if !decode(w, r, req) {
			return
		}
		if req.Ap != nil {
			s.src.ToggleApData(*req.Ap)
		}
		if req.Lfp != nil {
			s.src.ToggleLfpData(*req.Lfp)
		}
		done(w, nil)
	}
}

func (s *ApiServer) handleSetTrigger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &Switch{}
		if !decode(w, r, req) {
			return
		}
		s.src.SetTriggerMode(req.On)
		done(w, nil)
	}
}

func (s *ApiServer) handleSetRecord() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &Switch{}
		if !decode(w, r, req) {
			return
		}
		done(w, s.src.SetRecordMode(req.On))
	}
}

func (s *ApiServer) handleCalibrateDevice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		done(w, s.src.Calibration.CalibrateFromDevice())
	}
}

func (s *ApiServer) handleCalibrateFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &CalibrationFile{}
		if !decode(w, r, req) {
			return
		}
		if req.Path == "" {
			http.Error(w, "path is required", http.StatusBadRequest)
			return
		}
		done(w, s.src.Calibration.CalibrateFromFile(req.Path))
	}
}

func (s *ApiServer) handleProbes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.state == nil {
			fail(w, ErrStoreDisabled{})
			return
		}
		serials, err := s.state.Probes()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if serials == nil {
			serials = []string{}
		}
		reply(w, serials)
	}
}

func (s *ApiServer) handleForgetProbe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.state == nil {
			fail(w, ErrStoreDisabled{})
			return
		}
		serial := mux.Vars(r)["serial"]
		if err := s.state.Forget(serial); err != nil {
			var notFound store.ErrBucketNotFound
			if errors.As(err, &notFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		done(w, nil)
	}
}
