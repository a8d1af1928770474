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

package srv

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/go-openapi/loads"
	"github.com/go-openapi/runtime/middleware"

	"jinr.ru/greenlab/go-npx/pkg/log"
)

//go:embed swagger.json
var swaggerJSON []byte

// configureDocs serves the API description at /swagger.json and renders it
// at /docs
func (s *ApiServer) configureDocs() error {
	doc, err := loads.Analyzed(json.RawMessage(swaggerJSON), "")
	if err != nil {
		return err
	}
	log.Debug("API description: %s %s, %d paths", doc.Spec().Info.Title, doc.Version(), len(doc.Spec().Paths.Paths))

	notFound := http.NotFoundHandler()
	docs := middleware.Redoc(middleware.RedocOpts{
		BasePath: "/",
		Path:     "docs",
		SpecURL:  "/swagger.json",
		Title:    doc.Spec().Info.Title,
	}, notFound)
	s.Router.Handle("/swagger.json", middleware.Spec("/", doc.Raw(), notFound)).Methods("GET")
	s.Router.Handle("/docs", docs).Methods("GET")
	return nil
}
