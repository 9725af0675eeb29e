// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/gin-gonic/gin"
)

//go:embed openapi.yaml
var openAPIDocument []byte

// OpenAPIDocument возвращает встроенное описание API
func OpenAPIDocument() []byte {
	return openAPIDocument
}

// ValidationError описание ошибки валидации
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// OpenAPIValidator валидатор HTTP запросов по OpenAPI описанию
type OpenAPIValidator struct {
	doc    *openapi3.T
	router routers.Router
}

// NewOpenAPIValidator загружает описание из data и создает валидатор
func NewOpenAPIValidator(data []byte) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	return &OpenAPIValidator{doc: doc, router: router}, nil
}

// Document возвращает загруженное описание
func (v *OpenAPIValidator) Document() *openapi3.T {
	return v.doc
}

// ValidateRequest проверяет запрос. Маршруты, отсутствующие в описании, пропускаются.
func (v *OpenAPIValidator) ValidateRequest(ctx context.Context, req *http.Request) error {
	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		var routeErr *routers.RouteError
		if errors.As(err, &routeErr) {
			return nil
		}
		return fmt.Errorf("route lookup failed: %w", err)
	}

	input := &openapi3filter.RequestValidationInput{
		Request:     req,
		PathParams:  pathParams,
		Route:       route,
		QueryParams: req.URL.Query(),
		Options:     &openapi3filter.Options{MultiError: true},
	}
	return openapi3filter.ValidateRequest(ctx, input)
}

// Middleware возвращает Gin middleware валидации запросов
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.ValidateRequest(c.Request.Context(), c.Request); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_failed",
				Code:    "VALIDATION_FAILED",
				Details: formatValidationError(err),
			})
			return
		}
		c.Next()
	}
}

func formatValidationError(err error) []ValidationError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		out := make([]ValidationError, 0, len(multi))
		for _, e := range multi {
			out = append(out, validationError(e))
		}
		return out
	}
	return []ValidationError{validationError(err)}
}

func validationError(err error) ValidationError {
	ve := ValidationError{Message: err.Error()}

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) && reqErr.Parameter != nil {
		ve.Field = reqErr.Parameter.Name
	}
	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		if pointer := schemaErr.JSONPointer(); len(pointer) > 0 {
			ve.Field = strings.Join(pointer, ".")
		}
		ve.Message = schemaErr.Reason
	}
	return ve
}
